package testing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amp-labs/osf-moderation/actions"
)

// Matcher errors.
var (
	ErrTransitionNotTaken = errors.New("transition was not taken")
	ErrTriggerNotRecorded = errors.New("trigger was not recorded")
	ErrActionCount        = errors.New("unexpected action count")
	ErrTriggerSequence    = errors.New("unexpected trigger sequence")
)

// Matcher checks a list of action records.
type Matcher interface {
	Match(records []actions.Record) (bool, error)
	Description() string
}

// TransitionWasTaken matches when some record moved from -> to.
func TransitionWasTaken(from, to string) Matcher {
	return &transitionTakenMatcher{from: from, to: to}
}

type transitionTakenMatcher struct {
	from string
	to   string
}

func (m *transitionTakenMatcher) Match(records []actions.Record) (bool, error) {
	for _, r := range records {
		if r.FromState == m.from && r.ToState == m.to {
			return true, nil
		}
	}

	return false, fmt.Errorf("%w: '%s' -> '%s'", ErrTransitionNotTaken, m.from, m.to)
}

func (m *transitionTakenMatcher) Description() string {
	return fmt.Sprintf("transition '%s' -> '%s' should be taken", m.from, m.to)
}

// TriggerRecordedBy matches when trigger was recorded with creator userID.
func TriggerRecordedBy(trigger, userID string) Matcher {
	return &triggerRecordedMatcher{trigger: trigger, userID: userID}
}

type triggerRecordedMatcher struct {
	trigger string
	userID  string
}

func (m *triggerRecordedMatcher) Match(records []actions.Record) (bool, error) {
	for _, r := range records {
		if r.Trigger == m.trigger && r.CreatorID == m.userID {
			return true, nil
		}
	}

	return false, fmt.Errorf("%w: '%s' by '%s'", ErrTriggerNotRecorded, m.trigger, m.userID)
}

func (m *triggerRecordedMatcher) Description() string {
	return fmt.Sprintf("trigger '%s' should be recorded by '%s'", m.trigger, m.userID)
}

// ActionCount matches when exactly n records exist.
func ActionCount(n int) Matcher {
	return actionCountMatcher(n)
}

type actionCountMatcher int

func (m actionCountMatcher) Match(records []actions.Record) (bool, error) {
	if len(records) == int(m) {
		return true, nil
	}

	return false, fmt.Errorf("%w: got %d, want %d", ErrActionCount, len(records), int(m))
}

func (m actionCountMatcher) Description() string {
	return fmt.Sprintf("%d actions should be recorded", int(m))
}

// TriggerSequence matches when the recorded triggers are exactly triggers.
func TriggerSequence(triggers ...string) Matcher {
	return triggerSequenceMatcher(triggers)
}

type triggerSequenceMatcher []string

func (m triggerSequenceMatcher) Match(records []actions.Record) (bool, error) {
	got := make([]string, 0, len(records))
	for _, r := range records {
		got = append(got, r.Trigger)
	}

	if strings.Join(got, ",") == strings.Join(m, ",") {
		return true, nil
	}

	return false, fmt.Errorf("%w: got [%s]", ErrTriggerSequence, strings.Join(got, " "))
}

func (m triggerSequenceMatcher) Description() string {
	return fmt.Sprintf("triggers should be [%s]", strings.Join(m, " "))
}
