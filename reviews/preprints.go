package reviews

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/permissions"
	"github.com/amp-labs/osf-moderation/statemachine"
	"github.com/amp-labs/osf-moderation/store"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

// Publication requirements.
var (
	ErrNoPrimaryFile = errors.New("preprint has no primary file and cannot be published")
	ErrNoProvider    = errors.New("preprint has no provider and cannot be published")
	ErrNoSubjects    = errors.New("preprint has no subjects and cannot be published")
)

// PreprintSubject is a preprint with its provider, loaded in one transaction.
type PreprintSubject struct {
	Preprint *models.Preprint
	Provider *models.Provider

	tx store.Tx
}

type (
	preprintEvent = statemachine.Event[*PreprintSubject, wf.ReviewState]
	preprintGuard = statemachine.Guard[*PreprintSubject, wf.ReviewState]
	preprintHook  = statemachine.Hook[*PreprintSubject, wf.ReviewState]
)

var preprintAccessor = statemachine.Accessor[*PreprintSubject, wf.ReviewState]{
	Kind:  models.KindPreprint,
	ID:    func(s *PreprintSubject) string { return s.Preprint.ID },
	Get:   func(s *PreprintSubject) wf.ReviewState { return s.Preprint.MachineState },
	Set:   func(s *PreprintSubject, st wf.ReviewState) { s.Preprint.MachineState = st },
	Touch: func(s *PreprintSubject, at time.Time) { s.Preprint.DateLastTransitioned = touch(at) },
}

func (s *Service) preprintCallbacks() statemachine.Callbacks[*PreprintSubject, wf.ReviewState] {
	return statemachine.Callbacks[*PreprintSubject, wf.ReviewState]{
		Conditions: map[string]statemachine.Condition[*PreprintSubject, wf.ReviewState]{
			"resubmission_allowed": s.preprintResubmissionAllowed,
		},
		Guards: map[string]preprintGuard{
			"can_submit":   s.preprintCanSubmit,
			"can_decide":   s.preprintCanDecide,
			"can_withdraw": s.preprintCanWithdraw,
		},
		Hooks: map[string]preprintHook{
			"save_changes":         s.savePreprint,
			"perform_withdraw":     s.performWithdraw,
			"notify_submit":        s.notifyPreprintSubmit,
			"notify_resubmit":      s.notifyPreprintResubmit,
			"notify_accept_reject": s.notifyPreprintDecision,
			"notify_edit_comment":  s.notifyPreprintCommentEdited,
			"notify_withdraw":      s.notifyPreprintWithdraw,
		},
	}
}

// SubmitPreprint sends a preprint to its provider.
func (s *Service) SubmitPreprint(ctx context.Context, preprintID, userID string) (statemachine.Result[wf.ReviewState], error) {
	return s.FirePreprint(ctx, preprintID, wf.TriggerSubmit, statemachine.WithUser(userID))
}

// AcceptPreprint is a moderator accepting a submission.
func (s *Service) AcceptPreprint(
	ctx context.Context, preprintID, userID, comment string,
) (statemachine.Result[wf.ReviewState], error) {
	return s.FirePreprint(ctx, preprintID, wf.TriggerAccept,
		statemachine.WithUser(userID), statemachine.WithComment(comment))
}

// RejectPreprint is a moderator rejecting a submission.
func (s *Service) RejectPreprint(
	ctx context.Context, preprintID, userID, comment string,
) (statemachine.Result[wf.ReviewState], error) {
	return s.FirePreprint(ctx, preprintID, wf.TriggerReject,
		statemachine.WithUser(userID), statemachine.WithComment(comment))
}

// EditReviewComment replaces the moderator comment without changing state.
func (s *Service) EditReviewComment(
	ctx context.Context, preprintID, userID, comment string,
) (statemachine.Result[wf.ReviewState], error) {
	return s.FirePreprint(ctx, preprintID, wf.TriggerEditComment,
		statemachine.WithUser(userID), statemachine.WithComment(comment))
}

// WithdrawPreprint withdraws a preprint directly. Only moderators may; other
// users go through RequestWithdrawal.
func (s *Service) WithdrawPreprint(
	ctx context.Context, preprintID, userID, justification string,
) (statemachine.Result[wf.ReviewState], error) {
	return s.FirePreprint(ctx, preprintID, wf.TriggerWithdraw,
		statemachine.WithUser(userID), statemachine.WithComment(justification))
}

// FirePreprint runs any reviews trigger in its own transaction.
func (s *Service) FirePreprint(
	ctx context.Context, preprintID, trigger string, opts ...statemachine.Option,
) (statemachine.Result[wf.ReviewState], error) {
	return fireIn(ctx, s.store,
		func(ctx context.Context, tx store.Tx) (*PreprintSubject, error) {
			return s.loadPreprint(ctx, tx, preprintID)
		},
		func(ctx context.Context, tx store.Tx, sub *PreprintSubject) (statemachine.Result[wf.ReviewState], error) {
			return s.preprints.Fire(ctx, tx, sub, preprintAccessor, trigger, opts...)
		})
}

func (s *Service) loadPreprint(ctx context.Context, tx store.Tx, preprintID string) (*PreprintSubject, error) {
	preprint, err := store.Load[models.Preprint](ctx, tx, preprintID)
	if err != nil {
		return nil, fmt.Errorf("loading preprint %q: %w", preprintID, err)
	}

	sub := &PreprintSubject{Preprint: preprint, tx: tx}

	if preprint.ProviderID != "" {
		if sub.Provider, err = store.Load[models.Provider](ctx, tx, preprint.ProviderID); err != nil {
			return nil, fmt.Errorf("loading provider %q: %w", preprint.ProviderID, err)
		}
	}

	return sub, nil
}

func (s *Service) preprintResubmissionAllowed(_ context.Context, ev *preprintEvent) (bool, error) {
	switch workflowOf(ev.Target.Provider) {
	case wf.PreModeration:
		return true, nil
	case wf.PostModeration:
		return ev.From == wf.ReviewPending, nil
	default:
		return false, nil
	}
}

func (s *Service) preprintCanSubmit(ctx context.Context, ev *preprintEvent) error {
	if s.checker.HasPermission(ctx, ev.UserID, ev.Target.Preprint.Contributors, permissions.Admin) {
		return nil
	}

	return moderrors.Permission("%q is not an admin of this preprint", ev.UserID)
}

func (s *Service) preprintCanDecide(ctx context.Context, ev *preprintEvent) error {
	if s.checker.IsModerator(ctx, ev.UserID, ev.Target.Provider) {
		return nil
	}

	return moderrors.Permission("%q cannot moderate %s", ev.UserID, providerName(ev.Target.Provider))
}

func (s *Service) preprintCanWithdraw(ctx context.Context, ev *preprintEvent) error {
	if ev.Auto {
		return nil
	}

	return s.preprintCanDecide(ctx, ev)
}

// savePreprint keeps publication in step with the review state.
func (s *Service) savePreprint(ctx context.Context, ev *preprintEvent) error {
	sub := ev.Target
	preprint := sub.Preprint

	at := ev.Now
	if ev.Action != nil {
		at = ev.Action.Created
	}

	public := slices.Contains(wf.PublicReviewStates(workflowOf(sub.Provider)), preprint.MachineState)

	switch {
	case preprint.DateWithdrawn != nil || preprint.MachineState == wf.ReviewWithdrawn:
	case public && !preprint.IsPublished:
		if err := publishable(preprint); err != nil {
			return err
		}

		preprint.DatePublished = touch(at)
		preprint.IsPublished = true
		preprint.EverPublic = true
	case !public && preprint.IsPublished:
		preprint.IsPublished = false
	}

	preprint.Modified = at.UTC()

	return store.Save(ctx, sub.tx, preprint)
}

func publishable(p *models.Preprint) error {
	switch {
	case p.PrimaryFileID == "":
		return moderrors.Conflict(ErrNoPrimaryFile)
	case p.ProviderID == "":
		return moderrors.Conflict(ErrNoProvider)
	case len(p.SubjectIDs) == 0:
		return moderrors.Conflict(ErrNoSubjects)
	}

	return nil
}

func (s *Service) performWithdraw(_ context.Context, ev *preprintEvent) error {
	preprint := ev.Target.Preprint

	at := ev.Now
	if ev.Action != nil {
		at = ev.Action.Created
	}

	preprint.DateWithdrawn = touch(at)
	preprint.WithdrawalJustification = ev.Comment

	return nil
}

func (s *Service) preprintData(sub *PreprintSubject, comment string) map[string]any {
	return s.providerEmails(map[string]any{
		"title":    sub.Preprint.Title,
		"provider": providerName(sub.Provider),
		"comment":  comment,
	}, sub.Provider)
}

func contributorIDs(p *models.Preprint) []string {
	return p.Contributors.WithPermission(permissions.Read)
}

// notifyPreprintSubmit logs the publication on the preprint and tells its
// contributors and, when moderated, the provider's moderators.
func (s *Service) notifyPreprintSubmit(ctx context.Context, ev *preprintEvent) error {
	sub := ev.Target

	sub.Preprint.Logs.Add(models.LogPreprintPublished, ev.UserID, ev.Now,
		map[string]string{"preprint": sub.Preprint.ID})

	if err := store.Save(ctx, sub.tx, sub.Preprint); err != nil {
		return err
	}

	data := s.preprintData(sub, ev.Comment)

	s.send(ctx, sub.tx, notify.ReviewsSubmitted, contributorIDs(sub.Preprint), data)

	if sub.Provider.IsModerated() {
		s.send(ctx, sub.tx, notify.ReviewsModeratorsSubmitted, sub.Provider.ModeratorIDs(), data)
	}

	return nil
}

func (s *Service) notifyPreprintResubmit(ctx context.Context, ev *preprintEvent) error {
	sub := ev.Target
	data := s.preprintData(sub, ev.Comment)

	s.send(ctx, sub.tx, notify.ReviewsResubmitted, contributorIDs(sub.Preprint), data)

	if sub.Provider.IsModerated() {
		s.send(ctx, sub.tx, notify.ReviewsModeratorsSubmitted, sub.Provider.ModeratorIDs(), data)
	}

	return nil
}

func (s *Service) notifyPreprintDecision(ctx context.Context, ev *preprintEvent) error {
	tpl := notify.ReviewsRejected
	if ev.To == wf.ReviewAccepted {
		tpl = notify.ReviewsAccepted
	}

	s.send(ctx, ev.Target.tx, tpl, contributorIDs(ev.Target.Preprint), s.preprintData(ev.Target, ev.Comment))

	return nil
}

func (s *Service) notifyPreprintCommentEdited(ctx context.Context, ev *preprintEvent) error {
	s.send(ctx, ev.Target.tx, notify.ReviewsCommentEdited,
		contributorIDs(ev.Target.Preprint), s.preprintData(ev.Target, ev.Comment))

	return nil
}

// notifyPreprintWithdraw tells every contributor. When a withdrawal request
// was granted each message says whether it went to the requester; otherwise
// the withdrawal was forced.
func (s *Service) notifyPreprintWithdraw(ctx context.Context, ev *preprintEvent) error {
	sub := ev.Target

	data := s.preprintData(sub, ev.Comment)
	data["ever_public"] = sub.Preprint.EverPublic

	requester := ev.ParamString(ParamRequester, "")
	if requester == "" {
		data["force_withdrawal"] = true
	} else {
		data["requester"] = displayName(ctx, sub.tx, requester)
	}

	s.sendEach(ctx, sub.tx, notify.ReviewsWithdrawn, contributorIDs(sub.Preprint), func(userID string) map[string]any {
		out := maps.Clone(data)
		if requester != "" {
			out["is_requester"] = userID == requester
		}

		return out
	})

	return nil
}
