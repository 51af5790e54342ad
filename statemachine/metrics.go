package statemachine

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zeebo/xxh3"

	moderrors "github.com/amp-labs/osf-moderation/errors"
)

var (
	// transitionsTotal counts every trigger attempt by machine and outcome.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osf_machine_transitions_total",
		Help: "Total number of trigger attempts by machine, trigger, from/to state and outcome",
	}, []string{"machine", "trigger", "from", "to", "outcome"})

	// fireDuration tracks a whole Fire call, including queued triggers.
	fireDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "osf_machine_fire_duration_seconds",
		Help:    "Duration of Fire calls by machine, trigger and outcome",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"machine", "trigger", "outcome"})

	// guardFailuresTotal counts refused transitions by guard and error kind.
	guardFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osf_machine_guard_failures_total",
		Help: "Total number of guard refusals by machine, trigger, guard and error kind",
	}, []string{"machine", "trigger", "guard", "kind"})
)

func recordTransition(machine, trigger, from, to string, outcome Outcome) {
	transitionsTotal.WithLabelValues(machine, trigger, sanitizeState(from), sanitizeState(to), string(outcome)).Inc()
}

func observeFire(machine, trigger string, outcome Outcome, d time.Duration) {
	fireDuration.WithLabelValues(machine, trigger, string(outcome)).Observe(d.Seconds())
}

func recordGuardFailure(machine, trigger, guard string, err error) {
	guardFailuresTotal.WithLabelValues(machine, trigger, guard, errorKind(err)).Inc()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, moderrors.ErrPermission):
		return "permission"
	case errors.Is(err, moderrors.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, moderrors.ErrConflict):
		return "conflict"
	default:
		return "other"
	}
}

func sanitizeState(state string) string {
	if state == "" {
		return "none"
	}

	return state
}

// hashID shortens an identifier for span attributes so raw ids never leave
// the process.
func hashID(id string) string {
	if id == "" {
		return ""
	}

	return strconv.FormatUint(xxh3.HashString(id), 16)
}
