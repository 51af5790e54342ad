package statemachine

import (
	"context"
	"time"

	"github.com/amp-labs/osf-moderation/actions"
)

// Accessor tells the engine how to read and write the state field of a
// machineable. It is passed on every Fire rather than stored on the engine.
type Accessor[T any, S ~string] struct {
	// Kind names the target type in action records ("preprint", "sanction").
	Kind string
	// ID returns the target's identifier.
	ID func(T) string
	// Get returns the current state.
	Get func(T) S
	// Set writes a new state.
	Set func(T, S)
	// Touch records the time of the last committed transition. Optional.
	Touch func(T, time.Time)
}

// Condition selects between transitions sharing a trigger and source.
type Condition[T any, S ~string] func(ctx context.Context, ev *Event[T, S]) (bool, error)

// Guard refuses a transition by returning an error. Guards run before any
// mutation.
type Guard[T any, S ~string] func(ctx context.Context, ev *Event[T, S]) error

// Hook runs before or after the state is written.
type Hook[T any, S ~string] func(ctx context.Context, ev *Event[T, S]) error

// Callbacks are the named implementations a table can reference.
type Callbacks[T any, S ~string] struct {
	Conditions map[string]Condition[T, S]
	Guards     map[string]Guard[T, S]
	Hooks      map[string]Hook[T, S]

	// InvalidTrigger may replace the default TransitionError message for a
	// trigger with no transition from the current state. Returning "" keeps
	// the default.
	InvalidTrigger func(from S, trigger string) string
}

// Option configures a single Fire call.
type Option func(*fireOptions)

type fireOptions struct {
	userID  string
	comment string
	auto    bool
	token   string
	params  map[string]any
}

// WithUser sets the acting user.
func WithUser(userID string) Option {
	return func(o *fireOptions) { o.userID = userID }
}

// WithComment attaches a comment to the action record.
func WithComment(comment string) Option {
	return func(o *fireOptions) { o.comment = comment }
}

// WithAuto marks the transition as system-initiated.
func WithAuto(auto bool) Option {
	return func(o *fireOptions) { o.auto = auto }
}

// WithToken passes an approval or rejection token to the guards.
func WithToken(token string) Option {
	return func(o *fireOptions) { o.token = token }
}

// WithParam passes a named value to callbacks.
func WithParam(key string, value any) Option {
	return func(o *fireOptions) {
		if o.params == nil {
			o.params = make(map[string]any)
		}

		o.params[key] = value
	}
}

func collect(opts []Option) fireOptions {
	var o fireOptions

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Event is what callbacks see for one transition attempt.
type Event[T any, S ~string] struct {
	Machine string
	Trigger string
	Target  T
	// From is the state before the transition. It stays readable from
	// before hooks, while the target still holds it.
	From S
	// To is the destination. It equals From for internal transitions.
	To S
	// Source is the table row being executed. Nil while conditions are
	// being evaluated for a different row.
	Source *Transition

	UserID  string
	Comment string
	Auto    bool
	Token   string
	Params  map[string]any

	// Action is the record written for this transition. Set before after
	// hooks run.
	Action *actions.Record
	// Now is the engine clock reading taken at the start of the attempt.
	Now time.Time

	queue []queued
}

type queued struct {
	trigger string
	opts    []Option
}

// Queue schedules another trigger that runs once the current transition has
// fully committed, against the updated state.
func (e *Event[T, S]) Queue(trigger string, opts ...Option) {
	e.queue = append(e.queue, queued{trigger: trigger, opts: opts})
}

// Param returns a named parameter.
func (e *Event[T, S]) Param(key string) (any, bool) {
	v, ok := e.Params[key]

	return v, ok
}

// ParamString returns a string parameter or def.
func (e *Event[T, S]) ParamString(key, def string) string {
	if v, ok := e.Params[key].(string); ok {
		return v
	}

	return def
}

// ParamBool returns a bool parameter or def.
func (e *Event[T, S]) ParamBool(key string, def bool) bool {
	if v, ok := e.Params[key].(bool); ok {
		return v
	}

	return def
}

// Outcome classifies a Fire call for logs and metrics.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeNoop      Outcome = "noop"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeFailed    Outcome = "failed"
)

// Result describes a Fire call.
type Result[S ~string] struct {
	Trigger string
	From    S
	State   S
	Outcome Outcome
	// Action is the record of the fired trigger, nil when nothing committed.
	Action *actions.Record
	// Actions includes the records of queued triggers, in commit order.
	Actions []actions.Record
}

// IsNoop reports whether nothing was committed.
func (r Result[S]) IsNoop() bool {
	return len(r.Actions) == 0
}
