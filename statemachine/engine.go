package statemachine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/amp-labs/osf-moderation/actions"
	moderrors "github.com/amp-labs/osf-moderation/errors"
	"go.opentelemetry.io/otel/codes"
)

// Engine interprets one transition table for targets of type T whose state
// is the string enum S. An Engine is immutable after construction and safe
// for concurrent use; all per-call state lives in Fire's arguments.
type Engine[T any, S ~string] struct {
	table     *Table
	callbacks Callbacks[T, S]
	byTrigger map[string][]*row[S]
	logger    Logger
	now       func() time.Time
}

type row[S ~string] struct {
	def     Transition
	sources []S
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	logger Logger
	now    func() time.Time
}

// WithLogger replaces the slog-backed default logger.
func WithLogger(logger Logger) EngineOption {
	return func(c *engineConfig) { c.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(c *engineConfig) { c.now = now }
}

// NewEngine validates table against the typed state set and the registered
// callbacks, failing with a ConfigurationError that lists every problem.
func NewEngine[T any, S ~string](
	table *Table,
	states []S,
	callbacks Callbacks[T, S],
	opts ...EngineOption,
) (*Engine[T, S], error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}

	var problems moderrors.Collection

	for _, s := range table.States {
		if !slices.Contains(states, S(s)) {
			problems.Addf("%w: %q is not a member of the state type", ErrUnknownState, s)
		}
	}

	conditions, guards, hooks := table.Callbacks()

	for _, name := range conditions {
		if _, ok := callbacks.Conditions[name]; !ok {
			problems.Addf("%w: condition %q", ErrUnknownCallback, name)
		}
	}

	for _, name := range guards {
		if _, ok := callbacks.Guards[name]; !ok {
			problems.Addf("%w: guard %q", ErrUnknownCallback, name)
		}
	}

	for _, name := range hooks {
		if _, ok := callbacks.Hooks[name]; !ok {
			problems.Addf("%w: hook %q", ErrUnknownCallback, name)
		}
	}

	if err := problems.AsConfigurationError(table.Name); err != nil {
		return nil, err
	}

	cfg := engineConfig{logger: NewDefaultLogger(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine[T, S]{
		table:     table,
		callbacks: callbacks,
		byTrigger: make(map[string][]*row[S]),
		logger:    cfg.logger,
		now:       cfg.now,
	}

	for _, tr := range table.Transitions {
		r := &row[S]{def: tr}
		for _, s := range tr.Source {
			r.sources = append(r.sources, S(s))
		}

		e.byTrigger[tr.Trigger] = append(e.byTrigger[tr.Trigger], r)
	}

	return e, nil
}

// Name returns the table name.
func (e *Engine[T, S]) Name() string {
	return e.table.Name
}

// Table returns the table the engine interprets.
func (e *Engine[T, S]) Table() *Table {
	return e.table
}

// CurrentState returns the target's state.
func (e *Engine[T, S]) CurrentState(target T, acc Accessor[T, S]) S {
	return acc.Get(target)
}

// Triggers returns the triggers that have at least one transition from state.
func (e *Engine[T, S]) Triggers(state S) []string {
	var out []string

	for _, trigger := range e.table.Triggers() {
		for _, r := range e.byTrigger[trigger] {
			if slices.Contains(r.sources, state) {
				out = append(out, trigger)

				break
			}
		}
	}

	return out
}

// Fire attempts trigger against target and writes one action record through
// log for every committed transition, including triggers queued by hooks.
//
// When a hook fails the state field is restored and the error returned; the
// surrounding transaction is expected to roll back any other writes.
func (e *Engine[T, S]) Fire(
	ctx context.Context,
	log actions.Writer,
	target T,
	acc Accessor[T, S],
	trigger string,
	opts ...Option,
) (Result[S], error) {
	if log == nil {
		return Result[S]{}, ErrNilActionWriter
	}

	start := e.now()
	initial := acc.Get(target)

	ctx, span := startFireSpan(ctx, e.table.Name, trigger, acc.Kind, acc.ID(target), string(initial))
	defer span.End()

	result := Result[S]{Trigger: trigger, From: initial, State: initial}
	pending := []queued{{trigger: trigger, opts: opts}}

	for i := 0; len(pending) > 0; i++ {
		next := pending[0]
		pending = pending[1:]

		step, more, err := e.step(ctx, log, target, acc, next.trigger, collect(next.opts))
		if err != nil {
			acc.Set(target, initial)

			result.State = initial
			result.Outcome = outcomeOf(err)
			result.Action = nil
			result.Actions = nil

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observeFire(e.table.Name, trigger, result.Outcome, e.now().Sub(start))

			return result, err
		}

		if i == 0 {
			result.Outcome = step.outcome
			result.Action = step.action
		}

		if step.action != nil {
			result.Actions = append(result.Actions, *step.action)
		}

		pending = append(pending, more...)
	}

	result.State = acc.Get(target)

	endFireSpan(span, string(result.State), result.Outcome)
	observeFire(e.table.Name, trigger, result.Outcome, e.now().Sub(start))

	return result, nil
}

type stepResult struct {
	outcome Outcome
	action  *actions.Record
}

func (e *Engine[T, S]) step(
	ctx context.Context,
	log actions.Writer,
	target T,
	acc Accessor[T, S],
	trigger string,
	opts fireOptions,
) (stepResult, []queued, error) {
	from := acc.Get(target)

	rows, known := e.byTrigger[trigger]
	if !known {
		e.logger.TransitionIgnored(ctx, e.table.Name, trigger, string(from), "unknown trigger")
		recordTransition(e.table.Name, trigger, string(from), string(from), OutcomeIgnored)

		return stepResult{outcome: OutcomeIgnored}, nil, nil
	}

	var candidates []*row[S]

	for _, r := range rows {
		if slices.Contains(r.sources, from) {
			candidates = append(candidates, r)
		}
	}

	if len(candidates) == 0 {
		if e.table.IgnoresInvalidTriggers() {
			e.logger.TransitionIgnored(ctx, e.table.Name, trigger, string(from), "no transition from state")
			recordTransition(e.table.Name, trigger, string(from), string(from), OutcomeIgnored)

			return stepResult{outcome: OutcomeIgnored}, nil, nil
		}

		err := &TransitionError{Machine: e.table.Name, Trigger: trigger, From: string(from)}
		if e.callbacks.InvalidTrigger != nil {
			err.Reason = e.callbacks.InvalidTrigger(from, trigger)
		}

		e.logger.TransitionRejected(ctx, e.table.Name, trigger, string(from), err)
		recordTransition(e.table.Name, trigger, string(from), string(from), OutcomeInvalid)

		return stepResult{}, nil, err
	}

	ev := &Event[T, S]{
		Machine: e.table.Name,
		Trigger: trigger,
		Target:  target,
		From:    from,
		UserID:  opts.userID,
		Comment: opts.comment,
		Auto:    opts.auto,
		Token:   opts.token,
		Params:  opts.params,
		Now:     e.now(),
	}

	chosen, err := e.choose(ctx, ev, candidates)
	if err != nil {
		return stepResult{}, nil, err
	}

	if chosen == nil {
		e.logger.TransitionIgnored(ctx, e.table.Name, trigger, string(from), "conditions not met")
		recordTransition(e.table.Name, trigger, string(from), string(from), OutcomeIgnored)

		return stepResult{outcome: OutcomeIgnored}, nil, nil
	}

	if chosen.def.Noop {
		e.logger.TransitionIgnored(ctx, e.table.Name, trigger, string(from), "already done")
		recordTransition(e.table.Name, trigger, string(from), string(from), OutcomeNoop)

		return stepResult{outcome: OutcomeNoop}, nil, nil
	}

	def := chosen.def
	ev.Source = &def
	ev.To = S(def.DestFor(string(from)))

	for _, name := range def.Guards {
		if err := e.callbacks.Guards[name](ctx, ev); err != nil {
			gerr := &GuardError{Machine: e.table.Name, Trigger: trigger, Guard: name, Err: err}

			e.logger.TransitionRejected(ctx, e.table.Name, trigger, string(from), gerr)
			recordTransition(e.table.Name, trigger, string(from), string(ev.To), OutcomeRejected)
			recordGuardFailure(e.table.Name, trigger, name, err)

			return stepResult{}, nil, gerr
		}
	}

	if err := e.runHooks(ctx, ev, def.Before); err != nil {
		return stepResult{}, nil, err
	}

	acc.Set(target, ev.To)

	rec, err := log.CreateAction(ctx, actions.Record{
		TargetKind: acc.Kind,
		TargetID:   acc.ID(target),
		Machine:    e.table.Name,
		CreatorID:  ev.UserID,
		Trigger:    trigger,
		FromState:  string(from),
		ToState:    string(ev.To),
		Comment:    ev.Comment,
		Auto:       ev.Auto,
		Created:    ev.Now,
	})
	if err != nil {
		recordTransition(e.table.Name, trigger, string(from), string(ev.To), OutcomeFailed)

		return stepResult{}, nil, fmt.Errorf("%s: failed to record %s action: %w", e.table.Name, trigger, err)
	}

	ev.Action = &rec

	if acc.Touch != nil {
		acc.Touch(target, rec.Created)
	}

	if err := e.runHooks(ctx, ev, def.After); err != nil {
		return stepResult{}, nil, err
	}

	if err := e.runHooks(ctx, ev, e.table.AfterStateChange); err != nil {
		return stepResult{}, nil, err
	}

	e.logger.TransitionFired(ctx, e.table.Name, trigger, string(from), string(ev.To))
	recordTransition(e.table.Name, trigger, string(from), string(ev.To), OutcomeCommitted)

	return stepResult{outcome: OutcomeCommitted, action: &rec}, ev.queue, nil
}

// choose returns the first candidate whose conditions hold and whose unless
// conditions all fail.
func (e *Engine[T, S]) choose(ctx context.Context, ev *Event[T, S], candidates []*row[S]) (*row[S], error) {
	for _, r := range candidates {
		ok, err := e.check(ctx, ev, r.def.Conditions, true)
		if err != nil {
			return nil, err
		}

		if !ok {
			continue
		}

		ok, err = e.check(ctx, ev, r.def.Unless, false)
		if err != nil {
			return nil, err
		}

		if ok {
			return r, nil
		}
	}

	return nil, nil //nolint:nilnil // no matching row is not an error
}

func (e *Engine[T, S]) check(ctx context.Context, ev *Event[T, S], names []string, want bool) (bool, error) {
	for _, name := range names {
		got, err := e.callbacks.Conditions[name](ctx, ev)
		if err != nil {
			return false, fmt.Errorf("%s: condition %s: %w", e.table.Name, name, err)
		}

		if got != want {
			return false, nil
		}
	}

	return true, nil
}

func (e *Engine[T, S]) runHooks(ctx context.Context, ev *Event[T, S], names []string) error {
	for _, name := range names {
		if err := e.callbacks.Hooks[name](ctx, ev); err != nil {
			herr := &HookError{Machine: e.table.Name, Trigger: ev.Trigger, Hook: name, Err: err}

			e.logger.TransitionRejected(ctx, e.table.Name, ev.Trigger, string(ev.From), herr)
			recordTransition(e.table.Name, ev.Trigger, string(ev.From), string(ev.To), OutcomeFailed)

			return herr
		}
	}

	return nil
}

func outcomeOf(err error) Outcome {
	var (
		terr *TransitionError
		gerr *GuardError
	)

	switch {
	case errors.As(err, &terr):
		return OutcomeInvalid
	case errors.As(err, &gerr):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
