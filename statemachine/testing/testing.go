// Package testing provides helpers for exercising engines in tests.
package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amp-labs/osf-moderation/actions"
	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/statemachine"
)

// Harness binds an engine, an accessor and an in-memory action log to one
// target so tests can fire triggers and assert on the outcome.
type Harness[T any, S ~string] struct {
	t        *testing.T
	Engine   *statemachine.Engine[T, S]
	Accessor statemachine.Accessor[T, S]
	Target   T
	Log      *actions.Memory
}

// NewHarness creates a harness with a fresh action log.
func NewHarness[T any, S ~string](
	t *testing.T,
	engine *statemachine.Engine[T, S],
	acc statemachine.Accessor[T, S],
	target T,
) *Harness[T, S] {
	t.Helper()

	return &Harness[T, S]{
		t:        t,
		Engine:   engine,
		Accessor: acc,
		Target:   target,
		Log:      actions.NewMemory(nil),
	}
}

// Fire fires trigger against the target.
func (h *Harness[T, S]) Fire(trigger string, opts ...statemachine.Option) (statemachine.Result[S], error) {
	h.t.Helper()

	return h.Engine.Fire(context.Background(), h.Log, h.Target, h.Accessor, trigger, opts...)
}

// MustFire fires trigger and fails the test on error.
func (h *Harness[T, S]) MustFire(trigger string, opts ...statemachine.Option) statemachine.Result[S] {
	h.t.Helper()

	res, err := h.Fire(trigger, opts...)
	require.NoError(h.t, err, "fire %s", trigger)

	return res
}

// State returns the target's current state.
func (h *Harness[T, S]) State() S {
	return h.Engine.CurrentState(h.Target, h.Accessor)
}

// AssertState asserts the target is in want.
func (h *Harness[T, S]) AssertState(want S) {
	h.t.Helper()

	assert.Equal(h.t, want, h.State())
}

// AssertNoop fires trigger and asserts that nothing changed.
func (h *Harness[T, S]) AssertNoop(trigger string, opts ...statemachine.Option) {
	h.t.Helper()

	before, count := h.State(), h.Log.Len()

	res, err := h.Fire(trigger, opts...)
	require.NoError(h.t, err, "fire %s", trigger)
	assert.True(h.t, res.IsNoop(), "%s from %s should be a no-op", trigger, before)
	assert.Equal(h.t, before, h.State())
	assert.Equal(h.t, count, h.Log.Len())
}

// RequireError fires trigger, requires an error matching sentinel and
// asserts the state and action count are unchanged.
func (h *Harness[T, S]) RequireError(sentinel error, trigger string, opts ...statemachine.Option) error {
	h.t.Helper()

	before, count := h.State(), h.Log.Len()

	_, err := h.Fire(trigger, opts...)
	require.ErrorIs(h.t, err, sentinel, "fire %s from %s", trigger, before)
	assert.Equal(h.t, before, h.State())
	assert.Equal(h.t, count, h.Log.Len())

	return err
}

// RequireTransitionError is RequireError for ErrTransition.
func (h *Harness[T, S]) RequireTransitionError(trigger string, opts ...statemachine.Option) error {
	h.t.Helper()

	return h.RequireError(moderrors.ErrTransition, trigger, opts...)
}

// RequirePermissionError is RequireError for ErrPermission.
func (h *Harness[T, S]) RequirePermissionError(trigger string, opts ...statemachine.Option) error {
	h.t.Helper()

	return h.RequireError(moderrors.ErrPermission, trigger, opts...)
}

// Expect runs every matcher against the recorded actions.
func (h *Harness[T, S]) Expect(matchers ...Matcher) {
	h.t.Helper()

	ExpectRecords(h.t, h.Log.All(), matchers...)
}

// ExpectRecords runs every matcher against records.
func ExpectRecords(t *testing.T, records []actions.Record, matchers ...Matcher) {
	t.Helper()

	for _, m := range matchers {
		ok, err := m.Match(records)
		assert.True(t, ok, "%s: %v", m.Description(), err)
	}
}
