package statemachine

import (
	"errors"
	"fmt"

	moderrors "github.com/amp-labs/osf-moderation/errors"
)

// Table structure errors. NewEngine and Table.Validate report these inside a
// ConfigurationError.
var (
	// ErrTableNameRequired indicates that a table name is required.
	ErrTableNameRequired = errors.New("table name is required")
	// ErrStateRequired indicates that at least one state is required.
	ErrStateRequired = errors.New("at least one state is required")
	// ErrDuplicateState indicates that a state is declared twice.
	ErrDuplicateState = errors.New("duplicate state")
	// ErrUnknownState indicates that a table references an undeclared state.
	ErrUnknownState = errors.New("unknown state")
	// ErrInitialStateRequired indicates that an initial state is required.
	ErrInitialStateRequired = errors.New("initial state is required")
	// ErrTriggerRequired indicates that a transition has no trigger.
	ErrTriggerRequired = errors.New("transition trigger is required")
	// ErrSourceRequired indicates that a transition has no source state.
	ErrSourceRequired = errors.New("transition source is required")
	// ErrDestRequired indicates that a transition has no destination.
	ErrDestRequired = errors.New("transition dest is required")
	// ErrUnknownCallback indicates that a table names a condition, guard or hook
	// with no registered implementation.
	ErrUnknownCallback = errors.New("unknown callback")
	// ErrNoTableLoader indicates an extends reference with no loader to resolve it.
	ErrNoTableLoader = errors.New("no table loader registered to resolve extends")
	// ErrExtendsCycle indicates that tables extend each other in a loop.
	ErrExtendsCycle = errors.New("extends cycle")
	// ErrNilActionWriter indicates Fire was called without an action writer.
	ErrNilActionWriter = errors.New("nil action writer")
)

// TransitionError is returned when a trigger has no transition from the
// current state and the table does not ignore invalid triggers.
type TransitionError struct {
	Machine string
	Trigger string
	From    string
	Reason  string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}

	return fmt.Sprintf("%s: can't trigger %q from state %q", e.Machine, e.Trigger, e.From)
}

func (e *TransitionError) Unwrap() error {
	return moderrors.ErrTransition
}

// GuardError names the guard that refused a transition. It unwraps to the
// guard's own error so permission and token failures stay classifiable.
type GuardError struct {
	Machine string
	Trigger string
	Guard   string
	Err     error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("%s: %s refused by %s: %v", e.Machine, e.Trigger, e.Guard, e.Err)
}

func (e *GuardError) Unwrap() error {
	return e.Err
}

// HookError wraps a failure raised by a before, after or state-change hook.
type HookError struct {
	Machine string
	Trigger string
	Hook    string
	Err     error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s: %s hook %s: %v", e.Machine, e.Trigger, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
