// Package errors defines the failure taxonomy shared by every machine.
//
// Callers classify failures with errors.Is against the sentinels below and
// map them to their own surface (HTTP status, CLI exit code). A no-op
// transition is never an error.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPermission means the actor lacks rights for this trigger at this stage.
	ErrPermission = errors.New("permission denied")
	// ErrTransition means the trigger is structurally invalid from the current state.
	ErrTransition = errors.New("invalid transition")
	// ErrInvalidToken means an approval or rejection token is missing or does not match.
	ErrInvalidToken = errors.New("invalid token")
	// ErrConflict means a side effect violated a business rule.
	ErrConflict = errors.New("conflict")
	// ErrConfiguration means a transition table references something that does not exist.
	ErrConfiguration = errors.New("invalid machine configuration")
	// ErrNotImplemented is returned by hooks that exist in a table but have no behavior yet.
	ErrNotImplemented = errors.New("not implemented")
	// ErrNotFound is returned when an entity lookup misses.
	ErrNotFound = errors.New("not found")
)

// PermissionError describes why an actor was refused.
type PermissionError struct {
	Reason string
}

// Permission builds a PermissionError with a formatted reason.
func Permission(format string, args ...any) error {
	return &PermissionError{Reason: fmt.Sprintf(format, args...)}
}

func (e *PermissionError) Error() string {
	if e.Reason == "" {
		return ErrPermission.Error()
	}

	return ErrPermission.Error() + ": " + e.Reason
}

func (e *PermissionError) Unwrap() error {
	return ErrPermission
}

// InvalidTokenError is returned when a token fails verification for a user.
type InvalidTokenError struct {
	Purpose string
	Err     error
}

func (e *InvalidTokenError) Error() string {
	msg := fmt.Sprintf("invalid %s token", e.Purpose)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *InvalidTokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

func (e *InvalidTokenError) Unwrap() error {
	return e.Err
}

// ConflictError carries the message of the violated rule.
type ConflictError struct {
	Reason string
	Err    error
}

// Conflict wraps err as a ConflictError whose reason is err's message.
func Conflict(err error) error {
	return &ConflictError{Reason: err.Error(), Err: err}
}

func (e *ConflictError) Error() string {
	return ErrConflict.Error() + ": " + e.Reason
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// ConfigurationError lists every problem found while validating a table.
type ConfigurationError struct {
	Machine  string
	Problems []error
}

func (e *ConfigurationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Error())
	}

	return fmt.Sprintf("%s: machine %q: %s", ErrConfiguration.Error(), e.Machine, strings.Join(parts, "; "))
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigurationError) Unwrap() []error {
	return e.Problems
}

// Collection is a thread-unsafe utility for accumulating multiple errors.
// Table validation uses it so that every problem is reported at once.
type Collection struct {
	errors []error
}

// Add appends an error to the collection. Nil errors are ignored.
func (c *Collection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// Addf appends a formatted error.
func (c *Collection) Addf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Errorf(format, args...)) //nolint:err113
}

// Clear removes all errors from the collection.
func (c *Collection) Clear() {
	c.errors = nil
}

// HasError returns true if the collection contains at least one error.
func (c *Collection) HasError() bool {
	return len(c.errors) > 0
}

// Errors returns a copy of the collected errors.
func (c *Collection) Errors() []error {
	out := make([]error, len(c.errors))
	copy(out, c.errors)

	return out
}

// GetError returns the collected errors as a single error.
// Returns nil if the collection is empty, the single error if there's only one,
// or a joined error if there are several.
func (c *Collection) GetError() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return errors.Join(c.errors...)
	}
}

// AsConfigurationError returns nil when empty, otherwise a ConfigurationError
// for the named machine holding every collected problem.
func (c *Collection) AsConfigurationError(machine string) error {
	if !c.HasError() {
		return nil
	}

	return &ConfigurationError{Machine: machine, Problems: c.Errors()}
}
