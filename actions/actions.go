// Package actions holds the append-only audit trail written by every
// committed transition.
package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRecord is returned for a record missing its target or trigger.
var ErrInvalidRecord = errors.New("invalid action record")

// Record is one committed transition. Records are immutable once written.
type Record struct {
	ID         string    `json:"id"`
	TargetKind string    `json:"targetKind"`
	TargetID   string    `json:"targetId"`
	Machine    string    `json:"machine"`
	CreatorID  string    `json:"creatorId,omitempty"`
	Trigger    string    `json:"trigger"`
	FromState  string    `json:"fromState"`
	ToState    string    `json:"toState"`
	Comment    string    `json:"comment,omitempty"`
	Auto       bool      `json:"auto"`
	Created    time.Time `json:"created"`
}

// Writer is the create_action collaborator. Implementations assign ID and
// Created when they are empty and return the stored record.
type Writer interface {
	CreateAction(ctx context.Context, rec Record) (Record, error)
}

// Reader lists the action history of a target, oldest first.
type Reader interface {
	Actions(ctx context.Context, targetKind, targetID string) ([]Record, error)
}

// Stamp fills ID and Created when they are unset.
func Stamp(rec Record, now time.Time) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if rec.Created.IsZero() {
		rec.Created = now.UTC()
	}

	return rec
}

// IsTransition reports whether the record changed state.
func (r Record) IsTransition() bool {
	return r.FromState != r.ToState
}

// Validate checks that the record names a target and a trigger.
func (r Record) Validate() error {
	switch {
	case r.TargetKind == "" || r.TargetID == "":
		return fmt.Errorf("%w: missing target", ErrInvalidRecord)
	case r.Trigger == "":
		return fmt.Errorf("%w: missing trigger", ErrInvalidRecord)
	}

	return nil
}
