package models

import (
	"time"

	wf "github.com/amp-labs/osf-moderation/workflows"
)

// ApprovalMode decides how many admin approvals a sanction needs.
type ApprovalMode string

const (
	// Unanimous requires every authorizer.
	Unanimous ApprovalMode = "unanimous"
	// AnyApprover requires a single authorizer.
	AnyApprover ApprovalMode = "any"
)

// Approval is one authorizer's entry on a sanction.
type Approval struct {
	HasApproved    bool   `json:"has_approved"`
	ApprovalToken  string `json:"approval_token"`
	RejectionToken string `json:"rejection_token"`
}

// Sanction is a registration approval, embargo, retraction or embargo
// termination awaiting admin and possibly moderator approval.
type Sanction struct {
	Base

	SanctionType   wf.SanctionType      `json:"sanction_type"`
	Stage          wf.ApprovalState     `json:"approval_stage"`
	Mode           ApprovalMode         `json:"mode"`
	InitiatedBy    string               `json:"initiated_by"`
	InitiationDate time.Time            `json:"initiation_date"`
	EndDate        *time.Time           `json:"end_date,omitempty"`
	Approvals      map[string]*Approval `json:"approvals"`

	RegistrationID string `json:"registration_id"`
	// EmbargoID is set on embargo terminations.
	EmbargoID string `json:"embargo_id,omitempty"`

	ModeratorInitiated bool   `json:"moderator_initiated,omitempty"`
	Justification      string `json:"justification,omitempty"`

	DateLastTransitioned *time.Time `json:"date_last_transitioned,omitempty"`
}

func (*Sanction) Kind() string { return KindSanction }
func (s *Sanction) StateName() string { return string(s.Stage) }

// IsApprover reports whether userID is one of the sanction's authorizers.
func (s *Sanction) IsApprover(userID string) bool {
	_, ok := s.Approvals[userID]

	return ok
}

// ApproverIDs returns the authorizers' ids.
func (s *Sanction) ApproverIDs() []string {
	ids := make([]string, 0, len(s.Approvals))
	for id := range s.Approvals {
		ids = append(ids, id)
	}

	return ids
}

// Satisfied reports whether enough authorizers have approved.
func (s *Sanction) Satisfied() bool {
	if len(s.Approvals) == 0 {
		return false
	}

	approved := 0

	for _, a := range s.Approvals {
		if a.HasApproved {
			approved++
		}
	}

	if s.Mode == AnyApprover {
		return approved > 0
	}

	return approved == len(s.Approvals)
}

// IsModerated is true for sanctions whose provider interposes moderators.
// Embargo terminations skip moderation.
func (s *Sanction) IsModerated(p *Provider) bool {
	return s.SanctionType != wf.EmbargoTermination && p.IsModerated()
}

// Expired reports whether an embargo's end date has passed.
func (s *Sanction) Expired(now time.Time) bool {
	return s.EndDate != nil && !now.Before(*s.EndDate)
}
