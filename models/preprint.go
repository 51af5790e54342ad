package models

import (
	"time"

	wf "github.com/amp-labs/osf-moderation/workflows"
)

// Preprint is a manuscript under provider review.
type Preprint struct {
	Base

	Title        string         `json:"title"`
	ProviderID   string         `json:"provider_id"`
	Contributors Contributors   `json:"contributors"`
	MachineState wf.ReviewState `json:"machine_state"`

	PrimaryFileID string   `json:"primary_file_id,omitempty"`
	SubjectIDs    []string `json:"subject_ids,omitempty"`

	IsPublished   bool       `json:"is_published"`
	DatePublished *time.Time `json:"date_published,omitempty"`
	// EverPublic is set the first time the preprint is published.
	EverPublic bool `json:"ever_public"`

	DateWithdrawn           *time.Time `json:"date_withdrawn,omitempty"`
	WithdrawalJustification string     `json:"withdrawal_justification,omitempty"`

	DateLastTransitioned *time.Time `json:"date_last_transitioned,omitempty"`

	Logs Logs `json:"logs,omitempty"`
}

func (*Preprint) Kind() string { return KindPreprint }
func (p *Preprint) StateName() string { return string(p.MachineState) }

// CanPublish reports whether the preprint has what publication requires.
func (p *Preprint) CanPublish() bool {
	return p.PrimaryFileID != "" && p.ProviderID != "" && len(p.SubjectIDs) > 0
}
