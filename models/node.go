package models

import (
	"time"

	"github.com/amp-labs/osf-moderation/permissions"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

// Node is a project that may receive access requests.
type Node struct {
	Base

	Title        string       `json:"title"`
	Contributors Contributors `json:"contributors"`
	IsPublic     bool         `json:"is_public"`
	Deleted      bool         `json:"deleted,omitempty"`
	// AccessRequestsEnabled allows non-contributors to ask for access.
	AccessRequestsEnabled bool `json:"access_requests_enabled"`

	Logs Logs `json:"logs,omitempty"`
}

func (*Node) Kind() string { return KindNode }
func (*Node) StateName() string { return "" }

// Registration is a frozen node submitted to a registry.
type Registration struct {
	Base

	Title        string       `json:"title"`
	ProviderID   string       `json:"provider_id"`
	Contributors Contributors `json:"contributors"`
	IsPublic     bool         `json:"is_public"`
	Deleted      bool         `json:"deleted,omitempty"`
	// RegisteredFromID is the project the registration was made from.
	RegisteredFromID string `json:"registered_from_id,omitempty"`

	ModerationState wf.RegistrationModerationState `json:"moderation_state"`

	RegistrationApprovalID string `json:"registration_approval_id,omitempty"`
	EmbargoID              string `json:"embargo_id,omitempty"`
	RetractionID           string `json:"retraction_id,omitempty"`
	EmbargoTerminationID   string `json:"embargo_termination_id,omitempty"`

	DateWithdrawn           *time.Time `json:"date_withdrawn,omitempty"`
	WithdrawalJustification string     `json:"withdrawal_justification,omitempty"`
}

func (*Registration) Kind() string { return KindRegistration }
func (r *Registration) StateName() string { return string(r.ModerationState) }

// AdminIDs returns the ids of admin contributors.
func (r *Registration) AdminIDs() []string {
	return r.Contributors.WithPermission(permissions.Admin)
}
