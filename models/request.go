package models

import (
	"time"

	"github.com/amp-labs/osf-moderation/permissions"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

// NodeRequest asks for access to a node.
type NodeRequest struct {
	Base

	TargetID    string             `json:"target_id"`
	CreatorID   string             `json:"creator_id"`
	RequestType wf.NodeRequestType `json:"request_type"`
	State       wf.DefaultState    `json:"machine_state"`
	Comment     string             `json:"comment,omitempty"`

	RequestedPermission permissions.Permission `json:"requested_permissions,omitempty"`

	DateLastTransitioned *time.Time `json:"date_last_transitioned,omitempty"`
}

func (*NodeRequest) Kind() string { return KindNodeRequest }
func (r *NodeRequest) StateName() string { return string(r.State) }

// PreprintRequest asks a provider to withdraw a preprint.
type PreprintRequest struct {
	Base

	TargetID  string          `json:"target_id"`
	CreatorID string          `json:"creator_id"`
	State     wf.DefaultState `json:"machine_state"`
	Comment   string          `json:"comment,omitempty"`

	DateLastTransitioned *time.Time `json:"date_last_transitioned,omitempty"`
}

func (*PreprintRequest) Kind() string { return KindPreprintRequest }
func (r *PreprintRequest) StateName() string { return string(r.State) }
