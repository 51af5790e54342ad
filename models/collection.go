package models

import (
	"time"

	wf "github.com/amp-labs/osf-moderation/workflows"
)

// Collection groups nodes under a collection provider.
type Collection struct {
	Base

	Title      string `json:"title"`
	ProviderID string `json:"provider_id"`
}

func (*Collection) Kind() string { return KindCollection }
func (*Collection) StateName() string { return "" }

// CollectionSubmission is a node submitted to a collection.
type CollectionSubmission struct {
	Base

	CollectionID string                       `json:"collection_id"`
	NodeID       string                       `json:"node_id"`
	CreatorID    string                       `json:"creator_id"`
	State        wf.CollectionSubmissionState `json:"machine_state"`

	DateLastTransitioned *time.Time `json:"date_last_transitioned,omitempty"`
}

func (*CollectionSubmission) Kind() string { return KindCollectionSubmission }
func (s *CollectionSubmission) StateName() string { return string(s.State) }
