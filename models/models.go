// Package models holds the persisted entities the machines act on.
//
// Entities are plain structs serialized as JSON by the store. Each one
// embeds Base, which carries the id and the optimistic-lock revision.
package models

import (
	"time"
)

// Entity kinds as stored.
const (
	KindUser                 = "user"
	KindProvider             = "provider"
	KindNode                 = "node"
	KindRegistration         = "registration"
	KindSanction             = "sanction"
	KindPreprint             = "preprint"
	KindNodeRequest          = "node_request"
	KindPreprintRequest      = "preprint_request"
	KindCollection           = "collection"
	KindCollectionSubmission = "collection_submission"
)

// Base is embedded by every entity.
type Base struct {
	ID       string    `json:"id"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	rev int64
}

func (b *Base) Key() string { return b.ID }

// Revision is the version the entity was loaded at. Zero means new.
func (b *Base) Revision() int64 { return b.rev }

func (b *Base) SetRevision(rev int64) { b.rev = rev }

// User is an OSF account.
type User struct {
	Base

	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

func (*User) Kind() string { return KindUser }
func (*User) StateName() string { return "" }
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}

	return u.Email
}
