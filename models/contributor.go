package models

import (
	"errors"

	"github.com/amp-labs/osf-moderation/permissions"
)

// IntegrityError is returned when a change would break an entity rule.
type IntegrityError struct {
	Message string
}

func (e *IntegrityError) Error() string {
	return e.Message
}

// ErrCuratorVisible is the rule violated when a curator would be listed as
// a bibliographic contributor.
var ErrCuratorVisible = &IntegrityError{Message: "Curators cannot be made bibliographic contributors"}

// ErrUserIDRequired is returned when adding a contributor without a user.
var ErrUserIDRequired = errors.New("contributor user id is required")

// Contributor is a user's membership on a node or preprint.
type Contributor struct {
	UserID     string                 `json:"user_id"`
	Permission permissions.Permission `json:"permission"`
	Visible    bool                   `json:"visible"`
	Curator    bool                   `json:"curator,omitempty"`
}

// Contributors is the ordered contributor list of a node or preprint.
type Contributors []Contributor

var _ permissions.Contributors = Contributors(nil)

func (cs Contributors) PermissionFor(userID string) (permissions.Permission, bool) {
	for _, c := range cs {
		if c.UserID == userID {
			return c.Permission, true
		}
	}

	return "", false
}

// Get returns the contributor entry for userID.
func (cs Contributors) Get(userID string) (Contributor, bool) {
	for _, c := range cs {
		if c.UserID == userID {
			return c, true
		}
	}

	return Contributor{}, false
}

// WithPermission returns the ids of contributors holding at least p.
func (cs Contributors) WithPermission(p permissions.Permission) []string {
	var ids []string

	for _, c := range cs {
		if c.Permission.Includes(p) {
			ids = append(ids, c.UserID)
		}
	}

	return ids
}

// Add adds c, or upgrades an existing entry. Curators are never visible.
func (cs *Contributors) Add(c Contributor) error {
	if c.UserID == "" {
		return ErrUserIDRequired
	}

	if c.Curator && c.Visible {
		return ErrCuratorVisible
	}

	for i, existing := range *cs {
		if existing.UserID != c.UserID {
			continue
		}

		if c.Curator && existing.Visible {
			return ErrCuratorVisible
		}

		if c.Permission.Includes(existing.Permission) {
			existing.Permission = c.Permission
		}

		existing.Curator = existing.Curator || c.Curator
		(*cs)[i] = existing

		return nil
	}

	*cs = append(*cs, c)

	return nil
}
