// Package permissions answers who may do what on a node or provider.
package permissions

import "context"

// Permission is a contributor permission level or a provider capability.
type Permission string

const (
	Read  Permission = "read"
	Write Permission = "write"
	Admin Permission = "admin"

	// AcceptSubmissions is granted to provider moderators and admins.
	AcceptSubmissions Permission = "accept_submissions"
)

var levels = map[Permission]int{
	Read:  1,
	Write: 2,
	Admin: 3,
}

// Includes reports whether p grants at least want. Only contributor levels
// are ordered; any other permission includes only itself.
func (p Permission) Includes(want Permission) bool {
	have, ok1 := levels[p]
	need, ok2 := levels[want]

	if !ok1 || !ok2 {
		return p == want
	}

	return have >= need
}

// Contributors is anything that knows a user's permission on a node.
type Contributors interface {
	PermissionFor(userID string) (Permission, bool)
}

// Moderators is anything that knows who moderates a provider.
type Moderators interface {
	IsModerator(userID string) bool
}

// Checker is consulted by guards. Implementations may be backed by an
// external authorization service.
type Checker interface {
	HasPermission(ctx context.Context, userID string, on Contributors, want Permission) bool
	IsModerator(ctx context.Context, userID string, of Moderators) bool
}

// Default answers from the entities themselves.
type Default struct{}

var _ Checker = Default{}

func (Default) HasPermission(_ context.Context, userID string, on Contributors, want Permission) bool {
	if userID == "" || on == nil {
		return false
	}

	have, ok := on.PermissionFor(userID)

	return ok && have.Includes(want)
}

func (Default) IsModerator(_ context.Context, userID string, of Moderators) bool {
	if userID == "" || of == nil {
		return false
	}

	return of.IsModerator(userID)
}
