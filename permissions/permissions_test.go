package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type contributors map[string]Permission

func (c contributors) PermissionFor(userID string) (Permission, bool) {
	p, ok := c[userID]

	return p, ok
}

type moderators map[string]bool

func (m moderators) IsModerator(userID string) bool {
	return m[userID]
}

func TestIncludes(t *testing.T) {
	t.Parallel()

	assert.True(t, Admin.Includes(Write))
	assert.True(t, Admin.Includes(Read))
	assert.True(t, Write.Includes(Write))
	assert.False(t, Read.Includes(Admin))
	assert.False(t, Admin.Includes(AcceptSubmissions))
	assert.True(t, AcceptSubmissions.Includes(AcceptSubmissions))
}

func TestDefault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	node := contributors{"alice": Admin, "bob": Read}
	checker := Default{}

	assert.True(t, checker.HasPermission(ctx, "alice", node, Admin))
	assert.False(t, checker.HasPermission(ctx, "bob", node, Write))
	assert.False(t, checker.HasPermission(ctx, "carol", node, Read))
	assert.False(t, checker.HasPermission(ctx, "", node, Read))
	assert.False(t, checker.HasPermission(ctx, "alice", nil, Read))

	mods := moderators{"mod": true}
	assert.True(t, checker.IsModerator(ctx, "mod", mods))
	assert.False(t, checker.IsModerator(ctx, "alice", mods))
	assert.False(t, checker.IsModerator(ctx, "mod", nil))
}
