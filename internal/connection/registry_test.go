package connection

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(id string, role Role) *Connection {
	return New(id, role, nil, "127.0.0.1:0", 8, 0, zerolog.Nop())
}

func TestRegistryInsertAndGet(t *testing.T) {
	r := NewRegistry()
	c := newTestConnection("a", RoleSender)

	r.Insert(c)

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, r.CountByRole(RoleSender))
	assert.Equal(t, 0, r.CountByRole(RoleDashboard))
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := newTestConnection("a", RoleListener)
	r.Insert(c)

	r.Remove("a")
	r.Remove("a")

	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.CountByRole(RoleListener))
}

func TestRegistrySnapshotIsolatedFromLateJoiners(t *testing.T) {
	r := NewRegistry()
	r.Insert(newTestConnection("a", RoleOrientationListener))

	snap := r.Snapshot(RoleOrientationListener)
	require.Len(t, snap, 1)

	r.Insert(newTestConnection("b", RoleOrientationListener))
	assert.Len(t, snap, 1, "a snapshot taken before a later Insert must not grow")
	assert.Equal(t, 2, r.CountByRole(RoleOrientationListener))
}

func TestRegistrySnapshotAllSpansRoles(t *testing.T) {
	r := NewRegistry()
	r.Insert(newTestConnection("a", RoleSender))
	r.Insert(newTestConnection("b", RoleDashboard))
	r.Insert(newTestConnection("c", RoleBulkListener))

	assert.Len(t, r.SnapshotAll(), 3)
}
