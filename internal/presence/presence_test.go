package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedeck/backend/internal/identity"
)

func TestSnapshotDedupsByUserID(t *testing.T) {
	reg := identity.NewRegistry()
	reg.Register("conn-a", "alice", "u1")
	reg.Register("conn-b", "alice2", "u1")
	reg.Register("conn-c", "bob", "u2")

	clients := Snapshot(reg, []string{"conn-a", "conn-b", "conn-c"})

	require.Len(t, clients, 2)
	assert.Equal(t, "conn-a", clients[0].SocketID)
	assert.Equal(t, "alice", clients[0].Username)
	require.NotNil(t, clients[0].UserID)
	assert.Equal(t, "u1", *clients[0].UserID)
	assert.Equal(t, "bob", clients[1].Username)
}

func TestSnapshotFirstEncounteredWins(t *testing.T) {
	reg := identity.NewRegistry()
	reg.Register("conn-a", "first-tab", "u1")
	reg.Register("conn-b", "second-tab", "u1")

	clients := Snapshot(reg, []string{"conn-b", "conn-a"})

	require.Len(t, clients, 1)
	assert.Equal(t, "conn-b", clients[0].SocketID)
	assert.Equal(t, "second-tab", clients[0].Username)
}

func TestSnapshotAnonymousNeverMerged(t *testing.T) {
	reg := identity.NewRegistry()

	clients := Snapshot(reg, []string{"conn-a", "conn-b", "conn-c"})

	require.Len(t, clients, 3)
	for _, c := range clients {
		assert.Equal(t, AnonymousName, c.Username)
		assert.Nil(t, c.UserID)
	}
}

func TestSnapshotEmptyUserIDTreatedAsAnonymousGrouping(t *testing.T) {
	reg := identity.NewRegistry()
	reg.Register("conn-a", "alice", "")
	reg.Register("conn-b", "bob", "")

	clients := Snapshot(reg, []string{"conn-a", "conn-b"})

	// Known usernames but no userId to group on: keep both.
	require.Len(t, clients, 2)
	assert.Equal(t, "alice", clients[0].Username)
	assert.Equal(t, "bob", clients[1].Username)
}

func TestSnapshotMixed(t *testing.T) {
	reg := identity.NewRegistry()
	reg.Register("conn-a", "alice", "u1")
	reg.Register("conn-b", "alice", "u1")

	clients := Snapshot(reg, []string{"conn-a", "conn-anon", "conn-b"})

	require.Len(t, clients, 2)
	assert.Equal(t, "alice", clients[0].Username)
	assert.Equal(t, AnonymousName, clients[1].Username)
}

func TestSnapshotEmptyMembership(t *testing.T) {
	reg := identity.NewRegistry()
	assert.Empty(t, Snapshot(reg, nil))
}

func TestCountIdentified(t *testing.T) {
	reg := identity.NewRegistry()
	reg.Register("conn-a", "alice", "u1")
	reg.Register("conn-b", "bob", "u2")

	assert.Equal(t, 2, CountIdentified(reg, []string{"conn-a", "conn-b", "conn-anon"}))
	assert.Equal(t, 0, CountIdentified(reg, []string{"conn-anon"}))
	assert.Equal(t, 0, CountIdentified(reg, nil))
}
