package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticMembershipSortsMembers(t *testing.T) {
	m := NewStaticMembership("node-b", "node-b", "node-a", "node-c")

	members, err := m.Members(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a", "node-b", "node-c"}, members)
	assert.Equal(t, "node-b", m.Self())
}

func TestStaticMembershipCoordinator(t *testing.T) {
	ctx := context.Background()

	first := NewStaticMembership("node-a", "node-a", "node-b")
	isCoord, err := first.IsCoordinator(ctx)
	require.NoError(t, err)
	assert.True(t, isCoord, "lowest member id coordinates")

	second := NewStaticMembership("node-b", "node-a", "node-b")
	isCoord, err = second.IsCoordinator(ctx)
	require.NoError(t, err)
	assert.False(t, isCoord)
}

func TestStaticMembershipSetMembersSignalsChange(t *testing.T) {
	m := NewStaticMembership("node-a", "node-a")

	m.SetMembers("node-a", "node-b")

	select {
	case <-m.Changes():
	default:
		t.Fatal("expected a topology change signal")
	}

	members, err := m.Members(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a", "node-b"}, members)
}

func TestStaticMembershipCoordinatorAfterChange(t *testing.T) {
	ctx := context.Background()
	m := NewStaticMembership("node-b", "node-a", "node-b")

	// node-a leaves; node-b takes over coordination
	m.SetMembers("node-b")
	isCoord, err := m.IsCoordinator(ctx)
	require.NoError(t, err)
	assert.True(t, isCoord)
}
