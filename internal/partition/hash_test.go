package partition

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEntries(n int) []Entry {
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{
			TenantID:  fmt.Sprintf("tenant-%d", i%7),
			TriggerID: fmt.Sprintf("trigger-%d", i),
		})
	}
	return entries
}

func TestUpdateBucketsInitial(t *testing.T) {
	buckets := UpdateBuckets(nil, []string{"node-a", "node-b", "node-c"})
	require.Len(t, buckets, 3)
	assert.Equal(t, "node-a", buckets[0])
	assert.Equal(t, "node-b", buckets[1])
	assert.Equal(t, "node-c", buckets[2])
}

func TestUpdateBucketsKeepsSurvivorsInPlace(t *testing.T) {
	old := UpdateBuckets(nil, []string{"node-a", "node-b", "node-c"})

	// node-b leaves; survivors with a still-valid index must not move
	updated := UpdateBuckets(old, []string{"node-a", "node-c"})
	require.Len(t, updated, 2)
	assert.Equal(t, "node-a", updated[0])
	assert.Equal(t, "node-c", updated[1])
}

func TestUpdateBucketsNodeJoin(t *testing.T) {
	old := UpdateBuckets(nil, []string{"node-a", "node-b"})

	updated := UpdateBuckets(old, []string{"node-a", "node-b", "node-c"})
	require.Len(t, updated, 3)
	assert.Equal(t, "node-a", updated[0])
	assert.Equal(t, "node-b", updated[1])
	assert.Equal(t, "node-c", updated[2])
}

func TestUpdateBucketsEmptyMembersPanics(t *testing.T) {
	assert.Panics(t, func() { UpdateBuckets(nil, nil) })
}

func TestCalculatePartitionCoversEveryEntry(t *testing.T) {
	members := []string{"node-a", "node-b", "node-c"}
	buckets := UpdateBuckets(nil, members)
	entries := makeEntries(200)

	partition := CalculatePartition(entries, buckets)
	require.Len(t, partition, len(entries))

	valid := map[string]bool{}
	for _, m := range members {
		valid[m] = true
	}
	for entry, owner := range partition {
		assert.True(t, valid[owner], "entry %s assigned to unknown node %s", entry, owner)
	}
}

func TestCalculatePartitionDeterministic(t *testing.T) {
	buckets := UpdateBuckets(nil, []string{"node-a", "node-b", "node-c"})
	entries := makeEntries(100)

	first := CalculatePartition(entries, buckets)
	second := CalculatePartition(entries, buckets)
	assert.Equal(t, first, second)
}

func TestCalculateNewEntryMatchesPartition(t *testing.T) {
	buckets := UpdateBuckets(nil, []string{"node-a", "node-b", "node-c"})
	entries := makeEntries(50)
	partition := CalculatePartition(entries, buckets)

	for _, entry := range entries {
		assert.Equal(t, partition[entry], CalculateNewEntry(entry, buckets))
	}
}

func TestCalculatePartitionEmptyBucketsPanics(t *testing.T) {
	assert.Panics(t, func() { CalculatePartition(makeEntries(1), nil) })
	assert.Panics(t, func() { CalculateNewEntry(Entry{TenantID: "t", TriggerID: "x"}, nil) })
}

func TestConsistentHashLocalityOnNodeJoin(t *testing.T) {
	entries := makeEntries(1000)
	members := []string{"node-a", "node-b", "node-c"}

	buckets := UpdateBuckets(nil, members)
	before := CalculatePartition(entries, buckets)

	grown := UpdateBuckets(buckets, append(members, "node-d"))
	after := CalculatePartition(entries, grown)

	moved := 0
	for _, entry := range entries {
		if before[entry] != after[entry] {
			moved++
			// Growing the table only ever remaps onto the new bucket
			assert.Equal(t, "node-d", after[entry])
		}
	}
	assert.Less(t, moved, len(entries)/len(members),
		"expected fewer than 1/N of entries to move, moved %d of %d", moved, len(entries))
	assert.Greater(t, moved, 0)
}

func TestNodePartitionGroupsByTenant(t *testing.T) {
	partition := map[Entry]string{
		{TenantID: "t1", TriggerID: "a"}: "node-a",
		{TenantID: "t1", TriggerID: "b"}: "node-b",
		{TenantID: "t2", TriggerID: "c"}: "node-a",
	}

	owned := NodePartition(partition, "node-a")
	require.Len(t, owned, 2)
	assert.ElementsMatch(t, []string{"a"}, owned["t1"])
	assert.ElementsMatch(t, []string{"c"}, owned["t2"])
}

func TestAddedRemoved(t *testing.T) {
	previous := map[Entry]string{
		{TenantID: "t1", TriggerID: "a"}: "node-a",
		{TenantID: "t1", TriggerID: "b"}: "node-a",
		{TenantID: "t1", TriggerID: "c"}: "node-b",
	}
	current := map[Entry]string{
		{TenantID: "t1", TriggerID: "a"}: "node-a",
		{TenantID: "t1", TriggerID: "b"}: "node-b",
		{TenantID: "t1", TriggerID: "c"}: "node-a",
	}

	removed, added := AddedRemoved(previous, current, "node-a")
	assert.ElementsMatch(t, []string{"b"}, removed["t1"])
	assert.ElementsMatch(t, []string{"c"}, added["t1"])
}

func TestAddedRemovedNoPrevious(t *testing.T) {
	current := map[Entry]string{
		{TenantID: "t1", TriggerID: "a"}: "node-a",
		{TenantID: "t1", TriggerID: "b"}: "node-b",
	}

	removed, added := AddedRemoved(nil, current, "node-a")
	assert.Empty(t, removed)
	assert.ElementsMatch(t, []string{"a"}, added["t1"])
}
