package partition

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// Entry is the unit of partition assignment. Value semantics: entries cross
// node and store boundaries, so equality is by field value.
type Entry struct {
	TenantID  string `json:"tenant_id"`
	TriggerID string `json:"trigger_id"`
}

func (e Entry) String() string {
	return e.TenantID + "/" + e.TriggerID
}

// UpdateBuckets recalculates the bucket table (index -> node id) for a new
// member list, minimizing changes: a surviving node keeps its bucket index
// whenever possible so that only entries hashed to vacated buckets move.
//
// Empty members is a programmer error.
func UpdateBuckets(oldBuckets map[int]string, members []string) map[int]string {
	if len(members) == 0 {
		panic("partition: members must not be empty")
	}

	newBuckets := make(map[int]string, len(members))
	if len(oldBuckets) == 0 {
		for i, member := range members {
			newBuckets[i] = member
		}
		return newBuckets
	}

	for newBucket := 0; newBucket < len(members); newBucket++ {
		placed := false
		for bucket := 0; bucket < len(oldBuckets); bucket++ {
			oldMember := oldBuckets[bucket]
			if !containsValue(newBuckets, oldMember) &&
				containsMember(members, oldMember) &&
				(bucket == newBucket || bucket >= len(members)) {
				newBuckets[newBucket] = oldMember
				placed = true
				break
			}
		}
		if !placed {
			newBuckets[newBucket] = nextUnusedMember(newBuckets, members, newBucket)
		}
	}
	return newBuckets
}

// CalculatePartition distributes entries across the bucket table using
// consistent hashing. Pure function of its inputs.
func CalculatePartition(entries []Entry, buckets map[int]string) map[Entry]string {
	if len(buckets) == 0 {
		panic("partition: buckets must not be empty")
	}
	newPartition := make(map[Entry]string, len(entries))
	for _, entry := range entries {
		newPartition[entry] = buckets[consistentBucket(entryHash(entry), len(buckets))]
	}
	return newPartition
}

// CalculateNewEntry places a single entry without recomputing the whole
// partition.
func CalculateNewEntry(entry Entry, buckets map[int]string) string {
	if len(buckets) == 0 {
		panic("partition: buckets must not be empty")
	}
	return buckets[consistentBucket(entryHash(entry), len(buckets))]
}

// entryHash is a stable hash of (tenantId, triggerId); it must not vary
// across nodes or process restarts.
func entryHash(entry Entry) uint64 {
	sum := md5.Sum([]byte(entry.TenantID + "/" + entry.TriggerID))
	return binary.BigEndian.Uint64(sum[:8])
}

// consistentBucket implements the jump consistent hash by Lamping and Veach.
// Growing the bucket count from n to n+1 remaps only ~1/(n+1) of the keys.
func consistentBucket(key uint64, numBuckets int) int {
	var b, j int64 = -1, 0
	for j < int64(numBuckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int(b)
}

func containsValue(buckets map[int]string, member string) bool {
	for _, v := range buckets {
		if v == member {
			return true
		}
	}
	return false
}

func containsMember(members []string, member string) bool {
	for _, m := range members {
		if m == member {
			return true
		}
	}
	return false
}

func nextUnusedMember(buckets map[int]string, members []string, preferred int) string {
	if !containsValue(buckets, members[preferred]) {
		return members[preferred]
	}
	for _, m := range members {
		if !containsValue(buckets, m) {
			return m
		}
	}
	// Unreachable: there are always at least as many members as buckets filled
	panic(fmt.Sprintf("partition: no unused member among %v for buckets %v", members, buckets))
}
