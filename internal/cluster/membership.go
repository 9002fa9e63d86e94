// Package cluster provides the membership view the partition manager
// reacts to: the live member list, a coordinator flag, and a notification
// when the topology changes.
package cluster

import (
	"context"
	"sort"
	"sync"
)

// Membership is the cluster view for one node. Members are stable node ids;
// the coordinator is a deterministic choice every node agrees on given the
// same member set.
type Membership interface {
	// Self returns this node's id.
	Self() string

	// Members returns the current sorted member list, including self.
	Members(ctx context.Context) ([]string, error)

	// IsCoordinator reports whether this node currently coordinates
	// partition recomputation.
	IsCoordinator(ctx context.Context) (bool, error)

	// Changes signals topology changes. Coalescing is allowed; every
	// change eventually produces at least one signal.
	Changes() <-chan struct{}

	Start(ctx context.Context) error
	Stop() error
}

// StaticMembership is a fixed-member view used standalone and in tests.
// Member changes are applied explicitly via SetMembers.
type StaticMembership struct {
	self string

	mu      sync.Mutex
	members []string

	changes chan struct{}
}

// NewStaticMembership builds a view with the given members. Self must be
// among them.
func NewStaticMembership(self string, members ...string) *StaticMembership {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	return &StaticMembership{
		self:    self,
		members: sorted,
		changes: make(chan struct{}, 8),
	}
}

func (m *StaticMembership) Self() string { return m.self }

func (m *StaticMembership) Members(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.members...), nil
}

func (m *StaticMembership) IsCoordinator(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members) > 0 && m.members[0] == m.self, nil
}

// SetMembers replaces the member list and fires a topology change.
func (m *StaticMembership) SetMembers(members ...string) {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	m.mu.Lock()
	m.members = sorted
	m.mu.Unlock()
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func (m *StaticMembership) Changes() <-chan struct{} { return m.changes }

func (m *StaticMembership) Start(ctx context.Context) error { return nil }

func (m *StaticMembership) Stop() error { return nil }
