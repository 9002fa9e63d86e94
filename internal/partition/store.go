package partition

import (
	"context"
	"sync"
	"time"
)

// State is the replicated partition view. Nil maps in a Save are left
// untouched; non-nil maps replace the stored value. All keys written in one
// Save become visible together.
type State struct {
	Buckets  map[int]string
	Previous map[Entry]string
	Current  map[Entry]string
}

// Store abstracts the replicated key/value space holding the partition
// state plus the two notification transports. Notification entries carry a
// bounded lifespan; expiry without observation is accepted loss.
type Store interface {
	// Load returns the last published state. Missing keys come back nil.
	Load(ctx context.Context) (State, error)

	// Save atomically publishes the non-nil parts of st.
	Save(ctx context.Context, st State) error

	// MarkChanged publishes the partition-change marker. The marker is a
	// level signal: subscribers reload the full state on wakeup, so
	// markers coalesce when a wakeup is already pending. Every Save
	// followed by MarkChanged is observed by some later wakeup.
	MarkChanged(ctx context.Context) error

	// PublishTrigger propagates a trigger notification with TTL.
	PublishTrigger(ctx context.Context, nt NotifyTrigger) error

	// PublishData propagates a data/events notification with TTL.
	PublishData(ctx context.Context, nd NotifyData) error

	// Subscribe returns the notification channels for this node. Must be
	// called once per store handle, before any notifications of interest.
	Subscribe(ctx context.Context) (Subscription, error)

	Close() error
}

// Subscription carries the change-notification channels for one node.
type Subscription struct {
	PartitionChanges <-chan struct{}
	Triggers         <-chan NotifyTrigger
	Data             <-chan NotifyData
}

const subscriberBuffer = 256

// MemoryStore is an in-process Store. Several subscribers may share one
// MemoryStore, which makes it usable both standalone and as a fake cluster
// transport in tests.
type MemoryStore struct {
	mu    sync.Mutex
	state State

	subs []*memorySub

	lifespan time.Duration
}

type memorySub struct {
	changes  chan struct{}
	triggers chan NotifyTrigger
	data     chan NotifyData
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore(lifespan time.Duration) *MemoryStore {
	return &MemoryStore{lifespan: lifespan}
}

func (s *MemoryStore) Load(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Buckets:  copyBuckets(s.state.Buckets),
		Previous: copyPartition(s.state.Previous),
		Current:  copyPartition(s.state.Current),
	}, nil
}

func (s *MemoryStore) Save(ctx context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Buckets != nil {
		s.state.Buckets = copyBuckets(st.Buckets)
	}
	if st.Previous != nil {
		s.state.Previous = copyPartition(st.Previous)
	}
	if st.Current != nil {
		s.state.Current = copyPartition(st.Current)
	}
	return nil
}

func (s *MemoryStore) MarkChanged(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.changes <- struct{}{}:
		default:
			// Buffer full means a wakeup is already pending; that
			// wakeup runs after this call and loads the state this
			// marker announces.
		}
	}
	return nil
}

func (s *MemoryStore) PublishTrigger(ctx context.Context, nt NotifyTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.triggers <- nt:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) PublishData(ctx context.Context, nd NotifyData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.data <- nd:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context) (Subscription, error) {
	sub := &memorySub{
		changes:  make(chan struct{}, subscriberBuffer),
		triggers: make(chan NotifyTrigger, subscriberBuffer),
		data:     make(chan NotifyData, subscriberBuffer),
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return Subscription{
		PartitionChanges: sub.changes,
		Triggers:         sub.triggers,
		Data:             sub.data,
	}, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func copyBuckets(in map[int]string) map[int]string {
	if in == nil {
		return nil
	}
	out := make(map[int]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyPartition(in map[Entry]string) map[Entry]string {
	if in == nil {
		return nil
	}
	out := make(map[Entry]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
