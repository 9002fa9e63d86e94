package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"vigil/internal/logger"
)

const (
	memberKeyPrefix = "vigil:cluster:member:"
	topologyChannel = "vigil:cluster:topology"
)

// RedisMembership derives the member view from heartbeat keys: each node
// refreshes vigil:cluster:member:<id> with a TTL, so a dead node drops out
// of the view once its key expires. Topology changes are announced on
// pub/sub and additionally detected by polling, covering silent expiries.
type RedisMembership struct {
	client    *redis.Client
	self      string
	heartbeat time.Duration

	changes chan struct{}
	pubsub  *redis.PubSub
	stop    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	lastView []string
}

// NewRedisMembership builds a membership view for node self. The heartbeat
// interval also scales the member TTL (3x) and the poll period.
func NewRedisMembership(client *redis.Client, self string, heartbeat time.Duration) *RedisMembership {
	if heartbeat <= 0 {
		heartbeat = 2 * time.Second
	}
	return &RedisMembership{
		client:    client,
		self:      self,
		heartbeat: heartbeat,
		changes:   make(chan struct{}, 8),
		stop:      make(chan struct{}),
	}
}

func (m *RedisMembership) Self() string { return m.self }

func (m *RedisMembership) Members(ctx context.Context) ([]string, error) {
	var members []string
	iter := m.client.Scan(ctx, 0, memberKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		members = append(members, strings.TrimPrefix(iter.Val(), memberKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan cluster members: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

func (m *RedisMembership) IsCoordinator(ctx context.Context) (bool, error) {
	members, err := m.Members(ctx)
	if err != nil {
		return false, err
	}
	return len(members) > 0 && members[0] == m.self, nil
}

func (m *RedisMembership) Changes() <-chan struct{} { return m.changes }

func (m *RedisMembership) Start(ctx context.Context) error {
	if err := m.register(ctx); err != nil {
		return err
	}

	m.pubsub = m.client.Subscribe(ctx, topologyChannel)
	if _, err := m.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe topology channel: %w", err)
	}

	if err := m.client.Publish(ctx, topologyChannel, "join:"+m.self).Err(); err != nil {
		return fmt.Errorf("announce join: %w", err)
	}

	m.wg.Add(2)
	go m.heartbeatLoop()
	go m.watchLoop()
	return nil
}

func (m *RedisMembership) Stop() error {
	close(m.stop)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.client.Del(ctx, memberKeyPrefix+m.self)
	m.client.Publish(ctx, topologyChannel, "leave:"+m.self)
	if m.pubsub != nil {
		m.pubsub.Close()
	}
	m.wg.Wait()
	return nil
}

func (m *RedisMembership) register(ctx context.Context) error {
	if err := m.client.Set(ctx, memberKeyPrefix+m.self, time.Now().UnixMilli(), 3*m.heartbeat).Err(); err != nil {
		return fmt.Errorf("register cluster member: %w", err)
	}
	return nil
}

func (m *RedisMembership) heartbeatLoop() {
	defer m.wg.Done()
	log := logger.WithComponent("cluster")
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.heartbeat)
			if err := m.register(ctx); err != nil {
				log.Error().Err(err).Msg("heartbeat failed")
			}
			cancel()
		}
	}
}

// watchLoop merges pub/sub topology announcements with periodic polling so
// a member lost to TTL expiry still produces a change signal.
func (m *RedisMembership) watchLoop() {
	defer m.wg.Done()
	log := logger.WithComponent("cluster")
	ticker := time.NewTicker(2 * m.heartbeat)
	defer ticker.Stop()
	ch := m.pubsub.Channel()
	for {
		select {
		case <-m.stop:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			log.Debug().Str("announce", msg.Payload).Msg("topology announcement")
			m.fireChange()
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.heartbeat)
			members, err := m.Members(ctx)
			cancel()
			if err != nil {
				log.Error().Err(err).Msg("member poll failed")
				continue
			}
			m.mu.Lock()
			changed := !equalMembers(m.lastView, members)
			m.lastView = members
			m.mu.Unlock()
			if changed {
				m.fireChange()
			}
		}
	}
}

func (m *RedisMembership) fireChange() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func equalMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
