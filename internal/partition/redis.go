package partition

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vigil/internal/logger"
)

// Redis keys and channels for the replicated partition state.
const (
	keyBuckets  = "vigil:partition:buckets"
	keyPrevious = "vigil:partition:previous"
	keyCurrent  = "vigil:partition:current"
	keyChanged  = "vigil:partition:changed"

	chanChanged  = "vigil:partition:changed"
	chanTriggers = "vigil:partition:triggers"
	chanData     = "vigil:partition:data"
)

// RedisStore backs the partition state with Redis: state keys are written
// in one MULTI/EXEC so readers never observe a partial partition, and the
// notification transports ride pub/sub plus a TTL'd marker key.
type RedisStore struct {
	client   *redis.Client
	lifespan time.Duration

	pubsub *redis.PubSub
	stop   chan struct{}
}

// NewRedisStore wraps an existing client. The lifespan bounds how long
// notification hints stay observable.
func NewRedisStore(client *redis.Client, lifespan time.Duration) *RedisStore {
	return &RedisStore{
		client:   client,
		lifespan: lifespan,
		stop:     make(chan struct{}),
	}
}

// partitionRecord is the wire form of one partition assignment; Entry keys
// cannot be JSON map keys directly.
type partitionRecord struct {
	TenantID  string `json:"tenant_id"`
	TriggerID string `json:"trigger_id"`
	Node      string `json:"node"`
}

func encodePartition(p map[Entry]string) ([]byte, error) {
	records := make([]partitionRecord, 0, len(p))
	for entry, node := range p {
		records = append(records, partitionRecord{entry.TenantID, entry.TriggerID, node})
	}
	return json.Marshal(records)
}

func decodePartition(raw []byte) (map[Entry]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var records []partitionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	p := make(map[Entry]string, len(records))
	for _, r := range records {
		p[Entry{TenantID: r.TenantID, TriggerID: r.TriggerID}] = r.Node
	}
	return p, nil
}

func (s *RedisStore) Load(ctx context.Context) (State, error) {
	vals, err := s.client.MGet(ctx, keyBuckets, keyPrevious, keyCurrent).Result()
	if err != nil {
		return State{}, fmt.Errorf("load partition state: %w", err)
	}

	var st State
	if raw, ok := vals[0].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.Buckets); err != nil {
			return State{}, fmt.Errorf("decode buckets: %w", err)
		}
	}
	if raw, ok := vals[1].(string); ok {
		if st.Previous, err = decodePartition([]byte(raw)); err != nil {
			return State{}, fmt.Errorf("decode previous partition: %w", err)
		}
	}
	if raw, ok := vals[2].(string); ok {
		if st.Current, err = decodePartition([]byte(raw)); err != nil {
			return State{}, fmt.Errorf("decode current partition: %w", err)
		}
	}
	return st, nil
}

func (s *RedisStore) Save(ctx context.Context, st State) error {
	pipe := s.client.TxPipeline()
	if st.Buckets != nil {
		raw, err := json.Marshal(st.Buckets)
		if err != nil {
			return fmt.Errorf("encode buckets: %w", err)
		}
		pipe.Set(ctx, keyBuckets, raw, 0)
	}
	if st.Previous != nil {
		raw, err := encodePartition(st.Previous)
		if err != nil {
			return fmt.Errorf("encode previous partition: %w", err)
		}
		pipe.Set(ctx, keyPrevious, raw, 0)
	}
	if st.Current != nil {
		raw, err := encodePartition(st.Current)
		if err != nil {
			return fmt.Errorf("encode current partition: %w", err)
		}
		pipe.Set(ctx, keyCurrent, raw, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save partition state: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkChanged(ctx context.Context) error {
	// The marker key is a TTL'd breadcrumb for late joiners; the pub/sub
	// message is what wakes live subscribers.
	if err := s.client.Set(ctx, keyChanged, time.Now().UnixMilli(), s.lifespan).Err(); err != nil {
		return fmt.Errorf("set change marker: %w", err)
	}
	if err := s.client.Publish(ctx, chanChanged, "changed").Err(); err != nil {
		return fmt.Errorf("publish change marker: %w", err)
	}
	return nil
}

func (s *RedisStore) PublishTrigger(ctx context.Context, nt NotifyTrigger) error {
	raw, err := json.Marshal(nt)
	if err != nil {
		return fmt.Errorf("encode trigger notification: %w", err)
	}
	return s.client.Publish(ctx, chanTriggers, raw).Err()
}

func (s *RedisStore) PublishData(ctx context.Context, nd NotifyData) error {
	raw, err := json.Marshal(nd)
	if err != nil {
		return fmt.Errorf("encode data notification: %w", err)
	}
	return s.client.Publish(ctx, chanData, raw).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context) (Subscription, error) {
	s.pubsub = s.client.Subscribe(ctx, chanChanged, chanTriggers, chanData)
	if _, err := s.pubsub.Receive(ctx); err != nil {
		return Subscription{}, fmt.Errorf("subscribe partition channels: %w", err)
	}

	changes := make(chan struct{}, subscriberBuffer)
	triggers := make(chan NotifyTrigger, subscriberBuffer)
	data := make(chan NotifyData, subscriberBuffer)

	go s.listen(changes, triggers, data)

	return Subscription{
		PartitionChanges: changes,
		Triggers:         triggers,
		Data:             data,
	}, nil
}

func (s *RedisStore) listen(changes chan<- struct{}, triggers chan<- NotifyTrigger, data chan<- NotifyData) {
	log := logger.WithComponent("partition_store")
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch msg.Channel {
			case chanChanged:
				select {
				case changes <- struct{}{}:
				default:
					// A pending wakeup covers this marker; the
					// consumer reloads the full state.
				}
			case chanTriggers:
				var nt NotifyTrigger
				if err := json.Unmarshal([]byte(msg.Payload), &nt); err != nil {
					log.Error().Err(err).Msg("malformed trigger notification")
					continue
				}
				select {
				case triggers <- nt:
				default:
					log.Warn().Msg("trigger notification dropped, subscriber busy")
				}
			case chanData:
				var nd NotifyData
				if err := json.Unmarshal([]byte(msg.Payload), &nd); err != nil {
					log.Error().Err(err).Msg("malformed data notification")
					continue
				}
				select {
				case data <- nd:
				default:
					log.Warn().Msg("data notification dropped, subscriber busy")
				}
			}
		}
	}
}

func (s *RedisStore) Close() error {
	close(s.stop)
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
