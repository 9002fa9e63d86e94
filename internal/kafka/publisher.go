package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"vigil/internal/config"
	"vigil/internal/logger"
	"vigil/internal/metrics"
	"vigil/internal/model"
)

var ErrPublisherClosed = errors.New("publisher is closed")

// notification is the wire envelope for fired triggers on the alerts topic.
type notification struct {
	TenantID  string      `json:"tenant_id"`
	TriggerID string      `json:"trigger_id"`
	Plugin    string      `json:"plugin,omitempty"`
	ActionID  string      `json:"action_id,omitempty"`
	Event     model.Event `json:"event"`
}

// Publisher emits fired trigger notifications to the alerts topic, one
// message per configured action. It implements the actions sink consumed
// by the engine. A small writer pool bounds concurrent connections.
type Publisher struct {
	pool   chan *kafka.Writer
	closed atomic.Bool
}

func NewPublisher(cfg config.KafkaConfig) *Publisher {
	const poolSize = 4
	p := &Publisher{pool: make(chan *kafka.Writer, poolSize)}
	for i := 0; i < poolSize; i++ {
		p.pool <- &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.AlertsTopic,
			Balancer:     &kafka.Hash{}, // partition by tenant
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
			BatchTimeout: 50 * time.Millisecond,
		}
	}
	return p
}

// Send publishes one notification per trigger action. Triggers with no
// actions still publish a single notification so downstream consumers see
// every firing.
func (p *Publisher) Send(ctx context.Context, trigger *model.Trigger, event model.Event) {
	if p.closed.Load() {
		return
	}
	log := logger.WithTrigger(trigger.TenantID, trigger.ID)

	notifications := make([]notification, 0, len(trigger.Actions))
	if len(trigger.Actions) == 0 {
		notifications = append(notifications, notification{
			TenantID:  trigger.TenantID,
			TriggerID: trigger.ID,
			Event:     event,
		})
	}
	for _, action := range trigger.Actions {
		notifications = append(notifications, notification{
			TenantID:  trigger.TenantID,
			TriggerID: trigger.ID,
			Plugin:    action.Plugin,
			ActionID:  action.ActionID,
			Event:     event,
		})
	}

	messages := make([]kafka.Message, 0, len(notifications))
	for _, n := range notifications {
		value, err := json.Marshal(n)
		if err != nil {
			log.Error().Err(err).Msg("cannot serialize notification")
			continue
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(trigger.TenantID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "tenant_id", Value: []byte(trigger.TenantID)},
				{Key: "trigger_id", Value: []byte(trigger.ID)},
				{Key: "category", Value: []byte(event.Category)},
			},
		})
	}
	if len(messages) == 0 {
		return
	}

	var writer *kafka.Writer
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		metrics.KafkaPublishTotal.WithLabelValues("failed").Add(float64(len(messages)))
		return
	}

	start := time.Now()
	err := writer.WriteMessages(ctx, messages...)
	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.KafkaPublishTotal.WithLabelValues("failed").Add(float64(len(messages)))
		log.Error().Err(err).Int("count", len(messages)).Msg("cannot publish notifications")
		return
	}
	metrics.KafkaPublishTotal.WithLabelValues("success").Add(float64(len(messages)))
}

// Close drains the writer pool and closes every writer.
func (p *Publisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPublisherClosed
	}
	var firstErr error
	for i := 0; i < cap(p.pool); i++ {
		writer := <-p.pool
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
