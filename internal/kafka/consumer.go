// Package kafka connects the alerting engine to Kafka: a consumer feeding
// the ingestion buffer from the data and events topics, and a publisher
// emitting fired alerts and events for downstream action plugins.
package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"

	"vigil/internal/config"
	"vigil/internal/ingest"
	"vigil/internal/logger"
	"vigil/internal/metrics"
	"vigil/internal/model"
)

// Consumer reads data and event batches from Kafka and submits them raw to
// the ingestion buffer. Message values are JSON arrays.
type Consumer struct {
	buffer *ingest.Buffer

	dataReader   *kafka.Reader
	eventsReader *kafka.Reader

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewConsumer(cfg config.KafkaConfig, buffer *ingest.Buffer) *Consumer {
	return &Consumer{
		buffer: buffer,
		dataReader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.DataTopic,
			GroupID: cfg.GroupID,
		}),
		eventsReader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.EventsTopic,
			GroupID: cfg.GroupID,
		}),
	}
}

// Start launches one consume loop per topic.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go c.consumeData(ctx)
	go c.consumeEvents(ctx)

	log := logger.WithComponent("kafka")
	log.Info().
		Str("data_topic", c.dataReader.Config().Topic).
		Str("events_topic", c.eventsReader.Config().Topic).
		Msg("kafka consumer started")
	return nil
}

// Stop halts the consume loops and closes the readers.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	errData := c.dataReader.Close()
	errEvents := c.eventsReader.Close()
	c.wg.Wait()
	if errData != nil {
		return errData
	}
	return errEvents
}

func (c *Consumer) consumeData(ctx context.Context) {
	defer c.wg.Done()
	log := logger.WithComponent("kafka")
	topic := c.dataReader.Config().Topic

	for {
		msg, err := c.dataReader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("read failed")
			continue
		}
		var batch []model.Data
		if err := json.Unmarshal(msg.Value, &batch); err != nil {
			metrics.KafkaConsumedTotal.WithLabelValues(topic, "malformed").Inc()
			log.Warn().Err(err).Str("topic", topic).Msg("malformed data batch dropped")
			continue
		}
		metrics.KafkaConsumedTotal.WithLabelValues(topic, "ok").Inc()
		c.buffer.BufferData(batch, true)
	}
}

func (c *Consumer) consumeEvents(ctx context.Context) {
	defer c.wg.Done()
	log := logger.WithComponent("kafka")
	topic := c.eventsReader.Config().Topic

	for {
		msg, err := c.eventsReader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("read failed")
			continue
		}
		var batch []model.Event
		if err := json.Unmarshal(msg.Value, &batch); err != nil {
			metrics.KafkaConsumedTotal.WithLabelValues(topic, "malformed").Inc()
			log.Warn().Err(err).Str("topic", topic).Msg("malformed events batch dropped")
			continue
		}
		metrics.KafkaConsumedTotal.WithLabelValues(topic, "ok").Inc()
		c.buffer.BufferEvents(batch, true)
	}
}
