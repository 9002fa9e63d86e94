// Package ingest accepts raw data and events, filters them against the
// active-dataId admission cache, deduplicates and orders them, enforces the
// minimum reporting interval, and delivers the surviving batch to the
// engine. Submission is fire-and-forget; processing happens on a small
// worker pool.
package ingest

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"vigil/internal/engine"
	"vigil/internal/logger"
	"vigil/internal/metrics"
	"vigil/internal/model"
)

// Sink receives filtered batches. The engine scheduler is the production
// implementation.
type Sink interface {
	SendData(ctx context.Context, data []model.Data) error
	SendEvents(ctx context.Context, events []model.Event) error
}

// AdmissionFilter reports whether a dataId is referenced by any loaded
// trigger.
type AdmissionFilter interface {
	IsActive(tenantID, dataID string) bool
}

type job struct {
	data   []model.Data
	events []model.Event
	raw    bool
}

// Config holds buffer settings.
type Config struct {
	Sink   Sink
	Filter AdmissionFilter
	// Groups may be nil when data-driven groups are not used
	Groups *GroupCacheManager

	Workers   int
	QueueSize int

	DataMinInterval   time.Duration
	EventsMinInterval time.Duration
}

// Buffer is the asynchronous ingestion front of the engine.
type Buffer struct {
	sink   Sink
	filter AdmissionFilter
	groups *GroupCacheManager

	jobs    chan job
	workers int

	dataMinInterval   int64
	eventsMinInterval int64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBuffer(cfg Config) *Buffer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Buffer{
		sink:              cfg.Sink,
		filter:            cfg.Filter,
		groups:            cfg.Groups,
		jobs:              make(chan job, cfg.QueueSize),
		workers:           cfg.Workers,
		dataMinInterval:   cfg.DataMinInterval.Milliseconds(),
		eventsMinInterval: cfg.EventsMinInterval.Milliseconds(),
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Start launches the worker pool.
func (b *Buffer) Start() {
	log := logger.WithComponent("ingest")
	log.Info().
		Int("workers", b.workers).
		Int("queue_size", cap(b.jobs)).
		Msg("starting ingestion buffer")

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
}

// Stop drains running workers. Queued batches are processed before return.
func (b *Buffer) Stop() {
	log := logger.WithComponent("ingest")
	log.Info().Msg("stopping ingestion buffer")
	close(b.jobs)
	b.wg.Wait()
	b.cancel()
	log.Info().Msg("ingestion buffer stopped")
}

// BufferData submits a data batch. Non-blocking: a full queue drops the
// batch, since producers resend live metrics on their own cadence.
func (b *Buffer) BufferData(batch []model.Data, raw bool) {
	if len(batch) == 0 {
		return
	}
	b.submit(job{data: batch, raw: raw}, len(batch), "data")
}

// BufferEvents submits an events batch. Non-blocking like BufferData.
func (b *Buffer) BufferEvents(batch []model.Event, raw bool) {
	if len(batch) == 0 {
		return
	}
	b.submit(job{events: batch, raw: raw}, len(batch), "events")
}

func (b *Buffer) submit(j job, size int, kind string) {
	select {
	case b.jobs <- j:
		metrics.IngestReceivedTotal.WithLabelValues(kind, "accepted").Add(float64(size))
		metrics.IngestBatchSize.WithLabelValues(kind).Observe(float64(size))
		metrics.IngestQueueSize.Set(float64(len(b.jobs)))
	default:
		metrics.IngestReceivedTotal.WithLabelValues(kind, "rejected").Add(float64(size))
		log := logger.WithComponent("ingest")
		log.Warn().
			Str("kind", kind).
			Int("batch_size", size).
			Msg("ingestion queue full, batch dropped")
	}
}

func (b *Buffer) worker(id int) {
	defer b.wg.Done()

	log := logger.WithComponent("ingest").With().Int("worker_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().
				Interface("panic", r).
				Bytes("stack", stack).
				Msg("ingest worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("ingest").Inc()
		}
	}()

	log.Debug().Msg("ingest worker started")
	defer log.Debug().Msg("ingest worker stopped")

	for j := range b.jobs {
		metrics.IngestQueueSize.Set(float64(len(b.jobs)))
		if j.data != nil {
			b.processData(j.data, j.raw)
		} else {
			b.processEvents(j.events, j.raw)
		}
	}
}

func (b *Buffer) processData(batch []model.Data, raw bool) {
	log := logger.WithComponent("ingest")

	if raw {
		batch = b.filterData(batch)
		if len(batch) == 0 {
			return
		}
	}

	before := len(batch)
	batch = engine.DedupSortData(batch)
	if dropped := before - len(batch); dropped > 0 {
		metrics.IngestFilteredTotal.WithLabelValues("data", "duplicate").Add(float64(dropped))
	}
	before = len(batch)
	batch = engine.MinIntervalData(batch, b.dataMinInterval)
	if dropped := before - len(batch); dropped > 0 {
		metrics.IngestFilteredTotal.WithLabelValues("data", "min_interval").Add(float64(dropped))
	}

	if b.groups != nil {
		b.groups.CheckDataDriven(b.ctx, batch)
	}

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	if err := b.sink.SendData(ctx, batch); err != nil {
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("cannot deliver data batch, dropped")
	}
}

func (b *Buffer) processEvents(batch []model.Event, raw bool) {
	log := logger.WithComponent("ingest")

	if raw {
		batch = b.filterEvents(batch)
		if len(batch) == 0 {
			return
		}
	}

	before := len(batch)
	batch = engine.DedupSortEvents(batch)
	if dropped := before - len(batch); dropped > 0 {
		metrics.IngestFilteredTotal.WithLabelValues("events", "duplicate").Add(float64(dropped))
	}
	before = len(batch)
	batch = engine.MinIntervalEvents(batch, b.eventsMinInterval)
	if dropped := before - len(batch); dropped > 0 {
		metrics.IngestFilteredTotal.WithLabelValues("events", "min_interval").Add(float64(dropped))
	}

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	if err := b.sink.SendEvents(ctx, batch); err != nil {
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("cannot deliver events batch, dropped")
	}
}

func (b *Buffer) filterData(batch []model.Data) []model.Data {
	out := make([]model.Data, 0, len(batch))
	inactive := 0
	for i := range batch {
		batch[i].Normalize()
		active := b.filter.IsActive(batch[i].TenantID, batch[i].ID)
		// Data-driven group sources admit data before any member exists
		if !active && b.groups != nil {
			active = b.groups.References(batch[i].TenantID, batch[i].ID)
		}
		if active {
			out = append(out, batch[i])
		} else {
			inactive++
		}
	}
	if inactive > 0 {
		metrics.IngestFilteredTotal.WithLabelValues("data", "inactive").Add(float64(inactive))
	}
	return out
}

func (b *Buffer) filterEvents(batch []model.Event) []model.Event {
	out := make([]model.Event, 0, len(batch))
	inactive := 0
	for i := range batch {
		batch[i].Normalize()
		if b.filter.IsActive(batch[i].TenantID, batch[i].DataID) {
			out = append(out, batch[i])
		} else {
			inactive++
		}
	}
	if inactive > 0 {
		metrics.IngestFilteredTotal.WithLabelValues("events", "inactive").Add(float64(inactive))
	}
	return out
}
