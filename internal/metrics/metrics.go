package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingestion metrics
	IngestReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_ingest_received_total",
			Help: "Total number of data points and events received",
		},
		[]string{"kind", "status"}, // kind: data, events; status: accepted, rejected
	)

	IngestFilteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_ingest_filtered_total",
			Help: "Total number of items dropped during ingestion buffering",
		},
		[]string{"kind", "reason"}, // reason: inactive, duplicate, min_interval
	)

	IngestBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_ingest_batch_size",
			Help:    "Size of batches delivered to the engine",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"kind"},
	)

	IngestQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_ingest_queue_size",
			Help: "Current size of the ingestion submission queue",
		},
	)

	// Engine metrics
	EngineTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_engine_ticks_total",
			Help: "Total number of evaluation ticks",
		},
		[]string{"outcome"}, // outcome: fired, idle, error
	)

	EngineTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_engine_tick_duration_seconds",
			Help:    "Time taken by one evaluation tick",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	EngineAlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_engine_alerts_total",
			Help: "Total number of alerts produced by the engine",
		},
	)

	EngineEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_engine_events_total",
			Help: "Total number of events produced by the engine",
		},
	)

	EngineTriggersLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_engine_triggers_loaded",
			Help: "Number of triggers currently loaded in the rule base",
		},
	)

	EngineDampeningTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_engine_dampening_timeouts_total",
			Help: "Total number of dampening timeouts that fired",
		},
	)

	// Partition metrics
	PartitionTopologyChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_partition_topology_changes_total",
			Help: "Total number of topology changes processed",
		},
	)

	PartitionEntriesOwned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_partition_entries_owned",
			Help: "Number of partition entries assigned to this node",
		},
	)

	PartitionNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_partition_notifications_total",
			Help: "Total number of partition notifications handled",
		},
		[]string{"type", "direction"}, // type: trigger, data; direction: sent, received
	)

	// Kafka metrics
	KafkaConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_kafka_consumed_total",
			Help: "Total number of messages consumed from Kafka",
		},
		[]string{"topic", "status"}, // status: ok, malformed
	)

	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
