// Package processor wires the alerting service together: definitions and
// alerts storage, the partition manager, the evaluation engine, the
// ingestion buffer, Kafka transports and the HTTP surface.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"vigil/internal/cluster"
	"vigil/internal/config"
	"vigil/internal/engine"
	"vigil/internal/handlers"
	"vigil/internal/ingest"
	"vigil/internal/kafka"
	"vigil/internal/logger"
	"vigil/internal/middleware"
	"vigil/internal/partition"
	"vigil/internal/service"
	"vigil/internal/storage"
)

// Processor is the high-level coordinator for one alerting node.
type Processor struct {
	cfg *config.Config

	definitions service.Definitions
	alertsSvc   service.Alerts
	actions     service.Actions

	pgPool      *pgxpool.Pool
	redisClient *redis.Client

	partitionMgr *partition.Manager
	membership   cluster.Membership
	engine       *engine.Engine
	groups       *ingest.GroupCacheManager
	buffer       *ingest.Buffer

	consumer  *kafka.Consumer
	publisher *kafka.Publisher

	httpServer *http.Server
	wg         sync.WaitGroup
}

// New constructs a Processor with the given config.
func New(cfg *config.Config) *Processor {
	return &Processor{cfg: cfg}
}

// Run starts every component and blocks until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Bool("distributed", p.cfg.Cluster.Distributed).Msg("processor starting")

	if err := p.initServices(ctx); err != nil {
		return err
	}
	if err := p.initCluster(ctx); err != nil {
		return err
	}
	p.initEngine()
	p.initIngest(ctx)
	p.initHTTPServer()

	if p.partitionMgr.IsDistributed() {
		if err := p.partitionMgr.Start(ctx); err != nil {
			return fmt.Errorf("start partition manager: %w", err)
		}
	}
	if err := p.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	p.buffer.Start()
	if p.consumer != nil {
		if err := p.consumer.Start(ctx); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", p.cfg.Server.Addr).Msg("starting HTTP server")
		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	return p.shutdown()
}

func (p *Processor) initServices(ctx context.Context) error {
	log := logger.WithComponent("processor")

	if p.cfg.Postgres.URL != "" {
		pool, err := storage.Connect(ctx, p.cfg.Postgres)
		if err != nil {
			return err
		}
		p.pgPool = pool
		p.definitions = storage.NewPostgresDefinitions(pool)
		p.alertsSvc = storage.NewPostgresAlerts(pool)
	} else {
		log.Warn().Msg("no postgres configured, definitions and alerts are in-memory")
		p.definitions = service.NewMemoryDefinitions()
		p.alertsSvc = service.NewMemoryAlerts()
	}

	if p.cfg.Kafka.Enabled {
		p.publisher = kafka.NewPublisher(p.cfg.Kafka)
		p.actions = p.publisher
	} else {
		p.actions = service.NewLogActions()
	}
	return nil
}

func (p *Processor) initCluster(_ context.Context) error {
	log := logger.WithComponent("processor")

	if !p.cfg.Cluster.Distributed {
		p.partitionMgr = partition.NewManager(partition.Config{Definitions: p.definitions})
		return nil
	}

	nodeID := p.cfg.Cluster.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}

	p.redisClient = redis.NewClient(&redis.Options{
		Addr:     p.cfg.Redis.Addr,
		Password: p.cfg.Redis.Password,
		DB:       p.cfg.Redis.DB,
	})
	p.membership = cluster.NewRedisMembership(p.redisClient, nodeID, p.cfg.Cluster.Heartbeat)
	store := partition.NewRedisStore(p.redisClient, p.cfg.Cluster.Lifespan)

	p.partitionMgr = partition.NewManager(partition.Config{
		Distributed: true,
		Store:       store,
		Membership:  p.membership,
		Definitions: p.definitions,
	})

	log.Info().Str("node_id", nodeID).Str("redis", p.cfg.Redis.Addr).Msg("cluster configured")
	return nil
}

func (p *Processor) initEngine() {
	p.engine = engine.New(engine.Options{
		Delay:             p.cfg.Engine.Delay,
		Period:            p.cfg.Engine.Period,
		DataMinInterval:   p.cfg.Ingest.DataMinInterval,
		EventsMinInterval: p.cfg.Ingest.EventsMinInterval,
		Definitions:       p.definitions,
		Alerts:            p.alertsSvc,
		Actions:           p.actions,
		Distributor:       p.partitionMgr,
	})

	p.partitionMgr.RegisterTriggerListener(p.engine)
	p.partitionMgr.RegisterDataListener(p.engine)

	// Definition changes reload affected triggers wherever they live
	p.definitions.RegisterListener(func(ev service.ChangeEvent) {
		if ev.Trigger == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if ev.Type == service.TriggerRemoved {
			p.engine.RemoveTrigger(ctx, ev.TenantID, ev.Trigger.ID)
			return
		}
		p.engine.ReloadTrigger(ctx, ev.TenantID, ev.Trigger.ID)
	})
}

func (p *Processor) initIngest(ctx context.Context) {
	p.groups = ingest.NewGroupCacheManager(p.definitions)
	if err := p.groups.Refresh(ctx); err != nil {
		log := logger.WithComponent("processor")
		log.Warn().Err(err).Msg("initial group cache refresh failed")
	}

	p.buffer = ingest.NewBuffer(ingest.Config{
		Sink:              p.engine,
		Filter:            p.engine.Cache(),
		Groups:            p.groups,
		Workers:           p.cfg.Ingest.Workers,
		QueueSize:         p.cfg.Ingest.QueueSize,
		DataMinInterval:   p.cfg.Ingest.DataMinInterval,
		EventsMinInterval: p.cfg.Ingest.EventsMinInterval,
	})

	if p.cfg.Kafka.Enabled {
		p.consumer = kafka.NewConsumer(p.cfg.Kafka, p.buffer)
	}
}

func (p *Processor) initHTTPServer() {
	mux := http.NewServeMux()

	chain := func(h http.Handler) http.Handler {
		return middleware.Chain(h,
			middleware.Recovery,
			middleware.Logging,
			middleware.Auth(p.cfg.Server.AuthToken),
		)
	}

	ingestHandler := handlers.NewIngestHandler(p.buffer, 0)
	mux.Handle("POST /data", chain(ingestHandler.Data()))
	mux.Handle("POST /events", chain(ingestHandler.Events()))

	triggers := handlers.NewTriggersHandler(p.definitions)
	mux.Handle("POST /api/{tenant}/triggers", chain(http.HandlerFunc(triggers.Create)))
	mux.Handle("GET /api/{tenant}/triggers", chain(http.HandlerFunc(triggers.List)))
	mux.Handle("GET /api/{tenant}/triggers/{id}", chain(http.HandlerFunc(triggers.Get)))
	mux.Handle("PUT /api/{tenant}/triggers/{id}", chain(http.HandlerFunc(triggers.Update)))
	mux.Handle("DELETE /api/{tenant}/triggers/{id}", chain(http.HandlerFunc(triggers.Delete)))
	mux.Handle("PUT /api/{tenant}/triggers/{id}/conditions/{mode}", chain(http.HandlerFunc(triggers.SetConditions)))
	mux.Handle("PUT /api/{tenant}/triggers/{id}/dampening", chain(http.HandlerFunc(triggers.SetDampening)))
	mux.Handle("GET /api/{tenant}/triggers/{id}/members", chain(http.HandlerFunc(triggers.Members)))

	alerts := handlers.NewAlertsHandler(p.alertsSvc)
	mux.Handle("GET /api/{tenant}/alerts", chain(http.HandlerFunc(alerts.List)))
	mux.Handle("PUT /api/{tenant}/alerts/ack", chain(http.HandlerFunc(alerts.Ack)))
	mux.Handle("PUT /api/{tenant}/alerts/resolve", chain(http.HandlerFunc(alerts.Resolve)))

	mux.HandleFunc("GET /health", p.healthHandler)
	mux.HandleFunc("GET /status", p.statusHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	p.httpServer = &http.Server{
		Addr:         p.cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  p.cfg.Server.ReadTimeout,
		WriteTimeout: p.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if p.consumer != nil {
		if err := p.consumer.Stop(); err != nil {
			log.Error().Err(err).Msg("kafka consumer stop error")
		}
	}
	p.buffer.Stop()
	p.engine.Stop()
	if p.partitionMgr.IsDistributed() {
		if err := p.partitionMgr.Stop(); err != nil {
			log.Error().Err(err).Msg("partition manager stop error")
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Close(); err != nil {
			log.Error().Err(err).Msg("kafka publisher close error")
		}
	}
	if p.redisClient != nil {
		if err := p.redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("redis close error")
		}
	}
	if p.pgPool != nil {
		p.pgPool.Close()
	}

	p.wg.Wait()
	log.Info().Msg("processor stopped gracefully")
	return nil
}

func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if p.pgPool != nil {
		if err := p.pgPool.Ping(ctx); err != nil {
			http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
	}
	if p.redisClient != nil {
		if err := p.redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

func (p *Processor) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := p.partitionMgr.Status(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}
