// Package storage backs the definitions and alerts services with Postgres.
// Domain objects are stored as a schemaless JSONB payload keyed by their
// identifiers, so condition variants need no per-type column mapping.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"vigil/internal/config"
	"vigil/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS triggers (
	tenant_id  TEXT NOT NULL,
	id         TEXT NOT NULL,
	member_of  TEXT NOT NULL DEFAULT '',
	payload    JSONB NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS triggers_member_of_idx ON triggers (tenant_id, member_of);

CREATE TABLE IF NOT EXISTS conditions (
	tenant_id    TEXT NOT NULL,
	trigger_id   TEXT NOT NULL,
	condition_id TEXT NOT NULL,
	mode         TEXT NOT NULL,
	payload      JSONB NOT NULL,
	PRIMARY KEY (tenant_id, trigger_id, condition_id)
);

CREATE TABLE IF NOT EXISTS dampenings (
	tenant_id    TEXT NOT NULL,
	trigger_id   TEXT NOT NULL,
	dampening_id TEXT NOT NULL,
	payload      JSONB NOT NULL,
	PRIMARY KEY (tenant_id, trigger_id, dampening_id)
);

CREATE TABLE IF NOT EXISTS alerts (
	tenant_id  TEXT NOT NULL,
	id         TEXT NOT NULL,
	trigger_id TEXT NOT NULL,
	status     TEXT NOT NULL,
	ctime      BIGINT NOT NULL,
	payload    JSONB NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS alerts_trigger_idx ON alerts (tenant_id, trigger_id, status);

CREATE TABLE IF NOT EXISTS events (
	tenant_id TEXT NOT NULL,
	id        TEXT NOT NULL,
	ctime     BIGINT NOT NULL,
	payload   JSONB NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
`

// Connect opens a pgx pool and ensures the schema exists.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log := logger.WithComponent("storage")
	log.Info().
		Int32("max_conns", poolCfg.MaxConns).
		Msg("postgres connected")
	return pool, nil
}
