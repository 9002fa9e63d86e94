package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil/internal/model"
	"vigil/internal/service"
)

// PostgresAlerts implements service.Alerts on a pgx pool.
type PostgresAlerts struct {
	pool *pgxpool.Pool
}

func NewPostgresAlerts(pool *pgxpool.Pool) *PostgresAlerts {
	return &PostgresAlerts{pool: pool}
}

func (s *PostgresAlerts) AddAlerts(ctx context.Context, alerts []*model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range alerts {
		payload, err := json.Marshal(a)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO alerts (tenant_id, id, trigger_id, status, ctime, payload)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (tenant_id, id) DO NOTHING`,
			a.TenantID, a.ID, a.TriggerID, string(a.Status), a.CTime, payload)

		// Every alert persists its companion event
		ev := a.Event()
		evPayload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO events (tenant_id, id, ctime, payload) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (tenant_id, id) DO NOTHING`,
			ev.TenantID, ev.ID, ev.CTime, evPayload)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert alerts: %w", err)
	}
	return nil
}

func (s *PostgresAlerts) PersistEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO events (tenant_id, id, ctime, payload) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (tenant_id, id) DO NOTHING`,
			ev.TenantID, ev.ID, ev.CTime, payload)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

func (s *PostgresAlerts) GetAlerts(ctx context.Context, tenantID string, criteria service.AlertsCriteria) ([]*model.Alert, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT payload FROM alerts WHERE tenant_id = $1`)
	args := []any{tenantID}
	if criteria.TriggerID != "" {
		args = append(args, criteria.TriggerID)
		fmt.Fprintf(&query, ` AND trigger_id = $%d`, len(args))
	}
	if criteria.Status != "" {
		args = append(args, string(criteria.Status))
		fmt.Fprintf(&query, ` AND status = $%d`, len(args))
	}
	if criteria.StartTime > 0 {
		args = append(args, criteria.StartTime)
		fmt.Fprintf(&query, ` AND ctime >= $%d`, len(args))
	}
	if criteria.EndTime > 0 {
		args = append(args, criteria.EndTime)
		fmt.Fprintf(&query, ` AND ctime <= $%d`, len(args))
	}
	query.WriteString(` ORDER BY ctime, id`)

	rows, err := s.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select alerts: %w", err)
	}
	defer rows.Close()

	var out []*model.Alert
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a model.Alert
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresAlerts) AckAlerts(ctx context.Context, tenantID string, alertIDs []string, ackBy, notes string) error {
	now := time.Now().UnixMilli()
	for _, id := range alertIDs {
		a, err := s.getAlert(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if a.Status != model.StatusOpen {
			continue
		}
		a.Status = model.StatusAcknowledged
		a.AckBy = ackBy
		a.AckTime = now
		if notes != "" {
			a.Notes = notes
		}
		if err := s.putAlert(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresAlerts) ResolveAlerts(ctx context.Context, tenantID string, alertIDs []string, resolvedBy, notes string) error {
	now := time.Now().UnixMilli()
	for _, id := range alertIDs {
		a, err := s.getAlert(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if a.Status == model.StatusResolved {
			continue
		}
		resolveAlert(a, resolvedBy, notes, now, nil)
		if err := s.putAlert(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresAlerts) ResolveAlertsForTrigger(ctx context.Context, tenantID, triggerID, resolvedBy, notes string, evalSets []model.EvalSet) error {
	open, err := s.GetAlerts(ctx, tenantID, service.AlertsCriteria{TriggerID: triggerID, Status: model.StatusOpen})
	if err != nil {
		return err
	}
	acked, err := s.GetAlerts(ctx, tenantID, service.AlertsCriteria{TriggerID: triggerID, Status: model.StatusAcknowledged})
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for _, a := range append(open, acked...) {
		resolveAlert(a, resolvedBy, notes, now, evalSets)
		if err := s.putAlert(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresAlerts) getAlert(ctx context.Context, tenantID, id string) (*model.Alert, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM alerts WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, service.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select alert: %w", err)
	}
	var a model.Alert
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresAlerts) putAlert(ctx context.Context, a *model.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = $3, payload = $4 WHERE tenant_id = $1 AND id = $2`,
		a.TenantID, a.ID, string(a.Status), payload); err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return nil
}

func resolveAlert(a *model.Alert, resolvedBy, notes string, now int64, evalSets []model.EvalSet) {
	a.Status = model.StatusResolved
	a.ResolvedTime = now
	a.ResolvedBy = resolvedBy
	a.ResolvedEvalSets = evalSets
	if notes != "" {
		a.Notes = notes
	}
}
