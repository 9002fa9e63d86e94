package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil/internal/model"
	"vigil/internal/service"
)

// PostgresDefinitions implements service.Definitions on a pgx pool.
type PostgresDefinitions struct {
	pool *pgxpool.Pool

	mu        sync.RWMutex
	listeners []service.ChangeListener
}

func NewPostgresDefinitions(pool *pgxpool.Pool) *PostgresDefinitions {
	return &PostgresDefinitions{pool: pool}
}

func (d *PostgresDefinitions) RegisterListener(l service.ChangeListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *PostgresDefinitions) notify(ev service.ChangeEvent) {
	d.mu.RLock()
	listeners := append([]service.ChangeListener(nil), d.listeners...)
	d.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

func (d *PostgresDefinitions) AddTrigger(ctx context.Context, trigger *model.Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(trigger)
	if err != nil {
		return err
	}
	tag, err := d.pool.Exec(ctx,
		`INSERT INTO triggers (tenant_id, id, member_of, payload) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, id) DO NOTHING`,
		trigger.TenantID, trigger.ID, trigger.MemberOf, payload)
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trigger %s: %w", trigger.ID, service.ErrAlreadyExists)
	}
	d.notify(service.ChangeEvent{Type: service.TriggerCreated, TenantID: trigger.TenantID, Trigger: trigger})
	return nil
}

func (d *PostgresDefinitions) UpdateTrigger(ctx context.Context, trigger *model.Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(trigger)
	if err != nil {
		return err
	}
	tag, err := d.pool.Exec(ctx,
		`UPDATE triggers SET member_of = $3, payload = $4 WHERE tenant_id = $1 AND id = $2`,
		trigger.TenantID, trigger.ID, trigger.MemberOf, payload)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trigger %s: %w", trigger.ID, service.ErrNotFound)
	}
	d.notify(service.ChangeEvent{Type: service.TriggerUpdated, TenantID: trigger.TenantID, Trigger: trigger})
	return nil
}

func (d *PostgresDefinitions) RemoveTrigger(ctx context.Context, tenantID, triggerID string) error {
	trigger, err := d.GetTrigger(ctx, tenantID, triggerID)
	if err != nil {
		return err
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM conditions WHERE tenant_id = $1 AND trigger_id = $2`, tenantID, triggerID); err != nil {
		return fmt.Errorf("delete conditions: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM dampenings WHERE tenant_id = $1 AND trigger_id = $2`, tenantID, triggerID); err != nil {
		return fmt.Errorf("delete dampenings: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM triggers WHERE tenant_id = $1 AND id = $2`, tenantID, triggerID); err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	d.notify(service.ChangeEvent{Type: service.TriggerRemoved, TenantID: tenantID, Trigger: trigger})
	return nil
}

func (d *PostgresDefinitions) GetTrigger(ctx context.Context, tenantID, triggerID string) (*model.Trigger, error) {
	var payload []byte
	err := d.pool.QueryRow(ctx,
		`SELECT payload FROM triggers WHERE tenant_id = $1 AND id = $2`,
		tenantID, triggerID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trigger %s: %w", triggerID, service.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select trigger: %w", err)
	}
	var trigger model.Trigger
	if err := json.Unmarshal(payload, &trigger); err != nil {
		return nil, err
	}
	return &trigger, nil
}

func (d *PostgresDefinitions) GetTriggersByTenant(ctx context.Context, tenantID string) ([]*model.Trigger, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT payload FROM triggers WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("select triggers: %w", err)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func (d *PostgresDefinitions) GetAllTriggers(ctx context.Context) ([]*model.Trigger, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT payload FROM triggers ORDER BY tenant_id, id`)
	if err != nil {
		return nil, fmt.Errorf("select triggers: %w", err)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func (d *PostgresDefinitions) GetMemberTriggers(ctx context.Context, tenantID, groupID string) ([]*model.Trigger, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT payload FROM triggers WHERE tenant_id = $1 AND member_of = $2 ORDER BY id`,
		tenantID, groupID)
	if err != nil {
		return nil, fmt.Errorf("select member triggers: %w", err)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func scanTriggers(rows pgx.Rows) ([]*model.Trigger, error) {
	var out []*model.Trigger
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var trigger model.Trigger
		if err := json.Unmarshal(payload, &trigger); err != nil {
			return nil, err
		}
		out = append(out, &trigger)
	}
	return out, rows.Err()
}

func (d *PostgresDefinitions) SetConditions(ctx context.Context, tenantID, triggerID string, mode model.Mode, conditions []*model.Condition) error {
	trigger, err := d.GetTrigger(ctx, tenantID, triggerID)
	if err != nil {
		return err
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM conditions WHERE tenant_id = $1 AND trigger_id = $2 AND mode = $3`,
		tenantID, triggerID, string(mode)); err != nil {
		return fmt.Errorf("delete conditions: %w", err)
	}
	for i, c := range conditions {
		cp := *c
		cp.TenantID = tenantID
		cp.TriggerID = triggerID
		cp.Mode = mode
		cp.SetSize = len(conditions)
		cp.SetIndex = i + 1
		payload, err := json.Marshal(&cp)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO conditions (tenant_id, trigger_id, condition_id, mode, payload)
			 VALUES ($1, $2, $3, $4, $5)`,
			tenantID, triggerID, cp.ConditionID(), string(mode), payload); err != nil {
			return fmt.Errorf("insert condition: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	d.notify(service.ChangeEvent{Type: service.TriggerUpdated, TenantID: tenantID, Trigger: trigger})
	return nil
}

func (d *PostgresDefinitions) GetTriggerConditions(ctx context.Context, tenantID, triggerID string) ([]*model.Condition, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT payload FROM conditions WHERE tenant_id = $1 AND trigger_id = $2 ORDER BY condition_id`,
		tenantID, triggerID)
	if err != nil {
		return nil, fmt.Errorf("select conditions: %w", err)
	}
	defer rows.Close()

	var out []*model.Condition
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c model.Condition
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (d *PostgresDefinitions) SetDampening(ctx context.Context, dampening *model.Dampening) error {
	trigger, err := d.GetTrigger(ctx, dampening.TenantID, dampening.TriggerID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(dampening)
	if err != nil {
		return err
	}
	if _, err := d.pool.Exec(ctx,
		`INSERT INTO dampenings (tenant_id, trigger_id, dampening_id, payload)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, trigger_id, dampening_id) DO UPDATE SET payload = EXCLUDED.payload`,
		dampening.TenantID, dampening.TriggerID, dampening.DampeningID(), payload); err != nil {
		return fmt.Errorf("upsert dampening: %w", err)
	}
	d.notify(service.ChangeEvent{Type: service.TriggerUpdated, TenantID: dampening.TenantID, Trigger: trigger})
	return nil
}

func (d *PostgresDefinitions) GetTriggerDampenings(ctx context.Context, tenantID, triggerID string) ([]*model.Dampening, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT payload FROM dampenings WHERE tenant_id = $1 AND trigger_id = $2 ORDER BY dampening_id`,
		tenantID, triggerID)
	if err != nil {
		return nil, fmt.Errorf("select dampenings: %w", err)
	}
	defer rows.Close()

	var out []*model.Dampening
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var dd model.Dampening
		if err := json.Unmarshal(payload, &dd); err != nil {
			return nil, err
		}
		out = append(out, &dd)
	}
	return out, rows.Err()
}
