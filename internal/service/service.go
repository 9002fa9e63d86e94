package service

import (
	"context"
	"errors"

	"vigil/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ChangeType identifies a definitions mutation for listeners.
type ChangeType string

const (
	TriggerCreated ChangeType = "TRIGGER_CREATE"
	TriggerUpdated ChangeType = "TRIGGER_UPDATE"
	TriggerRemoved ChangeType = "TRIGGER_REMOVE"
)

// ChangeEvent notifies listeners of a definitions mutation.
type ChangeEvent struct {
	Type     ChangeType
	TenantID string
	Trigger  *model.Trigger
}

// ChangeListener receives definitions change events. Callbacks run on the
// mutating goroutine and must be quick.
type ChangeListener func(ChangeEvent)

// Definitions manages triggers, conditions and dampenings.
type Definitions interface {
	AddTrigger(ctx context.Context, trigger *model.Trigger) error
	UpdateTrigger(ctx context.Context, trigger *model.Trigger) error
	RemoveTrigger(ctx context.Context, tenantID, triggerID string) error
	GetTrigger(ctx context.Context, tenantID, triggerID string) (*model.Trigger, error)
	GetTriggersByTenant(ctx context.Context, tenantID string) ([]*model.Trigger, error)
	GetAllTriggers(ctx context.Context) ([]*model.Trigger, error)

	// SetConditions replaces the condition set of one trigger mode. SetSize
	// and SetIndex are assigned here.
	SetConditions(ctx context.Context, tenantID, triggerID string, mode model.Mode, conditions []*model.Condition) error
	GetTriggerConditions(ctx context.Context, tenantID, triggerID string) ([]*model.Condition, error)

	SetDampening(ctx context.Context, dampening *model.Dampening) error
	GetTriggerDampenings(ctx context.Context, tenantID, triggerID string) ([]*model.Dampening, error)

	// GetMemberTriggers lists the member triggers of a group trigger.
	GetMemberTriggers(ctx context.Context, tenantID, groupID string) ([]*model.Trigger, error)

	RegisterListener(l ChangeListener)
}

// Alerts persists alerts and events and supports lifecycle transitions.
type Alerts interface {
	AddAlerts(ctx context.Context, alerts []*model.Alert) error
	PersistEvents(ctx context.Context, events []model.Event) error
	GetAlerts(ctx context.Context, tenantID string, criteria AlertsCriteria) ([]*model.Alert, error)
	AckAlerts(ctx context.Context, tenantID string, alertIDs []string, ackBy, notes string) error
	ResolveAlerts(ctx context.Context, tenantID string, alertIDs []string, resolvedBy, notes string) error

	// ResolveAlertsForTrigger resolves every open or acknowledged alert of
	// one trigger, recording the condition evaluations that resolved them.
	ResolveAlertsForTrigger(ctx context.Context, tenantID, triggerID, resolvedBy, notes string, evalSets []model.EvalSet) error
}

// AlertsCriteria filters alert queries. Zero values mean no constraint.
type AlertsCriteria struct {
	TriggerID string
	Status    model.AlertStatus
	StartTime int64
	EndTime   int64
}

// Matches reports whether an alert satisfies the criteria.
func (c AlertsCriteria) Matches(a *model.Alert) bool {
	if c.TriggerID != "" && a.TriggerID != c.TriggerID {
		return false
	}
	if c.Status != "" && a.Status != c.Status {
		return false
	}
	if c.StartTime > 0 && a.CTime < c.StartTime {
		return false
	}
	if c.EndTime > 0 && a.CTime > c.EndTime {
		return false
	}
	return true
}

// Actions dispatches trigger actions for a fired event.
type Actions interface {
	Send(ctx context.Context, trigger *model.Trigger, event model.Event)
}
