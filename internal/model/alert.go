package model

import (
	"time"

	"github.com/google/uuid"
)

// AlertStatus lifecycle of an alert.
type AlertStatus string

const (
	StatusOpen         AlertStatus = "OPEN"
	StatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	StatusResolved     AlertStatus = "RESOLVED"
)

// Alert is produced when a trigger's firing condition set satisfies its
// dampening. Every alert has a corresponding event with the same id.
type Alert struct {
	TenantID  string `json:"tenant_id"`
	ID        string `json:"id"`
	TriggerID string `json:"trigger_id"`

	CTime int64 `json:"ctime"`

	Severity Severity    `json:"severity"`
	Status   AlertStatus `json:"status"`

	// Condition evaluations that fired the trigger
	EvalSets []EvalSet `json:"eval_sets,omitempty"`

	// Eval sets that satisfied AUTORESOLVE, set on resolution
	ResolvedEvalSets []EvalSet `json:"resolved_eval_sets,omitempty"`

	AckTime int64  `json:"ack_time,omitempty"`
	AckBy   string `json:"ack_by,omitempty"`

	ResolvedTime int64  `json:"resolved_time,omitempty"`
	ResolvedBy   string `json:"resolved_by,omitempty"`
	Notes        string `json:"notes,omitempty"`

	// Trigger definition snapshot at firing time
	Trigger *Trigger `json:"trigger,omitempty"`
}

// NewAlert builds an open alert for a fired trigger.
func NewAlert(trigger *Trigger, evalSets []EvalSet) *Alert {
	return &Alert{
		TenantID:  trigger.TenantID,
		ID:        uuid.New().String(),
		TriggerID: trigger.ID,
		CTime:     time.Now().UnixMilli(),
		Severity:  trigger.Severity,
		Status:    StatusOpen,
		EvalSets:  evalSets,
		Trigger:   trigger,
	}
}

// Event derives the alert's companion event, sharing the alert id.
func (a *Alert) Event() Event {
	return Event{
		TenantID: a.TenantID,
		ID:       a.ID,
		CTime:    a.CTime,
		DataID:   a.TriggerID,
		Category: CategoryAlert,
		Text:     string(a.Severity),
		Trigger:  a.Trigger,
		EvalSets: a.EvalSets,
	}
}
