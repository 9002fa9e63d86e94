package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event categories used by the engine. Tenants can define their own.
const (
	CategoryAlert   = "ALERT"
	CategoryTrigger = "TRIGGER"
)

// Event is an immutable timestamped occurrence. Events can be externally
// ingested (and evaluated by EVENT conditions through their DataID) or
// generated by a firing trigger.
type Event struct {
	TenantID string `json:"tenant_id"`

	// Unique id within the tenant
	ID string `json:"id"`

	// Creation time in milliseconds since epoch
	CTime int64 `json:"ctime"`

	// DataID links the event to trigger conditions, like Data.ID
	DataID string `json:"data_id"`

	Category string `json:"category"`

	Text string `json:"text,omitempty"`

	Context map[string]string `json:"context,omitempty"`

	Tags map[string]string `json:"tags,omitempty"`

	// Set when the event was generated by a trigger
	Trigger *Trigger `json:"trigger,omitempty"`

	// Dampening state at firing time, for trigger-generated events
	Dampening *Dampening `json:"dampening,omitempty"`

	// Condition evaluations that satisfied the trigger
	EvalSets []EvalSet `json:"eval_sets,omitempty"`
}

// NewEvent builds an externally ingested event.
func NewEvent(tenantID, dataID, category, text string, ctime int64) Event {
	return Event{
		TenantID: tenantID,
		ID:       uuid.New().String(),
		CTime:    ctime,
		DataID:   dataID,
		Category: category,
		Text:     text,
	}
}

// NewTriggerEvent builds the event generated when a trigger fires.
func NewTriggerEvent(trigger *Trigger, dampening *Dampening, evalSets []EvalSet) Event {
	return Event{
		TenantID:  trigger.TenantID,
		ID:        uuid.New().String(),
		CTime:     time.Now().UnixMilli(),
		DataID:    trigger.ID,
		Category:  CategoryTrigger,
		Text:      trigger.Name,
		Tags:      trigger.Tags,
		Trigger:   trigger,
		Dampening: dampening,
		EvalSets:  evalSets,
	}
}

// Normalize trims identifiers and defaults missing fields.
func (e *Event) Normalize() {
	e.TenantID = strings.TrimSpace(e.TenantID)
	e.DataID = strings.TrimSpace(e.DataID)
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CTime <= 0 {
		e.CTime = time.Now().UnixMilli()
	}
}

// Validate checks required fields.
func (e *Event) Validate() error {
	if e.TenantID == "" {
		return ErrEmptyTenantID
	}
	if e.DataID == "" {
		return ErrEmptyDataID
	}
	return nil
}

// Same reports whether two events carry the same identity. Mirrors
// Data.Same for min-reporting-interval enforcement.
func (e Event) Same(o Event) bool {
	return e.DataID == o.DataID && e.TenantID == o.TenantID
}

// Compare defines the natural order (dataId, tenantId, ctime, id).
func (e Event) Compare(o Event) int {
	if c := strings.Compare(e.DataID, o.DataID); c != 0 {
		return c
	}
	if c := strings.Compare(e.TenantID, o.TenantID); c != 0 {
		return c
	}
	switch {
	case e.CTime < o.CTime:
		return -1
	case e.CTime > o.CTime:
		return 1
	}
	return strings.Compare(e.ID, o.ID)
}
