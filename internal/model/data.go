package model

import (
	"errors"
	"strings"
	"time"
)

// SourceNone is the default logical source for data that does not qualify
// triggers by origin.
const SourceNone = "_none_"

// Validation errors
var (
	ErrEmptyTenantID  = errors.New("tenant ID cannot be empty")
	ErrEmptyTriggerID = errors.New("trigger ID cannot be empty")
	ErrEmptyDataID    = errors.New("data ID cannot be empty")
	ErrZeroTimestamp  = errors.New("timestamp cannot be zero")
)

// Data is a single immutable time-series datum reported for a dataId.
// Numeric conditions evaluate Value; availability and string conditions
// evaluate Text.
type Data struct {
	// Tenant owning this datum
	TenantID string `json:"tenant_id"`

	// Logical origin, used to qualify data-driven group triggers.
	// Defaults to SourceNone.
	Source string `json:"source"`

	// Data id unique within the tenant
	ID string `json:"id"`

	// Collection time in milliseconds since epoch
	Timestamp int64 `json:"timestamp"`

	// Numeric payload
	Value float64 `json:"value"`

	// Textual payload (availability state, string match input)
	Text string `json:"text,omitempty"`

	// Optional free-form context propagated into generated events
	Context map[string]string `json:"context,omitempty"`
}

// NewData builds a numeric datum with the default source.
func NewData(tenantID, id string, timestamp int64, value float64) Data {
	return Data{
		TenantID:  tenantID,
		Source:    SourceNone,
		ID:        id,
		Timestamp: timestamp,
		Value:     value,
	}
}

// Normalize trims identifiers and applies the default source.
func (d *Data) Normalize() {
	d.TenantID = strings.TrimSpace(d.TenantID)
	d.ID = strings.TrimSpace(d.ID)
	d.Source = strings.TrimSpace(d.Source)
	if d.Source == "" {
		d.Source = SourceNone
	}
}

// Validate checks required fields.
func (d *Data) Validate() error {
	if d.TenantID == "" {
		return ErrEmptyTenantID
	}
	if d.ID == "" {
		return ErrEmptyDataID
	}
	if d.Timestamp <= 0 {
		return ErrZeroTimestamp
	}
	return nil
}

// Same reports whether two datums carry the same identity, regardless of
// timestamp or value. Used for min-reporting-interval enforcement.
func (d Data) Same(o Data) bool {
	return d.ID == o.ID && d.TenantID == o.TenantID && d.Source == o.Source
}

// Compare defines the natural order (id, tenantId, source, timestamp) used
// to deduplicate and sequence a buffered batch. Equal keys collapse when
// stored in an ordered set.
func (d Data) Compare(o Data) int {
	if c := strings.Compare(d.ID, o.ID); c != 0 {
		return c
	}
	if c := strings.Compare(d.TenantID, o.TenantID); c != 0 {
		return c
	}
	if c := strings.Compare(d.Source, o.Source); c != 0 {
		return c
	}
	switch {
	case d.Timestamp < o.Timestamp:
		return -1
	case d.Timestamp > o.Timestamp:
		return 1
	}
	return 0
}

// Time returns the collection time as time.Time.
func (d Data) Time() time.Time {
	return time.UnixMilli(d.Timestamp)
}
