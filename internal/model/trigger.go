package model

import "strings"

// Mode determines which condition/dampening set a loaded trigger evaluates.
type Mode string

const (
	Firing      Mode = "FIRING"
	AutoResolve Mode = "AUTORESOLVE"
)

// TriggerType classifies group membership. Only STANDARD, MEMBER and ORPHAN
// triggers are loadable into the rule base; group templates are definitions
// only.
type TriggerType string

const (
	TypeStandard        TriggerType = "STANDARD"
	TypeGroup           TriggerType = "GROUP"
	TypeDataDrivenGroup TriggerType = "DATA_DRIVEN_GROUP"
	TypeMember          TriggerType = "MEMBER"
	TypeOrphan          TriggerType = "ORPHAN"
)

// EventType classifies what a firing trigger produces.
type EventType string

const (
	EventTypeAlert EventType = "ALERT"
	EventTypeEvent EventType = "EVENT"
)

// Match determines how a condition set combines its members' evaluations.
type Match string

const (
	MatchAll Match = "ALL"
	MatchAny Match = "ANY"
)

// Severity of alerts produced by a trigger.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Trigger is the tenant-defined rule unit. It fires alerts or events when
// its conditions are satisfied, subject to dampening.
type Trigger struct {
	TenantID string `json:"tenant_id"`
	ID       string `json:"id"`
	Name     string `json:"name"`

	Enabled bool `json:"enabled"`

	// Current evaluation mode. Runtime state, not a definition attribute.
	Mode Mode `json:"mode"`

	Type      TriggerType `json:"type"`
	EventType EventType   `json:"event_type"`

	FiringMatch      Match `json:"firing_match"`
	AutoResolveMatch Match `json:"auto_resolve_match"`

	AutoDisable       bool `json:"auto_disable"`
	AutoEnable        bool `json:"auto_enable"`
	AutoResolve       bool `json:"auto_resolve"`
	AutoResolveAlerts bool `json:"auto_resolve_alerts"`

	Severity Severity `json:"severity"`

	// Logical source qualifier; member triggers generated from a
	// data-driven group carry the data source that materialized them.
	Source string `json:"source,omitempty"`

	// Group trigger this member belongs to
	MemberOf string `json:"member_of,omitempty"`

	// Token to dataId substitutions applied when generating members
	DataIDMap map[string]string `json:"data_id_map,omitempty"`

	Tags map[string]string `json:"tags,omitempty"`

	// Action plugin references notified when the trigger fires
	Actions []TriggerAction `json:"actions,omitempty"`
}

// TriggerAction references an action plugin definition.
type TriggerAction struct {
	Plugin   string `json:"plugin"`
	ActionID string `json:"action_id"`
}

// NewTrigger builds an enabled standard trigger in firing mode.
func NewTrigger(tenantID, id, name string) *Trigger {
	return &Trigger{
		TenantID:         tenantID,
		ID:               id,
		Name:             name,
		Enabled:          true,
		Mode:             Firing,
		Type:             TypeStandard,
		EventType:        EventTypeAlert,
		FiringMatch:      MatchAll,
		AutoResolveMatch: MatchAll,
		Severity:         SeverityMedium,
		Source:           SourceNone,
	}
}

// IsGroup reports whether the trigger is a group template of either kind.
func (t *Trigger) IsGroup() bool {
	return t.Type == TypeGroup || t.Type == TypeDataDrivenGroup
}

// Loadable reports whether the trigger may be placed into the rule base.
// Disabled triggers and group templates are partitioned but never loaded.
func (t *Trigger) Loadable() bool {
	return t.Enabled && !t.IsGroup()
}

// MatchFor returns the condition set match for the given mode.
func (t *Trigger) MatchFor(mode Mode) Match {
	if mode == AutoResolve {
		return t.AutoResolveMatch
	}
	return t.FiringMatch
}

// Validate checks required identifiers.
func (t *Trigger) Validate() error {
	if strings.TrimSpace(t.TenantID) == "" {
		return ErrEmptyTenantID
	}
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyTriggerID
	}
	return nil
}
