package partition

import (
	"vigil/internal/model"
)

// Operation on a trigger propagated across the cluster.
type Operation string

const (
	OpAdd    Operation = "ADD"
	OpUpdate Operation = "UPDATE"
	OpRemove Operation = "REMOVE"
)

// NotifyTrigger is the ephemeral cluster message asking the owning node to
// load, reload or unload a trigger. It is a hint with a bounded lifespan,
// not authoritative state.
type NotifyTrigger struct {
	FromNode  string    `json:"from_node"`
	ToNode    string    `json:"to_node"`
	Operation Operation `json:"operation"`
	TenantID  string    `json:"tenant_id"`
	TriggerID string    `json:"trigger_id"`
}

// NotifyData is the ephemeral cluster message re-broadcasting filtered
// data or events to the other nodes. Exactly one of Data/Events is set.
type NotifyData struct {
	FromNode string        `json:"from_node"`
	Data     []model.Data  `json:"data,omitempty"`
	Events   []model.Event `json:"events,omitempty"`
}

// TriggerListener receives trigger ownership callbacks on the owning node.
type TriggerListener interface {
	// OnTriggerChange is invoked when this node must load, reload or
	// unload a single trigger.
	OnTriggerChange(op Operation, tenantID, triggerID string)

	// OnPartitionChange is invoked after a topology change with this
	// node's full assignment plus the added/removed deltas, all grouped
	// by tenantId -> triggerIds.
	OnPartitionChange(partition, removed, added map[string][]string)
}

// DataListener receives data/events re-broadcast from other nodes.
type DataListener interface {
	OnNewData(data []model.Data)
	OnNewEvents(events []model.Event)
}
