package engine

import "sync"

// ActiveDataCache records which dataIds are referenced by the conditions of
// currently loaded triggers. It is the admission filter for incoming data
// and events: signals no loaded trigger cares about are dropped before
// buffering. Reads vastly outnumber writes, which only happen on trigger
// load and unload.
type ActiveDataCache struct {
	mu sync.RWMutex
	// tenantId -> dataId -> set of referencing triggerIds
	entries map[string]map[string]map[string]struct{}
}

func NewActiveDataCache() *ActiveDataCache {
	return &ActiveDataCache{
		entries: make(map[string]map[string]map[string]struct{}),
	}
}

// Register marks the dataIds as active for a loaded trigger.
func (c *ActiveDataCache) Register(tenantID, triggerID string, dataIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tenant, ok := c.entries[tenantID]
	if !ok {
		tenant = make(map[string]map[string]struct{})
		c.entries[tenantID] = tenant
	}
	for _, dataID := range dataIDs {
		if dataID == "" {
			continue
		}
		triggers, ok := tenant[dataID]
		if !ok {
			triggers = make(map[string]struct{})
			tenant[dataID] = triggers
		}
		triggers[triggerID] = struct{}{}
	}
}

// IsActive reports whether any loaded trigger references the dataId.
func (c *ActiveDataCache) IsActive(tenantID, dataID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[tenantID][dataID]) > 0
}

// RemoveTrigger drops every entry held on behalf of one trigger.
func (c *ActiveDataCache) RemoveTrigger(tenantID, triggerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tenant := c.entries[tenantID]
	for dataID, triggers := range tenant {
		delete(triggers, triggerID)
		if len(triggers) == 0 {
			delete(tenant, dataID)
		}
	}
	if len(tenant) == 0 {
		delete(c.entries, tenantID)
	}
}

// Clear drops all entries.
func (c *ActiveDataCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]map[string]map[string]struct{})
}

// Size returns the number of active (tenantId, dataId) pairs.
func (c *ActiveDataCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, tenant := range c.entries {
		n += len(tenant)
	}
	return n
}
