package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vigil/internal/logger"
	"vigil/internal/model"
)

// MemoryDefinitions is an in-memory Definitions implementation. It backs
// tests and single-node deployments without a database.
type MemoryDefinitions struct {
	mu sync.RWMutex
	// tenantID -> triggerID -> trigger
	triggers map[string]map[string]*model.Trigger
	// tenantID/triggerID -> conditions, all modes
	conditions map[string][]*model.Condition
	// tenantID/triggerID -> dampeningID -> dampening
	dampenings map[string]map[string]*model.Dampening

	listeners []ChangeListener
}

func NewMemoryDefinitions() *MemoryDefinitions {
	return &MemoryDefinitions{
		triggers:   make(map[string]map[string]*model.Trigger),
		conditions: make(map[string][]*model.Condition),
		dampenings: make(map[string]map[string]*model.Dampening),
	}
}

func triggerKey(tenantID, triggerID string) string {
	return tenantID + "/" + triggerID
}

func (d *MemoryDefinitions) RegisterListener(l ChangeListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *MemoryDefinitions) notify(ev ChangeEvent) {
	d.mu.RLock()
	listeners := append([]ChangeListener(nil), d.listeners...)
	d.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

func (d *MemoryDefinitions) AddTrigger(_ context.Context, trigger *model.Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	tenant, ok := d.triggers[trigger.TenantID]
	if !ok {
		tenant = make(map[string]*model.Trigger)
		d.triggers[trigger.TenantID] = tenant
	}
	if _, ok := tenant[trigger.ID]; ok {
		d.mu.Unlock()
		return fmt.Errorf("trigger %s: %w", trigger.ID, ErrAlreadyExists)
	}
	cp := *trigger
	tenant[trigger.ID] = &cp
	d.mu.Unlock()

	d.notify(ChangeEvent{Type: TriggerCreated, TenantID: trigger.TenantID, Trigger: &cp})
	return nil
}

func (d *MemoryDefinitions) UpdateTrigger(_ context.Context, trigger *model.Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	tenant, ok := d.triggers[trigger.TenantID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("trigger %s: %w", trigger.ID, ErrNotFound)
	}
	if _, ok := tenant[trigger.ID]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("trigger %s: %w", trigger.ID, ErrNotFound)
	}
	cp := *trigger
	tenant[trigger.ID] = &cp
	d.mu.Unlock()

	d.notify(ChangeEvent{Type: TriggerUpdated, TenantID: trigger.TenantID, Trigger: &cp})
	return nil
}

func (d *MemoryDefinitions) RemoveTrigger(_ context.Context, tenantID, triggerID string) error {
	d.mu.Lock()
	tenant, ok := d.triggers[tenantID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("trigger %s: %w", triggerID, ErrNotFound)
	}
	trigger, ok := tenant[triggerID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("trigger %s: %w", triggerID, ErrNotFound)
	}
	delete(tenant, triggerID)
	key := triggerKey(tenantID, triggerID)
	delete(d.conditions, key)
	delete(d.dampenings, key)
	d.mu.Unlock()

	d.notify(ChangeEvent{Type: TriggerRemoved, TenantID: tenantID, Trigger: trigger})
	return nil
}

func (d *MemoryDefinitions) GetTrigger(_ context.Context, tenantID, triggerID string) (*model.Trigger, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	trigger, ok := d.triggers[tenantID][triggerID]
	if !ok {
		return nil, fmt.Errorf("trigger %s: %w", triggerID, ErrNotFound)
	}
	cp := *trigger
	return &cp, nil
}

func (d *MemoryDefinitions) GetTriggersByTenant(_ context.Context, tenantID string) ([]*model.Trigger, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*model.Trigger, 0, len(d.triggers[tenantID]))
	for _, t := range d.triggers[tenantID] {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryDefinitions) GetAllTriggers(_ context.Context) ([]*model.Trigger, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*model.Trigger
	for _, tenant := range d.triggers {
		for _, t := range tenant {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *MemoryDefinitions) SetConditions(_ context.Context, tenantID, triggerID string, mode model.Mode, conditions []*model.Condition) error {
	d.mu.Lock()
	trigger, ok := d.triggers[tenantID][triggerID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("trigger %s: %w", triggerID, ErrNotFound)
	}

	key := triggerKey(tenantID, triggerID)
	// Keep the other mode's conditions untouched
	kept := make([]*model.Condition, 0, len(d.conditions[key]))
	for _, c := range d.conditions[key] {
		if c.Mode != mode {
			kept = append(kept, c)
		}
	}
	for i, c := range conditions {
		cp := *c
		cp.TenantID = tenantID
		cp.TriggerID = triggerID
		cp.Mode = mode
		cp.SetSize = len(conditions)
		cp.SetIndex = i + 1
		kept = append(kept, &cp)
	}
	d.conditions[key] = kept
	cp := *trigger
	d.mu.Unlock()

	d.notify(ChangeEvent{Type: TriggerUpdated, TenantID: tenantID, Trigger: &cp})
	return nil
}

func (d *MemoryDefinitions) GetTriggerConditions(_ context.Context, tenantID, triggerID string) ([]*model.Condition, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conditions := d.conditions[triggerKey(tenantID, triggerID)]
	out := make([]*model.Condition, 0, len(conditions))
	for _, c := range conditions {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (d *MemoryDefinitions) SetDampening(_ context.Context, dampening *model.Dampening) error {
	d.mu.Lock()
	if _, ok := d.triggers[dampening.TenantID][dampening.TriggerID]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("trigger %s: %w", dampening.TriggerID, ErrNotFound)
	}
	key := triggerKey(dampening.TenantID, dampening.TriggerID)
	byID, ok := d.dampenings[key]
	if !ok {
		byID = make(map[string]*model.Dampening)
		d.dampenings[key] = byID
	}
	cp := *dampening
	byID[dampening.DampeningID()] = &cp
	trigger := d.triggers[dampening.TenantID][dampening.TriggerID]
	tcp := *trigger
	d.mu.Unlock()

	d.notify(ChangeEvent{Type: TriggerUpdated, TenantID: dampening.TenantID, Trigger: &tcp})
	return nil
}

func (d *MemoryDefinitions) GetTriggerDampenings(_ context.Context, tenantID, triggerID string) ([]*model.Dampening, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	byID := d.dampenings[triggerKey(tenantID, triggerID)]
	out := make([]*model.Dampening, 0, len(byID))
	for _, dd := range byID {
		cp := *dd
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mode < out[j].Mode })
	return out, nil
}

func (d *MemoryDefinitions) GetMemberTriggers(_ context.Context, tenantID, groupID string) ([]*model.Trigger, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*model.Trigger
	for _, t := range d.triggers[tenantID] {
		if t.MemberOf == groupID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryAlerts is an in-memory Alerts implementation.
type MemoryAlerts struct {
	mu sync.RWMutex
	// tenantID -> alertID -> alert
	alerts map[string]map[string]*model.Alert
	events map[string][]model.Event
}

func NewMemoryAlerts() *MemoryAlerts {
	return &MemoryAlerts{
		alerts: make(map[string]map[string]*model.Alert),
		events: make(map[string][]model.Event),
	}
}

func (s *MemoryAlerts) AddAlerts(_ context.Context, alerts []*model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range alerts {
		tenant, ok := s.alerts[a.TenantID]
		if !ok {
			tenant = make(map[string]*model.Alert)
			s.alerts[a.TenantID] = tenant
		}
		cp := *a
		tenant[a.ID] = &cp
		// Every alert persists its companion event
		s.events[a.TenantID] = append(s.events[a.TenantID], a.Event())
	}
	return nil
}

func (s *MemoryAlerts) PersistEvents(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.events[e.TenantID] = append(s.events[e.TenantID], e)
	}
	return nil
}

func (s *MemoryAlerts) GetAlerts(_ context.Context, tenantID string, criteria AlertsCriteria) ([]*model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Alert
	for _, a := range s.alerts[tenantID] {
		if criteria.Matches(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CTime != out[j].CTime {
			return out[i].CTime < out[j].CTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetEvents returns persisted events for a tenant, oldest first.
func (s *MemoryAlerts) GetEvents(_ context.Context, tenantID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Event(nil), s.events[tenantID]...), nil
}

func (s *MemoryAlerts) AckAlerts(_ context.Context, tenantID string, alertIDs []string, ackBy, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	for _, id := range alertIDs {
		a, ok := s.alerts[tenantID][id]
		if !ok {
			return fmt.Errorf("alert %s: %w", id, ErrNotFound)
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
	}
	return nil
}

func (s *MemoryAlerts) ResolveAlerts(_ context.Context, tenantID string, alertIDs []string, resolvedBy, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	for _, id := range alertIDs {
		a, ok := s.alerts[tenantID][id]
		if !ok {
			return fmt.Errorf("alert %s: %w", id, ErrNotFound)
		}
		resolve(a, resolvedBy, notes, now, nil)
	}
	return nil
}

func (s *MemoryAlerts) ResolveAlertsForTrigger(_ context.Context, tenantID, triggerID, resolvedBy, notes string, evalSets []model.EvalSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	resolved := 0
	for _, a := range s.alerts[tenantID] {
		if a.TriggerID != triggerID || a.Status == model.StatusResolved {
			continue
		}
		resolve(a, resolvedBy, notes, now, evalSets)
		resolved++
	}
	if resolved > 0 {
		log := logger.WithTrigger(tenantID, triggerID)
		log.Debug().
			Int("count", resolved).Msg("alerts auto resolved")
	}
	return nil
}

func resolve(a *model.Alert, resolvedBy, notes string, now int64, evalSets []model.EvalSet) {
	if a.Status == model.StatusResolved {
		return
	}
	a.Status = model.StatusResolved
	a.ResolvedTime = now
	a.ResolvedBy = resolvedBy
	a.ResolvedEvalSets = evalSets
	if notes != "" {
		a.Notes = notes
	}
}
