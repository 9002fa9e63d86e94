// Package rules provides the fact base the evaluation loop fires against.
// Triggers, conditions and dampenings are long-lived facts; data and events
// are transient facts consumed by one firing pass.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"vigil/internal/logger"
	"vigil/internal/model"
)

// Global binding names the engine scheduler registers before firing.
const (
	GlobalAlerts          = "alerts"
	GlobalEvents          = "events"
	GlobalPendingTimeouts = "pendingTimeouts"
	GlobalAutoResolved    = "autoResolvedTriggers"
	GlobalDisabled        = "disabledTriggers"
)

var ErrFactNotFound = errors.New("fact not found")

// Engine is an opaque fact base supporting add/remove/update fact, global
// bindings and firing.
type Engine interface {
	Reset()
	AddGlobal(name string, value any)
	ClearGlobals()
	AddFact(fact any) error
	AddFacts(facts []any) error
	RemoveFact(fact any) error
	RemoveFacts(match func(fact any) bool) int
	UpdateFact(fact any) error
	GetFact(template any) any
	Fire() error
	FireNoData() error
}

// MemoryEngine evaluates condition facts against streaming data and events
// in time order, feeding set evaluations through dampening state.
type MemoryEngine struct {
	mu sync.Mutex

	// tenantId/triggerId -> trigger
	triggers map[string]*model.Trigger
	// tenantId/triggerId -> conditionId -> condition
	conditions map[string]map[string]*model.Condition
	// dampeningId -> dampening
	dampenings map[string]*model.Dampening

	// Transient facts awaiting the next firing pass
	data   []model.Data
	events []model.Event

	// Last numeric value per tenantId/dataId, the second operand of
	// COMPARE conditions
	lastValue map[string]float64

	globals map[string]any
}

func NewMemoryEngine() *MemoryEngine {
	e := &MemoryEngine{}
	e.Reset()
	return e
}

func factKey(tenantID, triggerID string) string {
	return tenantID + "/" + triggerID
}

// Reset drops all facts. Globals survive a reset.
func (e *MemoryEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggers = make(map[string]*model.Trigger)
	e.conditions = make(map[string]map[string]*model.Condition)
	e.dampenings = make(map[string]*model.Dampening)
	e.data = nil
	e.events = nil
	e.lastValue = make(map[string]float64)
	if e.globals == nil {
		e.globals = make(map[string]any)
	}
}

func (e *MemoryEngine) AddGlobal(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals[name] = value
}

func (e *MemoryEngine) ClearGlobals() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals = make(map[string]any)
}

func (e *MemoryEngine) AddFact(fact any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addFactLocked(fact)
}

func (e *MemoryEngine) AddFacts(facts []any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, fact := range facts {
		if err := e.addFactLocked(fact); err != nil {
			return err
		}
	}
	return nil
}

func (e *MemoryEngine) addFactLocked(fact any) error {
	switch f := fact.(type) {
	case *model.Trigger:
		e.triggers[factKey(f.TenantID, f.ID)] = f
	case *model.Condition:
		key := factKey(f.TenantID, f.TriggerID)
		byID, ok := e.conditions[key]
		if !ok {
			byID = make(map[string]*model.Condition)
			e.conditions[key] = byID
		}
		byID[f.ConditionID()] = f
	case *model.Dampening:
		e.dampenings[f.DampeningID()] = f
	case model.Data:
		e.data = append(e.data, f)
	case model.Event:
		e.events = append(e.events, f)
	default:
		return fmt.Errorf("unsupported fact type %T", fact)
	}
	return nil
}

func (e *MemoryEngine) RemoveFact(fact any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch f := fact.(type) {
	case *model.Trigger:
		key := factKey(f.TenantID, f.ID)
		if _, ok := e.triggers[key]; !ok {
			return ErrFactNotFound
		}
		delete(e.triggers, key)
	case *model.Condition:
		key := factKey(f.TenantID, f.TriggerID)
		if _, ok := e.conditions[key][f.ConditionID()]; !ok {
			return ErrFactNotFound
		}
		delete(e.conditions[key], f.ConditionID())
	case *model.Dampening:
		if _, ok := e.dampenings[f.DampeningID()]; !ok {
			return ErrFactNotFound
		}
		delete(e.dampenings, f.DampeningID())
	default:
		return fmt.Errorf("unsupported fact type %T", fact)
	}
	return nil
}

// RemoveFacts deletes every definition fact matching the predicate and
// returns the count removed. Transient data/event facts are not matched.
func (e *MemoryEngine) RemoveFacts(match func(fact any) bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for key, t := range e.triggers {
		if match(t) {
			delete(e.triggers, key)
			removed++
		}
	}
	for key, byID := range e.conditions {
		for id, c := range byID {
			if match(c) {
				delete(byID, id)
				removed++
			}
		}
		if len(byID) == 0 {
			delete(e.conditions, key)
		}
	}
	for id, d := range e.dampenings {
		if match(d) {
			delete(e.dampenings, id)
			removed++
		}
	}
	return removed
}

func (e *MemoryEngine) UpdateFact(fact any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch f := fact.(type) {
	case *model.Trigger:
		if _, ok := e.triggers[factKey(f.TenantID, f.ID)]; !ok {
			return ErrFactNotFound
		}
	case *model.Condition:
		if _, ok := e.conditions[factKey(f.TenantID, f.TriggerID)][f.ConditionID()]; !ok {
			return ErrFactNotFound
		}
	case *model.Dampening:
		if _, ok := e.dampenings[f.DampeningID()]; !ok {
			return ErrFactNotFound
		}
	default:
		return fmt.Errorf("unsupported fact type %T", fact)
	}
	return e.addFactLocked(fact)
}

// GetFact returns the stored fact matching the template's identity, or nil.
func (e *MemoryEngine) GetFact(template any) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch f := template.(type) {
	case *model.Trigger:
		if t, ok := e.triggers[factKey(f.TenantID, f.ID)]; ok {
			return t
		}
	case *model.Condition:
		if c, ok := e.conditions[factKey(f.TenantID, f.TriggerID)][f.ConditionID()]; ok {
			return c
		}
	case *model.Dampening:
		if d, ok := e.dampenings[f.DampeningID()]; ok {
			return d
		}
	}
	return nil
}

// Fire runs one evaluation pass over the buffered data and event facts.
func (e *MemoryEngine) Fire() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data := e.data
	events := e.events
	e.data = nil
	e.events = nil

	e.fireSatisfiedLocked()
	e.evaluateStreamLocked(data, events)
	e.registerTimeoutsLocked()
	return nil
}

// FireNoData runs a pass with no new facts, for timeout-confirmed
// dampenings marked satisfied via UpdateFact.
func (e *MemoryEngine) FireNoData() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fireSatisfiedLocked()
	e.registerTimeoutsLocked()
	return nil
}

// streamItem merges data and events into one time-ordered sequence.
type streamItem struct {
	time  int64
	data  *model.Data
	event *model.Event
}

func (e *MemoryEngine) evaluateStreamLocked(data []model.Data, events []model.Event) {
	items := make([]streamItem, 0, len(data)+len(events))
	for i := range data {
		items = append(items, streamItem{time: data[i].Timestamp, data: &data[i]})
	}
	for i := range events {
		items = append(items, streamItem{time: events[i].CTime, event: &events[i]})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].time < items[j].time })

	for _, item := range items {
		if item.data != nil {
			e.evaluateDataLocked(*item.data)
		} else {
			e.evaluateEventLocked(*item.event)
		}
	}
}

func (e *MemoryEngine) evaluateDataLocked(d model.Data) {
	value2 := func(dataID string) (float64, bool) {
		v, ok := e.lastValue[factKey(d.TenantID, dataID)]
		return v, ok
	}

	e.lastValue[factKey(d.TenantID, d.ID)] = d.Value

	for triggerKey, byID := range e.conditions {
		trigger, ok := e.triggers[triggerKey]
		if !ok || trigger.TenantID != d.TenantID {
			continue
		}
		for _, c := range byID {
			if c.Mode != trigger.Mode || c.DataID != d.ID || c.Type == model.EventCond {
				continue
			}
			if c.Type == model.Compare {
				v2, ok := value2(c.Data2ID)
				if !ok {
					continue
				}
				eval := evalOf(c, c.Match(d.Value, d.Text, v2), d.Value, d.Text, d.Timestamp)
				e.performLocked(trigger, c, eval)
				continue
			}
			eval := evalOf(c, c.Match(d.Value, d.Text, 0), d.Value, d.Text, d.Timestamp)
			e.performLocked(trigger, c, eval)
		}
	}
}

func (e *MemoryEngine) evaluateEventLocked(ev model.Event) {
	for triggerKey, byID := range e.conditions {
		trigger, ok := e.triggers[triggerKey]
		if !ok || trigger.TenantID != ev.TenantID {
			continue
		}
		for _, c := range byID {
			if c.Mode != trigger.Mode || c.DataID != ev.DataID || c.Type != model.EventCond {
				continue
			}
			eval := evalOf(c, c.Match(0, ev.Text, 0), 0, ev.Text, ev.CTime)
			e.performLocked(trigger, c, eval)
		}
	}
}

func evalOf(c *model.Condition, match bool, value float64, text string, time int64) model.ConditionEval {
	return model.ConditionEval{
		ConditionID: c.ConditionID(),
		Type:        c.Type,
		DataID:      c.DataID,
		SetSize:     c.SetSize,
		SetIndex:    c.SetIndex,
		Match:       match,
		Value:       value,
		Text:        text,
		Time:        time,
	}
}

func (e *MemoryEngine) performLocked(trigger *model.Trigger, c *model.Condition, eval model.ConditionEval) {
	d := e.dampeningLocked(trigger, trigger.Mode)
	d.Perform(trigger.MatchFor(trigger.Mode), model.EvalSet{eval})
	if d.Satisfied {
		e.fireTriggerLocked(trigger, d)
	}
}

// dampeningLocked returns the trigger's dampening for the mode, installing
// the implicit default when none was defined.
func (e *MemoryEngine) dampeningLocked(trigger *model.Trigger, mode model.Mode) *model.Dampening {
	id := (&model.Dampening{TenantID: trigger.TenantID, TriggerID: trigger.ID, Mode: mode}).DampeningID()
	if d, ok := e.dampenings[id]; ok {
		return d
	}
	d := model.DefaultDampening(trigger.TenantID, trigger.ID, mode)
	e.dampenings[id] = d
	return d
}

// fireSatisfiedLocked fires triggers whose dampening was confirmed outside
// the stream, such as STRICT_TIMEOUT expiry pushed in via UpdateFact.
func (e *MemoryEngine) fireSatisfiedLocked() {
	for _, d := range e.dampenings {
		if !d.Satisfied {
			continue
		}
		trigger, ok := e.triggers[factKey(d.TenantID, d.TriggerID)]
		if !ok || trigger.Mode != d.Mode {
			d.Reset()
			continue
		}
		e.fireTriggerLocked(trigger, d)
	}
}

func (e *MemoryEngine) fireTriggerLocked(trigger *model.Trigger, d *model.Dampening) {
	evalSets := append([]model.EvalSet(nil), d.SatisfyingEvals()...)
	d.Reset()

	log := logger.WithTrigger(trigger.TenantID, trigger.ID)

	if trigger.Mode == model.AutoResolve {
		log.Debug().Msg("auto resolve satisfied")
		if m, ok := e.globals[GlobalAutoResolved].(map[*model.Trigger][]model.EvalSet); ok {
			m[trigger] = evalSets
		}
		trigger.Mode = model.Firing
		e.dampeningLocked(trigger, model.Firing).Reset()
		return
	}

	log.Debug().Str("event_type", string(trigger.EventType)).Msg("trigger fired")

	switch trigger.EventType {
	case model.EventTypeEvent:
		if out, ok := e.globals[GlobalEvents].(*[]model.Event); ok {
			*out = append(*out, model.NewTriggerEvent(trigger, d, evalSets))
		}
	default:
		if out, ok := e.globals[GlobalAlerts].(*[]*model.Alert); ok {
			*out = append(*out, model.NewAlert(trigger, evalSets))
		}
	}

	if trigger.AutoDisable {
		if m, ok := e.globals[GlobalDisabled].(map[string]*model.Trigger); ok {
			m[factKey(trigger.TenantID, trigger.ID)] = trigger
		}
	}

	if trigger.AutoResolve {
		trigger.Mode = model.AutoResolve
		e.dampeningLocked(trigger, model.AutoResolve).Reset()
	}
}

// registerTimeoutsLocked exposes in-progress STRICT_TIMEOUT dampenings to
// the scheduler's timeout scan.
func (e *MemoryEngine) registerTimeoutsLocked() {
	pending, ok := e.globals[GlobalPendingTimeouts].(map[string]*model.Dampening)
	if !ok {
		return
	}
	for id, d := range e.dampenings {
		if d.Type != model.StrictTimeout {
			continue
		}
		if d.TrueEvalsStartTime > 0 && !d.Satisfied {
			pending[id] = d
		} else {
			delete(pending, id)
		}
	}
}
