// Package engine implements the periodic evaluation loop: it buffers
// pending data and events, tracks dampening timeouts, fires the rule base,
// persists produced alerts and events, and reconciles auto-resolve and
// auto-disable side effects. It also implements the trigger
// load/reload/remove state machine driven locally or by partition
// callbacks.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"vigil/internal/logger"
	"vigil/internal/metrics"
	"vigil/internal/model"
	"vigil/internal/partition"
	"vigil/internal/rules"
	"vigil/internal/service"
)

var ErrEmptyBatch = errors.New("batch cannot be empty")

// Distributor is the slice of the partition manager the engine needs.
type Distributor interface {
	IsDistributed() bool
	NotifyTrigger(ctx context.Context, op partition.Operation, tenantID, triggerID string)
	NotifyEvents(ctx context.Context, events []model.Event)
}

type noopDistributor struct{}

func (noopDistributor) IsDistributed() bool { return false }
func (noopDistributor) NotifyTrigger(context.Context, partition.Operation, string, string) {
}
func (noopDistributor) NotifyEvents(context.Context, []model.Event) {}

// Options configures an Engine. Zero durations fall back to defaults.
type Options struct {
	Delay  time.Duration
	Period time.Duration

	DataMinInterval   time.Duration
	EventsMinInterval time.Duration

	Rules       rules.Engine
	Definitions service.Definitions
	Alerts      service.Alerts
	Actions     service.Actions
	Distributor Distributor
}

// Engine is the evaluation scheduler. One instance runs per node.
type Engine struct {
	delay  time.Duration
	period time.Duration

	dataMinInterval   int64
	eventsMinInterval int64

	rules       rules.Engine
	definitions service.Definitions
	alerts      service.Alerts
	actions     service.Actions
	dist        Distributor

	cache *ActiveDataCache

	// Pending queues, mutated by producers and swap-drained by the tick
	mu            sync.Mutex
	pendingData   []model.Data
	pendingEvents []model.Event

	// Trigger load bookkeeping
	loadMu sync.Mutex
	loaded map[string]struct{}

	// Rule outputs and side-effect collections, bound as globals. Only the
	// tick goroutine touches these while a task is scheduled.
	outAlerts       []*model.Alert
	outEvents       []model.Event
	pendingTimeouts map[string]*model.Dampening
	autoResolved    map[*model.Trigger][]model.EvalSet
	disabled        map[string]*model.Trigger

	schedMu  sync.Mutex
	taskStop chan struct{}
	taskWg   sync.WaitGroup
}

func New(opts Options) *Engine {
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.Period <= 0 {
		opts.Period = 2 * time.Second
	}
	if opts.Rules == nil {
		opts.Rules = rules.NewMemoryEngine()
	}
	if opts.Actions == nil {
		opts.Actions = service.NewLogActions()
	}
	if opts.Distributor == nil {
		opts.Distributor = noopDistributor{}
	}
	return &Engine{
		delay:             opts.Delay,
		period:            opts.Period,
		dataMinInterval:   opts.DataMinInterval.Milliseconds(),
		eventsMinInterval: opts.EventsMinInterval.Milliseconds(),
		rules:             opts.Rules,
		definitions:       opts.Definitions,
		alerts:            opts.Alerts,
		actions:           opts.Actions,
		dist:              opts.Distributor,
		cache:             NewActiveDataCache(),
		loaded:            make(map[string]struct{}),
		pendingTimeouts:   make(map[string]*model.Dampening),
		autoResolved:      make(map[*model.Trigger][]model.EvalSet),
		disabled:          make(map[string]*model.Trigger),
	}
}

// Cache exposes the active-dataId admission filter for the ingestion layer.
func (e *Engine) Cache() *ActiveDataCache {
	return e.cache
}

// Start performs the initial reload and schedules the evaluation task.
func (e *Engine) Start(ctx context.Context) error {
	return e.Reload(ctx)
}

// Stop cancels the evaluation task. Pending data is discarded.
func (e *Engine) Stop() {
	e.cancelTask()
	log := logger.WithComponent("engine")
	log.Info().Msg("engine stopped")
}

// Reload performs a full cold start: reset the rule base, clear the
// admission cache, re-bind globals, load every loadable trigger and
// schedule the evaluation task. A definitions failure aborts only the
// trigger re-population; the scheduler still starts.
func (e *Engine) Reload(ctx context.Context) error {
	log := logger.WithComponent("engine")

	e.cancelTask()

	e.rules.Reset()
	e.cache.Clear()

	e.mu.Lock()
	e.pendingData = nil
	e.pendingEvents = nil
	e.mu.Unlock()

	e.loadMu.Lock()
	e.loaded = make(map[string]struct{})
	e.loadMu.Unlock()
	metrics.EngineTriggersLoaded.Set(0)

	e.outAlerts = nil
	e.outEvents = nil
	clearDampeningMap(e.pendingTimeouts)
	clearTriggerSetMap(e.autoResolved)
	clearTriggerMap(e.disabled)

	e.rules.AddGlobal(rules.GlobalAlerts, &e.outAlerts)
	e.rules.AddGlobal(rules.GlobalEvents, &e.outEvents)
	e.rules.AddGlobal(rules.GlobalPendingTimeouts, e.pendingTimeouts)
	e.rules.AddGlobal(rules.GlobalAutoResolved, e.autoResolved)
	e.rules.AddGlobal(rules.GlobalDisabled, e.disabled)

	triggers, err := e.definitions.GetAllTriggers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot load triggers on reload")
	} else {
		count := 0
		for _, t := range triggers {
			if !t.Loadable() {
				continue
			}
			if e.dist.IsDistributed() {
				e.dist.NotifyTrigger(ctx, partition.OpUpdate, t.TenantID, t.ID)
			} else {
				e.reloadTriggerLocal(ctx, t.TenantID, t.ID)
			}
			count++
		}
		log.Info().Int("triggers", count).Msg("engine reloaded")
	}

	e.schedule()
	return nil
}

// Clear stops evaluation and drops all facts and buffered input. Used on
// shutdown and in tests; Reload starts the engine again.
func (e *Engine) Clear(_ context.Context) {
	e.cancelTask()
	e.rules.Reset()
	e.cache.Clear()

	e.mu.Lock()
	e.pendingData = nil
	e.pendingEvents = nil
	e.mu.Unlock()

	e.loadMu.Lock()
	e.loaded = make(map[string]struct{})
	e.loadMu.Unlock()
	metrics.EngineTriggersLoaded.Set(0)
}

// AddTrigger loads a newly created trigger.
func (e *Engine) AddTrigger(ctx context.Context, tenantID, triggerID string) {
	e.ReloadTrigger(ctx, tenantID, triggerID)
}

// ReloadTrigger reloads one trigger's facts. Distributed, the ownership
// decision is delegated and the load may land on another node.
func (e *Engine) ReloadTrigger(ctx context.Context, tenantID, triggerID string) {
	if e.dist.IsDistributed() {
		e.dist.NotifyTrigger(ctx, partition.OpUpdate, tenantID, triggerID)
		return
	}
	e.reloadTriggerLocal(ctx, tenantID, triggerID)
}

// RemoveTrigger unloads one trigger's facts.
func (e *Engine) RemoveTrigger(ctx context.Context, tenantID, triggerID string) {
	if e.dist.IsDistributed() {
		e.dist.NotifyTrigger(ctx, partition.OpRemove, tenantID, triggerID)
		return
	}
	e.removeTriggerLocal(tenantID, triggerID)
}

// reloadTriggerLocal strips any existing facts for the trigger and, when
// the trigger is loadable and its definitions fetch cleanly, re-inserts
// trigger, conditions and dampenings. A fetch failure leaves the trigger
// absent, never partially loaded.
func (e *Engine) reloadTriggerLocal(ctx context.Context, tenantID, triggerID string) {
	log := logger.WithTrigger(tenantID, triggerID)

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.unloadLocked(tenantID, triggerID)

	trigger, err := e.definitions.GetTrigger(ctx, tenantID, triggerID)
	if err != nil {
		if !errors.Is(err, service.ErrNotFound) {
			log.Error().Err(err).Msg("cannot fetch trigger, skipping reload")
		}
		return
	}
	if !trigger.Loadable() {
		return
	}

	conditions, err := e.definitions.GetTriggerConditions(ctx, tenantID, triggerID)
	if err != nil {
		log.Error().Err(err).Msg("cannot fetch conditions, skipping reload")
		return
	}
	dampenings, err := e.definitions.GetTriggerDampenings(ctx, tenantID, triggerID)
	if err != nil {
		log.Error().Err(err).Msg("cannot fetch dampenings, skipping reload")
		return
	}

	for _, c := range conditions {
		e.cache.Register(tenantID, triggerID, c.DataID, c.Data2ID)
	}

	trigger.Mode = model.Firing
	facts := make([]any, 0, 1+len(conditions)+len(dampenings))
	facts = append(facts, trigger)
	for _, c := range conditions {
		facts = append(facts, c)
	}
	for _, d := range dampenings {
		d.Reset()
		facts = append(facts, d)
	}
	if err := e.rules.AddFacts(facts); err != nil {
		log.Error().Err(err).Msg("cannot insert trigger facts")
		e.cache.RemoveTrigger(tenantID, triggerID)
		return
	}

	e.loaded[tenantID+"/"+triggerID] = struct{}{}
	metrics.EngineTriggersLoaded.Set(float64(len(e.loaded)))
	log.Debug().Int("conditions", len(conditions)).Msg("trigger loaded")
}

func (e *Engine) removeTriggerLocal(tenantID, triggerID string) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	e.unloadLocked(tenantID, triggerID)
}

func (e *Engine) unloadLocked(tenantID, triggerID string) {
	e.rules.RemoveFacts(func(fact any) bool {
		switch f := fact.(type) {
		case *model.Trigger:
			return f.TenantID == tenantID && f.ID == triggerID
		case *model.Condition:
			return f.TenantID == tenantID && f.TriggerID == triggerID
		case *model.Dampening:
			return f.TenantID == tenantID && f.TriggerID == triggerID
		}
		return false
	})
	e.cache.RemoveTrigger(tenantID, triggerID)
	delete(e.loaded, tenantID+"/"+triggerID)
	metrics.EngineTriggersLoaded.Set(float64(len(e.loaded)))
}

// SendData appends an already filtered batch to the pending queue.
func (e *Engine) SendData(_ context.Context, data []model.Data) error {
	if len(data) == 0 {
		return ErrEmptyBatch
	}
	for i := range data {
		data[i].Normalize()
		if err := data[i].Validate(); err != nil {
			return err
		}
	}
	e.addPendingData(data)
	return nil
}

// SendEvents appends an already filtered batch to the pending queue.
func (e *Engine) SendEvents(_ context.Context, events []model.Event) error {
	if len(events) == 0 {
		return ErrEmptyBatch
	}
	for i := range events {
		events[i].Normalize()
		if err := events[i].Validate(); err != nil {
			return err
		}
	}
	e.addPendingEvents(events)
	return nil
}

// addPendingData stitches a batch into the pending queue, re-enforcing
// dedup and min interval across batch boundaries.
func (e *Engine) addPendingData(data []model.Data) {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged := append(e.pendingData, data...)
	merged = DedupSortData(merged)
	e.pendingData = MinIntervalData(merged, e.dataMinInterval)
}

func (e *Engine) addPendingEvents(events []model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged := append(e.pendingEvents, events...)
	merged = DedupSortEvents(merged)
	e.pendingEvents = MinIntervalEvents(merged, e.eventsMinInterval)
}

// OnTriggerChange loads or unloads a trigger this node was told it owns.
func (e *Engine) OnTriggerChange(op partition.Operation, tenantID, triggerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if op == partition.OpRemove {
		e.removeTriggerLocal(tenantID, triggerID)
		return
	}
	e.reloadTriggerLocal(ctx, tenantID, triggerID)
}

// OnPartitionChange applies the topology delta for this node: unload lost
// triggers, load gained ones.
func (e *Engine) OnPartitionChange(partitionMap, removed, added map[string][]string) {
	log := logger.WithComponent("engine")

	e.mu.Lock()
	pendingEvents := len(e.pendingEvents)
	e.mu.Unlock()
	if pendingEvents > 0 {
		// Buffered events may belong to triggers this node is about to
		// lose; they are kept and evaluated on the next tick, where a
		// missing trigger fact makes them inert.
		log.Warn().Int("pending_events", pendingEvents).Msg("partition change with pending events")
	}

	total := 0
	for _, ids := range partitionMap {
		total += len(ids)
	}
	log.Info().
		Int("owned", total).
		Int("tenants", len(partitionMap)).
		Msg("applying partition change")

	for tenantID, triggerIDs := range removed {
		for _, triggerID := range triggerIDs {
			e.removeTriggerLocal(tenantID, triggerID)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	for tenantID, triggerIDs := range added {
		for _, triggerID := range triggerIDs {
			e.reloadTriggerLocal(ctx, tenantID, triggerID)
		}
	}
}

// OnNewData buffers a batch relayed from another node, re-applying this
// node's admission filter.
func (e *Engine) OnNewData(data []model.Data) {
	filtered := make([]model.Data, 0, len(data))
	for _, d := range data {
		if e.cache.IsActive(d.TenantID, d.ID) {
			filtered = append(filtered, d)
		}
	}
	if len(filtered) > 0 {
		e.addPendingData(filtered)
	}
}

// OnNewEvents buffers an events batch relayed from another node.
func (e *Engine) OnNewEvents(events []model.Event) {
	filtered := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if e.cache.IsActive(ev.TenantID, ev.DataID) {
			filtered = append(filtered, ev)
		}
	}
	if len(filtered) > 0 {
		e.addPendingEvents(filtered)
	}
}

// schedule cancels any running task and starts a fresh one at
// (delay, period). Ticks never overlap.
func (e *Engine) schedule() {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	e.cancelTaskLocked()

	stop := make(chan struct{})
	e.taskStop = stop
	e.taskWg.Add(1)
	go func() {
		defer e.taskWg.Done()
		timer := time.NewTimer(e.delay)
		defer timer.Stop()
		select {
		case <-stop:
			return
		case <-timer.C:
		}
		e.Tick()
		ticker := time.NewTicker(e.period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.Tick()
			}
		}
	}()
}

func (e *Engine) cancelTask() {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	e.cancelTaskLocked()
}

func (e *Engine) cancelTaskLocked() {
	if e.taskStop != nil {
		close(e.taskStop)
		e.taskStop = nil
		e.taskWg.Wait()
	}
}

// Tick runs one evaluation pass. Exported for tests; the scheduled task is
// the normal caller. A failing tick never kills the scheduler.
func (e *Engine) Tick() {
	log := logger.WithComponent("engine")
	start := time.Now()
	ctx := context.Background()

	timedOut := e.checkPendingTimeouts()

	e.mu.Lock()
	if len(e.pendingData) == 0 && len(e.pendingEvents) == 0 && timedOut == 0 {
		e.mu.Unlock()
		metrics.EngineTicksTotal.WithLabelValues("idle").Inc()
		return
	}
	data := e.pendingData
	events := e.pendingEvents
	e.pendingData = nil
	e.pendingEvents = nil
	e.mu.Unlock()

	if err := e.evaluate(ctx, data, events, timedOut); err != nil {
		log.Error().Err(err).
			Int("data", len(data)).
			Int("events", len(events)).
			Msg("evaluation pass failed")
		metrics.EngineTicksTotal.WithLabelValues("error").Inc()
	} else {
		metrics.EngineTicksTotal.WithLabelValues("fired").Inc()
	}
	metrics.EngineTickDuration.Observe(time.Since(start).Seconds())

	e.handleDisabledTriggers(ctx)
	e.handleAutoResolvedTriggers(ctx)
}

// checkPendingTimeouts confirms STRICT_TIMEOUT dampenings whose window has
// fully elapsed, pushing the satisfied fact back into the rule base.
func (e *Engine) checkPendingTimeouts() int {
	if len(e.pendingTimeouts) == 0 {
		return 0
	}
	now := time.Now().UnixMilli()
	timedOut := 0
	for id, d := range e.pendingTimeouts {
		if d.TrueEvalsStartTime <= 0 || now < d.TrueEvalsStartTime+d.EvalTimeSetting {
			continue
		}
		d.Satisfied = true
		if err := e.rules.UpdateFact(d); err != nil {
			log := logger.WithComponent("engine")
			log.Warn().Err(err).
				Str("dampening", id).Msg("timed out dampening no longer a fact")
			delete(e.pendingTimeouts, id)
			continue
		}
		delete(e.pendingTimeouts, id)
		timedOut++
		metrics.EngineDampeningTimeouts.Inc()
	}
	return timedOut
}

// evaluate inserts the drained batches as facts and fires the rule base,
// then persists and clears the outputs. Outputs are cleared even on
// failure so a crashed tick cannot double-alert on retry.
func (e *Engine) evaluate(ctx context.Context, data []model.Data, events []model.Event, timedOut int) error {
	defer func() {
		e.outAlerts = nil
		e.outEvents = nil
	}()

	if len(data) == 0 && len(events) == 0 {
		if timedOut > 0 {
			if err := e.rules.FireNoData(); err != nil {
				return err
			}
		}
	} else {
		facts := make([]any, 0, len(data)+len(events))
		for _, d := range data {
			facts = append(facts, d)
		}
		for _, ev := range events {
			facts = append(facts, ev)
		}
		if err := e.rules.AddFacts(facts); err != nil {
			return err
		}
		if err := e.rules.Fire(); err != nil {
			return err
		}
	}

	e.persistOutputs(ctx)
	return nil
}

func (e *Engine) persistOutputs(ctx context.Context) {
	log := logger.WithComponent("engine")

	if len(e.outAlerts) > 0 {
		if err := e.alerts.AddAlerts(ctx, e.outAlerts); err != nil {
			log.Error().Err(err).Int("count", len(e.outAlerts)).Msg("cannot persist alerts")
		} else {
			metrics.EngineAlertsTotal.Add(float64(len(e.outAlerts)))
		}
		for _, a := range e.outAlerts {
			if a.Trigger != nil {
				e.actions.Send(ctx, a.Trigger, a.Event())
			}
		}
	}

	if len(e.outEvents) > 0 {
		if err := e.alerts.PersistEvents(ctx, e.outEvents); err != nil {
			log.Error().Err(err).Int("count", len(e.outEvents)).Msg("cannot persist events")
		} else {
			metrics.EngineEventsTotal.Add(float64(len(e.outEvents)))
		}
		for _, ev := range e.outEvents {
			if ev.Trigger != nil {
				e.actions.Send(ctx, ev.Trigger, ev)
			}
		}
		// Chained triggers on other nodes may reference these events
		if e.dist.IsDistributed() {
			e.dist.NotifyEvents(ctx, e.outEvents)
		}
	}
}

// handleDisabledTriggers persists enabled=false for triggers that fired
// with autoDisable. Best effort; the set is cleared regardless.
func (e *Engine) handleDisabledTriggers(ctx context.Context) {
	if len(e.disabled) == 0 {
		return
	}
	for key, t := range e.disabled {
		log := logger.WithTrigger(t.TenantID, t.ID)
		trigger, err := e.definitions.GetTrigger(ctx, t.TenantID, t.ID)
		if err != nil {
			log.Error().Err(err).Msg("cannot fetch trigger for auto disable")
			delete(e.disabled, key)
			continue
		}
		trigger.Enabled = false
		if err := e.definitions.UpdateTrigger(ctx, trigger); err != nil {
			log.Error().Err(err).Msg("cannot persist auto disable")
		} else {
			log.Info().Msg("trigger auto disabled")
		}
		delete(e.disabled, key)
	}
}

// handleAutoResolvedTriggers resolves open alerts for triggers whose
// AUTORESOLVE condition set was satisfied. A resolve failure, or a trigger
// not configured to auto-resolve its alerts, falls back to a manual reload
// so the trigger returns to firing mode instead of sticking half resolved.
func (e *Engine) handleAutoResolvedTriggers(ctx context.Context) {
	if len(e.autoResolved) == 0 {
		return
	}
	for t, evalSets := range e.autoResolved {
		log := logger.WithTrigger(t.TenantID, t.ID)
		manualReload := !t.AutoResolveAlerts
		if t.AutoResolveAlerts {
			err := e.alerts.ResolveAlertsForTrigger(ctx, t.TenantID, t.ID, "AutoResolve", "", evalSets)
			if err != nil {
				log.Error().Err(err).Msg("cannot auto resolve alerts")
				manualReload = true
			}
		}
		if manualReload {
			e.ReloadTrigger(ctx, t.TenantID, t.ID)
		}
		delete(e.autoResolved, t)
	}
}

func clearDampeningMap(m map[string]*model.Dampening) {
	for k := range m {
		delete(m, k)
	}
}

func clearTriggerSetMap(m map[*model.Trigger][]model.EvalSet) {
	for k := range m {
		delete(m, k)
	}
}

func clearTriggerMap(m map[string]*model.Trigger) {
	for k := range m {
		delete(m, k)
	}
}
