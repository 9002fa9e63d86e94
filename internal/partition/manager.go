package partition

import (
	"context"
	"sync"
	"time"

	"vigil/internal/cluster"
	"vigil/internal/logger"
	"vigil/internal/metrics"
	"vigil/internal/model"
)

// TriggerLister is the slice of the definitions service the manager needs
// to bootstrap the very first partition.
type TriggerLister interface {
	GetAllTriggers(ctx context.Context) ([]*model.Trigger, error)
}

// bootstrapTimeout bounds the initial partition computation, which may
// enumerate every trigger in the system. Deliberately generous; callers
// must not assume sub-second response on this coordinator-only path.
const bootstrapTimeout = 5 * time.Minute

// Manager coordinates trigger ownership across the cluster. In standalone
// mode every operation is a no-op and all triggers are implicitly local; in
// distributed mode the manager reacts to topology changes (coordinator
// recomputes the partition), propagates trigger and data notifications, and
// fans ownership deltas out to registered listeners.
type Manager struct {
	distributed bool

	store       Store
	membership  cluster.Membership
	definitions TriggerLister

	currentNode string

	mu               sync.Mutex
	triggerListeners []TriggerListener
	dataListeners    []DataListener

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config for a Manager. Leaving Store or Membership nil yields a
// standalone manager.
type Config struct {
	Distributed bool
	Store       Store
	Membership  cluster.Membership
	Definitions TriggerLister
}

// NewManager builds a Manager. Start must be called before use.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		distributed: cfg.Distributed && cfg.Store != nil && cfg.Membership != nil,
		store:       cfg.Store,
		membership:  cfg.Membership,
		definitions: cfg.Definitions,
		stop:        make(chan struct{}),
	}
	if m.distributed {
		m.currentNode = cfg.Membership.Self()
	}
	return m
}

// IsDistributed reports whether this manager participates in a cluster.
func (m *Manager) IsDistributed() bool {
	return m.distributed
}

// Status returns a descriptive view of the manager for the status surface.
func (m *Manager) Status(ctx context.Context) map[string]string {
	status := map[string]string{"distributed": "false"}
	if !m.distributed {
		return status
	}
	status["distributed"] = "true"
	status["current_node"] = m.currentNode
	if members, err := m.membership.Members(ctx); err == nil {
		status["members"] = joinMembers(members)
	}
	return status
}

// RegisterTriggerListener adds a listener for ownership callbacks.
// Registration happens during wiring, before Start.
func (m *Manager) RegisterTriggerListener(l TriggerListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggerListeners = append(m.triggerListeners, l)
}

// RegisterDataListener adds a listener for cross-node data/events.
func (m *Manager) RegisterDataListener(l DataListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataListeners = append(m.dataListeners, l)
}

// Start joins the cluster, performs the initial partition if this node is
// coordinator, and begins reacting to notifications. No-op standalone.
func (m *Manager) Start(ctx context.Context) error {
	if !m.distributed {
		log := logger.WithComponent("partition")
		log.Info().Msg("partition manager disabled, standalone mode")
		return nil
	}
	log := logger.WithComponent("partition")

	sub, err := m.store.Subscribe(ctx)
	if err != nil {
		return err
	}
	if err := m.membership.Start(ctx); err != nil {
		return err
	}

	log.Debug().Str("node", m.currentNode).Msg("initial partition")
	m.processTopologyChange()

	m.wg.Add(1)
	go m.run(sub)

	log.Info().Str("node", m.currentNode).Msg("partition manager started")
	return nil
}

// Stop leaves the cluster and halts the reaction loop.
func (m *Manager) Stop() error {
	if !m.distributed {
		return nil
	}
	close(m.stop)
	m.wg.Wait()
	if err := m.membership.Stop(); err != nil {
		return err
	}
	return m.store.Close()
}

// NotifyTrigger routes a trigger operation to the node consistent hashing
// says should own it. No-op standalone.
func (m *Manager) NotifyTrigger(ctx context.Context, op Operation, tenantID, triggerID string) {
	if !m.distributed {
		return
	}
	log := logger.WithComponent("partition")

	st, err := m.store.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot load buckets for trigger notification")
		return
	}
	if len(st.Buckets) == 0 {
		log.Warn().Msg("no bucket table yet, trigger notification skipped")
		return
	}

	entry := Entry{TenantID: tenantID, TriggerID: triggerID}
	nt := NotifyTrigger{
		FromNode:  m.currentNode,
		ToNode:    CalculateNewEntry(entry, st.Buckets),
		Operation: op,
		TenantID:  tenantID,
		TriggerID: triggerID,
	}
	if err := m.store.PublishTrigger(ctx, nt); err != nil {
		log.Error().Err(err).Str("trigger_id", triggerID).Msg("cannot publish trigger notification")
		return
	}
	metrics.PartitionNotificationsTotal.WithLabelValues("trigger", "sent").Inc()
}

// NotifyData re-broadcasts a filtered data batch to the other nodes.
// No-op standalone.
func (m *Manager) NotifyData(ctx context.Context, data []model.Data) {
	if !m.distributed || len(data) == 0 {
		return
	}
	nd := NotifyData{FromNode: m.currentNode, Data: data}
	if err := m.store.PublishData(ctx, nd); err != nil {
		log := logger.WithComponent("partition")
		log.Error().Err(err).Int("count", len(data)).
			Msg("cannot publish data notification")
		return
	}
	metrics.PartitionNotificationsTotal.WithLabelValues("data", "sent").Inc()
}

// NotifyEvents re-broadcasts a filtered events batch to the other nodes.
// No-op standalone.
func (m *Manager) NotifyEvents(ctx context.Context, events []model.Event) {
	if !m.distributed || len(events) == 0 {
		return
	}
	nd := NotifyData{FromNode: m.currentNode, Events: events}
	if err := m.store.PublishData(ctx, nd); err != nil {
		log := logger.WithComponent("partition")
		log.Error().Err(err).Int("count", len(events)).
			Msg("cannot publish events notification")
		return
	}
	metrics.PartitionNotificationsTotal.WithLabelValues("data", "sent").Inc()
}

func (m *Manager) run(sub Subscription) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case <-m.membership.Changes():
			m.processTopologyChange()
		case <-sub.PartitionChanges:
			m.invokePartitionChangeListeners()
		case nt := <-sub.Triggers:
			m.processNotifyTrigger(nt)
		case nd := <-sub.Data:
			m.processNotifyData(nd)
		}
	}
}

// processTopologyChange recomputes buckets and partition. Coordinator-only;
// non-coordinators react to the change marker instead. Failures leave the
// last-known-good partition in place.
func (m *Manager) processTopologyChange() {
	log := logger.WithComponent("partition")

	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	coordinator, err := m.membership.IsCoordinator(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot determine coordinator, keeping current partition")
		return
	}
	if !coordinator {
		return
	}

	st, err := m.store.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot load partition state, keeping current partition")
		return
	}

	members, err := m.membership.Members(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot list members, keeping current partition")
		return
	}
	if len(members) == 0 {
		log.Warn().Msg("empty member view, keeping current partition")
		return
	}

	newBuckets := UpdateBuckets(st.Buckets, members)
	log.Debug().
		Interface("old_buckets", st.Buckets).
		Interface("new_buckets", newBuckets).
		Msg("processing topology change")

	var entries []Entry
	if st.Current == nil {
		// Initial load of all triggers
		triggers, err := m.definitions.GetAllTriggers(ctx)
		if err != nil {
			log.Error().Err(err).Msg("cannot initialize partition, definitions unavailable")
		} else {
			for _, t := range triggers {
				entries = append(entries, Entry{TenantID: t.TenantID, TriggerID: t.ID})
			}
		}
	} else {
		for entry := range st.Current {
			entries = append(entries, entry)
		}
	}

	newPartition := CalculatePartition(entries, newBuckets)

	save := State{Buckets: newBuckets, Current: newPartition}
	if st.Current != nil {
		save.Previous = st.Current
	}
	if err := m.store.Save(ctx, save); err != nil {
		log.Error().Err(err).Msg("cannot publish new partition, keeping current partition")
		return
	}
	if err := m.store.MarkChanged(ctx); err != nil {
		log.Error().Err(err).Msg("cannot publish partition change marker")
		return
	}
	metrics.PartitionTopologyChanges.Inc()
}

// processNotifyTrigger handles a trigger notification targeted at this
// node: last notification wins, the node claims the entry for itself, then
// listeners run the actual load/unload.
func (m *Manager) processNotifyTrigger(nt NotifyTrigger) {
	if nt.ToNode != m.currentNode {
		return
	}
	log := logger.WithComponent("partition")
	log.Debug().
		Str("from", nt.FromNode).
		Str("op", string(nt.Operation)).
		Str("trigger_id", nt.TriggerID).
		Msg("trigger notification received")
	metrics.PartitionNotificationsTotal.WithLabelValues("trigger", "received").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := m.store.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot load partition for trigger notification")
		return
	}

	entry := Entry{TenantID: nt.TenantID, TriggerID: nt.TriggerID}
	current := st.Current
	if current == nil {
		current = map[Entry]string{}
	}

	owner, exists := current[entry]
	switch nt.Operation {
	case OpAdd, OpUpdate:
		// Claim only if the bookkeeping is absent or outdated
		if !exists || owner != m.currentNode {
			m.modifyPartition(ctx, entry, current, nt.Operation)
		}
	case OpRemove:
		if exists {
			m.modifyPartition(ctx, entry, current, nt.Operation)
		}
	}

	m.mu.Lock()
	listeners := append([]TriggerListener(nil), m.triggerListeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l.OnTriggerChange(nt.Operation, nt.TenantID, nt.TriggerID)
	}
}

func (m *Manager) modifyPartition(ctx context.Context, entry Entry, current map[Entry]string, op Operation) {
	newPartition := copyPartition(current)
	if op == OpRemove {
		delete(newPartition, entry)
	} else {
		newPartition[entry] = m.currentNode
	}
	if err := m.store.Save(ctx, State{Previous: current, Current: newPartition}); err != nil {
		log := logger.WithComponent("partition")
		log.Error().Err(err).
			Stringer("entry", entry).
			Msg("cannot publish partition ownership update")
	}
}

// processNotifyData dispatches cross-node data/events, suppressing the
// self-echo: the origin node already processed this batch locally.
func (m *Manager) processNotifyData(nd NotifyData) {
	if nd.FromNode == m.currentNode {
		return
	}
	metrics.PartitionNotificationsTotal.WithLabelValues("data", "received").Inc()

	m.mu.Lock()
	listeners := append([]DataListener(nil), m.dataListeners...)
	m.mu.Unlock()

	if len(nd.Data) > 0 {
		for _, l := range listeners {
			l.OnNewData(nd.Data)
		}
	}
	if len(nd.Events) > 0 {
		for _, l := range listeners {
			l.OnNewEvents(nd.Events)
		}
	}
}

// invokePartitionChangeListeners computes this node's assignment and the
// added/removed deltas against the previous partition, then informs every
// trigger listener.
func (m *Manager) invokePartitionChangeListeners() {
	m.mu.Lock()
	listeners := append([]TriggerListener(nil), m.triggerListeners...)
	m.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	log := logger.WithComponent("partition")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := m.store.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot load partition for change listener")
		return
	}

	nodePartition := NodePartition(st.Current, m.currentNode)
	removed, added := AddedRemoved(st.Previous, st.Current, m.currentNode)

	owned := 0
	for _, ids := range nodePartition {
		owned += len(ids)
	}
	metrics.PartitionEntriesOwned.Set(float64(owned))

	log.Debug().
		Interface("partition", nodePartition).
		Interface("added", added).
		Interface("removed", removed).
		Msg("partition change")

	for _, l := range listeners {
		l.OnPartitionChange(nodePartition, removed, added)
	}
}

// NodePartition filters a partition down to one node's entries, grouped by
// tenantId -> triggerIds.
func NodePartition(partition map[Entry]string, node string) map[string][]string {
	nodePartition := make(map[string][]string)
	for entry, owner := range partition {
		if owner == node {
			nodePartition[entry.TenantID] = append(nodePartition[entry.TenantID], entry.TriggerID)
		}
	}
	return nodePartition
}

// AddedRemoved diffs one node's entries between the previous and current
// partitions. With no previous partition everything current is added.
func AddedRemoved(previous, current map[Entry]string, node string) (removed, added map[string][]string) {
	removed = make(map[string][]string)
	added = make(map[string][]string)

	if len(previous) == 0 {
		for entry, owner := range current {
			if owner == node {
				added[entry.TenantID] = append(added[entry.TenantID], entry.TriggerID)
			}
		}
		return removed, added
	}

	for entry, owner := range previous {
		if owner == node && current[entry] != node {
			removed[entry.TenantID] = append(removed[entry.TenantID], entry.TriggerID)
		}
	}
	for entry, owner := range current {
		if owner == node && previous[entry] != node {
			added[entry.TenantID] = append(added[entry.TenantID], entry.TriggerID)
		}
	}
	return removed, added
}

func joinMembers(members []string) string {
	out := ""
	for i, member := range members {
		if i > 0 {
			out += ", "
		}
		out += member
	}
	return out
}
