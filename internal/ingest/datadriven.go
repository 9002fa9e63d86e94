package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"

	"vigil/internal/logger"
	"vigil/internal/model"
	"vigil/internal/service"
)

// GroupCacheManager tracks data-driven group triggers and the sources that
// already have a materialized member. When data arrives from a source no
// member covers yet, a member trigger is generated from the group template.
// Creation is best effort; a failure is retried on the source's next datum.
type GroupCacheManager struct {
	definitions service.Definitions

	mu sync.RWMutex
	// tenantId -> dataId -> data-driven groups whose conditions reference it
	groupsByDataID map[string]map[string][]*model.Trigger
	// tenantId/groupId -> sources with an existing member
	memberSources map[string]map[string]struct{}
}

func NewGroupCacheManager(definitions service.Definitions) *GroupCacheManager {
	m := &GroupCacheManager{
		definitions:    definitions,
		groupsByDataID: make(map[string]map[string][]*model.Trigger),
		memberSources:  make(map[string]map[string]struct{}),
	}
	definitions.RegisterListener(func(ev service.ChangeEvent) {
		t := ev.Trigger
		if t == nil {
			return
		}
		if t.Type == model.TypeDataDrivenGroup || t.MemberOf != "" {
			m.refresh(context.Background())
		}
	})
	return m
}

// Refresh rebuilds the caches from the definitions service.
func (m *GroupCacheManager) Refresh(ctx context.Context) error {
	return m.refresh(ctx)
}

func (m *GroupCacheManager) refresh(ctx context.Context) error {
	log := logger.WithComponent("ingest")

	triggers, err := m.definitions.GetAllTriggers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot refresh data-driven group cache")
		return err
	}

	groupsByDataID := make(map[string]map[string][]*model.Trigger)
	memberSources := make(map[string]map[string]struct{})

	for _, t := range triggers {
		if t.Type == model.TypeDataDrivenGroup {
			conditions, err := m.definitions.GetTriggerConditions(ctx, t.TenantID, t.ID)
			if err != nil {
				log.Error().Err(err).Str("group_id", t.ID).Msg("cannot load group conditions")
				continue
			}
			byDataID, ok := groupsByDataID[t.TenantID]
			if !ok {
				byDataID = make(map[string][]*model.Trigger)
				groupsByDataID[t.TenantID] = byDataID
			}
			for _, c := range conditions {
				if c.Mode != model.Firing || c.DataID == "" {
					continue
				}
				byDataID[c.DataID] = append(byDataID[c.DataID], t)
			}
			continue
		}
		if t.MemberOf != "" && t.Source != "" && t.Source != model.SourceNone {
			key := groupKey(t.TenantID, t.MemberOf)
			sources, ok := memberSources[key]
			if !ok {
				sources = make(map[string]struct{})
				memberSources[key] = sources
			}
			sources[t.Source] = struct{}{}
		}
	}

	m.mu.Lock()
	m.groupsByDataID = groupsByDataID
	m.memberSources = memberSources
	m.mu.Unlock()
	return nil
}

func groupKey(tenantID, groupID string) string {
	return tenantID + "/" + groupID
}

// References reports whether any data-driven group condition names the
// dataId, admitting data from sources with no member yet.
func (m *GroupCacheManager) References(tenantID, dataID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.groupsByDataID[tenantID][dataID]) > 0
}

// CheckDataDriven materializes member triggers for data arriving from
// sources no member covers yet.
func (m *GroupCacheManager) CheckDataDriven(ctx context.Context, batch []model.Data) {
	for _, d := range batch {
		if d.Source == "" || d.Source == model.SourceNone {
			continue
		}
		for _, group := range m.pendingGroups(d.TenantID, d.ID, d.Source) {
			m.createMember(ctx, group, d.Source)
		}
	}
}

func (m *GroupCacheManager) pendingGroups(tenantID, dataID, source string) []*model.Trigger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	groups := m.groupsByDataID[tenantID][dataID]
	if len(groups) == 0 {
		return nil
	}
	var pending []*model.Trigger
	for _, g := range groups {
		if _, ok := m.memberSources[groupKey(tenantID, g.ID)][source]; !ok {
			pending = append(pending, g)
		}
	}
	return pending
}

// createMember generates a member trigger from the group template for one
// source, copying conditions and dampenings.
func (m *GroupCacheManager) createMember(ctx context.Context, group *model.Trigger, source string) {
	log := logger.WithTrigger(group.TenantID, group.ID)

	member := *group
	member.ID = memberID(group.ID, source)
	member.Name = group.Name + " [" + source + "]"
	member.Type = model.TypeMember
	member.MemberOf = group.ID
	member.Source = source
	member.Enabled = group.Enabled

	if err := m.definitions.AddTrigger(ctx, &member); err != nil {
		log.Error().Err(err).Str("source", source).Msg("cannot create data-driven member")
		return
	}

	conditions, err := m.definitions.GetTriggerConditions(ctx, group.TenantID, group.ID)
	if err == nil {
		byMode := map[model.Mode][]*model.Condition{}
		for _, c := range conditions {
			cp := *c
			byMode[c.Mode] = append(byMode[c.Mode], &cp)
		}
		for mode, set := range byMode {
			if err := m.definitions.SetConditions(ctx, member.TenantID, member.ID, mode, set); err != nil {
				log.Error().Err(err).Str("member_id", member.ID).Msg("cannot copy group conditions")
			}
		}
	} else {
		log.Error().Err(err).Str("member_id", member.ID).Msg("cannot load group conditions")
	}

	dampenings, err := m.definitions.GetTriggerDampenings(ctx, group.TenantID, group.ID)
	if err == nil {
		for _, d := range dampenings {
			cp := *d
			cp.TriggerID = member.ID
			if err := m.definitions.SetDampening(ctx, &cp); err != nil {
				log.Error().Err(err).Str("member_id", member.ID).Msg("cannot copy group dampening")
			}
		}
	}

	m.mu.Lock()
	key := groupKey(group.TenantID, group.ID)
	sources, ok := m.memberSources[key]
	if !ok {
		sources = make(map[string]struct{})
		m.memberSources[key] = sources
	}
	sources[source] = struct{}{}
	m.mu.Unlock()

	log.Info().
		Str("member_id", member.ID).
		Str("source", source).
		Msg("data-driven member created")
}

// memberID derives a stable member trigger id from the group id and source.
func memberID(groupID, source string) string {
	sum := md5.Sum([]byte(source))
	return groupID + "-" + hex.EncodeToString(sum[:4])
}
