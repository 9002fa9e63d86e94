package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/model"
	"vigil/internal/service"
)

func dataDrivenGroup(t *testing.T, defs service.Definitions) *model.Trigger {
	t.Helper()
	ctx := context.Background()

	group := model.NewTrigger("t1", "ram-group", "ram per host")
	group.Type = model.TypeDataDrivenGroup
	require.NoError(t, defs.AddTrigger(ctx, group))
	require.NoError(t, defs.SetConditions(ctx, "t1", "ram-group", model.Firing, []*model.Condition{
		{Type: model.Threshold, DataID: "ram", Operator: model.OpGT, Threshold: 90},
	}))
	require.NoError(t, defs.SetDampening(ctx,
		model.ForStrict("t1", "ram-group", model.Firing, 2)))
	return group
}

func TestGroupCacheReferences(t *testing.T) {
	defs := service.NewMemoryDefinitions()
	dataDrivenGroup(t, defs)

	m := NewGroupCacheManager(defs)
	require.NoError(t, m.Refresh(context.Background()))

	assert.True(t, m.References("t1", "ram"))
	assert.False(t, m.References("t1", "cpu"))
	assert.False(t, m.References("t2", "ram"))
}

func TestCheckDataDrivenCreatesMemberPerSource(t *testing.T) {
	defs := service.NewMemoryDefinitions()
	dataDrivenGroup(t, defs)
	ctx := context.Background()

	m := NewGroupCacheManager(defs)
	require.NoError(t, m.Refresh(ctx))

	datum := model.NewData("t1", "ram", 1000, 95)
	datum.Source = "host-1"
	m.CheckDataDriven(ctx, []model.Data{datum})

	members, err := defs.GetMemberTriggers(ctx, "t1", "ram-group")
	require.NoError(t, err)
	require.Len(t, members, 1)

	member := members[0]
	assert.Equal(t, model.TypeMember, member.Type)
	assert.Equal(t, "ram-group", member.MemberOf)
	assert.Equal(t, "host-1", member.Source)
	assert.True(t, member.Loadable())

	// Conditions and dampenings are copied onto the member
	conditions, err := defs.GetTriggerConditions(ctx, "t1", member.ID)
	require.NoError(t, err)
	require.Len(t, conditions, 1)
	assert.Equal(t, "ram", conditions[0].DataID)
	assert.Equal(t, member.ID, conditions[0].TriggerID)

	dampenings, err := defs.GetTriggerDampenings(ctx, "t1", member.ID)
	require.NoError(t, err)
	require.Len(t, dampenings, 1)
	assert.Equal(t, member.ID, dampenings[0].TriggerID)
	assert.Equal(t, model.Strict, dampenings[0].Type)
}

func TestCheckDataDrivenIdempotentPerSource(t *testing.T) {
	defs := service.NewMemoryDefinitions()
	dataDrivenGroup(t, defs)
	ctx := context.Background()

	m := NewGroupCacheManager(defs)
	require.NoError(t, m.Refresh(ctx))

	datum := model.NewData("t1", "ram", 1000, 95)
	datum.Source = "host-1"
	m.CheckDataDriven(ctx, []model.Data{datum})
	m.CheckDataDriven(ctx, []model.Data{datum})

	members, err := defs.GetMemberTriggers(ctx, "t1", "ram-group")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestCheckDataDrivenSecondSource(t *testing.T) {
	defs := service.NewMemoryDefinitions()
	dataDrivenGroup(t, defs)
	ctx := context.Background()

	m := NewGroupCacheManager(defs)
	require.NoError(t, m.Refresh(ctx))

	first := model.NewData("t1", "ram", 1000, 95)
	first.Source = "host-1"
	second := model.NewData("t1", "ram", 1000, 92)
	second.Source = "host-2"
	m.CheckDataDriven(ctx, []model.Data{first, second})

	members, err := defs.GetMemberTriggers(ctx, "t1", "ram-group")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.NotEqual(t, members[0].ID, members[1].ID)
}

func TestCheckDataDrivenIgnoresDefaultSource(t *testing.T) {
	defs := service.NewMemoryDefinitions()
	dataDrivenGroup(t, defs)
	ctx := context.Background()

	m := NewGroupCacheManager(defs)
	require.NoError(t, m.Refresh(ctx))

	m.CheckDataDriven(ctx, []model.Data{model.NewData("t1", "ram", 1000, 95)})

	members, err := defs.GetMemberTriggers(ctx, "t1", "ram-group")
	require.NoError(t, err)
	assert.Empty(t, members, "sourceless data materializes no member")
}

func TestMemberIDStable(t *testing.T) {
	a := memberID("ram-group", "host-1")
	b := memberID("ram-group", "host-1")
	c := memberID("ram-group", "host-2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "ram-group-")
}

func TestRefreshTracksExistingMembers(t *testing.T) {
	defs := service.NewMemoryDefinitions()
	dataDrivenGroup(t, defs)
	ctx := context.Background()

	// Pre-existing member from an earlier run
	member := model.NewTrigger("t1", "ram-group-abcd1234", "ram per host [host-1]")
	member.Type = model.TypeMember
	member.MemberOf = "ram-group"
	member.Source = "host-1"
	require.NoError(t, defs.AddTrigger(ctx, member))

	m := NewGroupCacheManager(defs)
	require.NoError(t, m.Refresh(ctx))

	datum := model.NewData("t1", "ram", 1000, 95)
	datum.Source = "host-1"
	m.CheckDataDriven(ctx, []model.Data{datum})

	members, err := defs.GetMemberTriggers(ctx, "t1", "ram-group")
	require.NoError(t, err)
	assert.Len(t, members, 1, "known source must not grow a second member")
}
