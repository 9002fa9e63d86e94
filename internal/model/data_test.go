package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataNormalize(t *testing.T) {
	d := Data{TenantID: " t1 ", ID: " cpu ", Timestamp: 1000}
	d.Normalize()
	assert.Equal(t, "t1", d.TenantID)
	assert.Equal(t, "cpu", d.ID)
	assert.Equal(t, SourceNone, d.Source)
}

func TestDataValidate(t *testing.T) {
	valid := NewData("t1", "cpu", 1000, 1)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		modify  func(*Data)
		wantErr error
	}{
		{"empty tenant", func(d *Data) { d.TenantID = "" }, ErrEmptyTenantID},
		{"empty id", func(d *Data) { d.ID = "" }, ErrEmptyDataID},
		{"zero timestamp", func(d *Data) { d.Timestamp = 0 }, ErrZeroTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.modify(&d)
			assert.ErrorIs(t, d.Validate(), tt.wantErr)
		})
	}
}

func TestDataSameIgnoresTimestampAndValue(t *testing.T) {
	a := NewData("t1", "cpu", 1000, 1)
	b := NewData("t1", "cpu", 2000, 99)
	assert.True(t, a.Same(b))

	c := NewData("t1", "ram", 1000, 1)
	assert.False(t, a.Same(c))

	d := NewData("t2", "cpu", 1000, 1)
	assert.False(t, a.Same(d))
}

func TestDataCompareOrder(t *testing.T) {
	a := NewData("t1", "cpu", 1000, 1)
	b := NewData("t1", "cpu", 2000, 1)
	c := NewData("t1", "ram", 500, 1)

	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Negative(t, a.Compare(c), "id orders before timestamp")
	assert.Zero(t, a.Compare(a))
}

func TestEventNormalizeGeneratesID(t *testing.T) {
	e := Event{TenantID: "t1", DataID: "deploys"}
	e.Normalize()
	assert.NotEmpty(t, e.ID)
	assert.Positive(t, e.CTime)
}

func TestEventValidate(t *testing.T) {
	e := NewEvent("t1", "deploys", "DEPLOYMENT", "rollout", 1000)
	require.NoError(t, e.Validate())

	e.DataID = ""
	assert.ErrorIs(t, e.Validate(), ErrEmptyDataID)
}

func TestTriggerLoadable(t *testing.T) {
	trigger := NewTrigger("t1", "tr1", "one")
	assert.True(t, trigger.Loadable())

	trigger.Enabled = false
	assert.False(t, trigger.Loadable())

	group := NewTrigger("t1", "g1", "group")
	group.Type = TypeDataDrivenGroup
	assert.False(t, group.Loadable(), "group templates are never loaded")

	member := NewTrigger("t1", "m1", "member")
	member.Type = TypeMember
	assert.True(t, member.Loadable())
}

func TestAlertCompanionEventSharesID(t *testing.T) {
	trigger := NewTrigger("t1", "tr1", "one")
	alert := NewAlert(trigger, nil)

	ev := alert.Event()
	assert.Equal(t, alert.ID, ev.ID)
	assert.Equal(t, alert.TenantID, ev.TenantID)
	assert.Equal(t, "tr1", ev.DataID)
	assert.Equal(t, CategoryAlert, ev.Category)
}
