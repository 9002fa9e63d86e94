package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThresholdMatch(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		threshold float64
		value     float64
		want      bool
	}{
		{"gt above", OpGT, 10, 15, true},
		{"gt equal", OpGT, 10, 10, false},
		{"gte equal", OpGTE, 10, 10, true},
		{"lt below", OpLT, 10, 5, true},
		{"lt equal", OpLT, 10, 10, false},
		{"lte equal", OpLTE, 10, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Condition{Type: Threshold, Operator: tt.op, Threshold: tt.threshold}
			assert.Equal(t, tt.want, c.Match(tt.value, "", 0))
		})
	}
}

func TestRangeMatch(t *testing.T) {
	inside := &Condition{Type: Range, ThresholdLow: 10, ThresholdHigh: 20, InRange: true}
	outside := &Condition{Type: Range, ThresholdLow: 10, ThresholdHigh: 20, InRange: false}

	assert.True(t, inside.Match(15, "", 0))
	assert.True(t, inside.Match(10, "", 0))
	assert.True(t, inside.Match(20, "", 0))
	assert.False(t, inside.Match(25, "", 0))

	assert.False(t, outside.Match(15, "", 0))
	assert.True(t, outside.Match(25, "", 0))
}

func TestCompareMatch(t *testing.T) {
	c := &Condition{Type: Compare, Operator: OpGT, Data2Multiplier: 2}
	assert.True(t, c.Match(100, "", 40))
	assert.False(t, c.Match(100, "", 60))
}

func TestAvailabilityMatch(t *testing.T) {
	c := &Condition{Type: Availability, AvailState: "DOWN"}
	assert.True(t, c.Match(0, "DOWN", 0))
	assert.True(t, c.Match(0, "down", 0))
	assert.False(t, c.Match(0, "UP", 0))
}

func TestStringMatch(t *testing.T) {
	tests := []struct {
		name       string
		op         StringOperator
		pattern    string
		ignoreCase bool
		text       string
		want       bool
	}{
		{"equal", StrEqual, "ERROR", false, "ERROR", true},
		{"equal case", StrEqual, "ERROR", false, "error", false},
		{"equal ignore case", StrEqual, "ERROR", true, "error", true},
		{"not equal", StrNotEqual, "ok", false, "fail", true},
		{"contains", StrContains, "time", false, "timeout waiting", true},
		{"starts with", StrStartsWith, "java.lang", false, "java.lang.NPE", true},
		{"ends with", StrEndsWith, "Exception", false, "NullPointerException", true},
		{"ends with miss", StrEndsWith, "Exception", false, "panic", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Condition{Type: String, StringOperator: tt.op, Pattern: tt.pattern, IgnoreCase: tt.ignoreCase}
			assert.Equal(t, tt.want, c.Match(0, tt.text, 0))
		})
	}
}

func TestConditionID(t *testing.T) {
	c := &Condition{TenantID: "t1", TriggerID: "tr1", Mode: Firing, SetSize: 2, SetIndex: 1}
	assert.Equal(t, "t1-tr1-FIRING-2-1", c.ConditionID())
}
