package model

import (
	"fmt"
	"strings"
)

// ConditionType discriminates the condition variants. Persistence and wire
// formats treat the variant fields as an opaque payload keyed by this type.
type ConditionType string

const (
	Threshold    ConditionType = "THRESHOLD"
	Range        ConditionType = "RANGE"
	Compare      ConditionType = "COMPARE"
	Availability ConditionType = "AVAILABILITY"
	String       ConditionType = "STRING"
	EventCond    ConditionType = "EVENT"
)

// Operator for THRESHOLD and COMPARE conditions.
type Operator string

const (
	OpGT  Operator = "GT"
	OpGTE Operator = "GTE"
	OpLT  Operator = "LT"
	OpLTE Operator = "LTE"
)

// StringOperator for STRING conditions.
type StringOperator string

const (
	StrEqual      StringOperator = "EQUAL"
	StrNotEqual   StringOperator = "NOT_EQUAL"
	StrContains   StringOperator = "CONTAINS"
	StrStartsWith StringOperator = "STARTS_WITH"
	StrEndsWith   StringOperator = "ENDS_WITH"
)

// Condition is one member of a trigger's condition set for a given mode.
// The variant fields used depend on Type; unused fields are zero.
type Condition struct {
	TenantID  string `json:"tenant_id"`
	TriggerID string `json:"trigger_id"`
	Mode      Mode   `json:"mode"`

	// Size of the condition set this condition belongs to, and this
	// condition's 1-based index within it
	SetSize  int `json:"set_size"`
	SetIndex int `json:"set_index"`

	Type ConditionType `json:"type"`

	// DataID feeds every variant; COMPARE additionally reads Data2ID
	DataID  string `json:"data_id"`
	Data2ID string `json:"data2_id,omitempty"`

	// THRESHOLD / COMPARE
	Operator  Operator `json:"operator,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`

	// COMPARE: match when dataId.value OP data2Multiplier*data2Id.value
	Data2Multiplier float64 `json:"data2_multiplier,omitempty"`

	// RANGE: [ThresholdLow, ThresholdHigh], inclusive per flag, InRange
	// selects inside or outside match
	ThresholdLow  float64 `json:"threshold_low,omitempty"`
	ThresholdHigh float64 `json:"threshold_high,omitempty"`
	InRange       bool    `json:"in_range,omitempty"`

	// AVAILABILITY: match when reported state equals AvailState ("UP"/"DOWN")
	AvailState string `json:"avail_state,omitempty"`

	// STRING
	StringOperator StringOperator `json:"string_operator,omitempty"`
	Pattern        string         `json:"pattern,omitempty"`
	IgnoreCase     bool           `json:"ignore_case,omitempty"`
}

// ConditionID is the unique key (tenantId, triggerId, mode, setSize,
// setIndex) for a condition.
func (c *Condition) ConditionID() string {
	return fmt.Sprintf("%s-%s-%s-%d-%d", c.TenantID, c.TriggerID, c.Mode, c.SetSize, c.SetIndex)
}

// Match evaluates the condition against a numeric or textual value.
// COMPARE conditions are evaluated by the rules engine once both sides
// are present; value2 carries the second operand.
func (c *Condition) Match(value float64, text string, value2 float64) bool {
	switch c.Type {
	case Threshold:
		return compareOp(c.Operator, value, c.Threshold)
	case Range:
		inside := value >= c.ThresholdLow && value <= c.ThresholdHigh
		if c.InRange {
			return inside
		}
		return !inside
	case Compare:
		return compareOp(c.Operator, value, c.Data2Multiplier*value2)
	case Availability:
		return strings.EqualFold(text, c.AvailState)
	case String:
		return matchString(c.StringOperator, text, c.Pattern, c.IgnoreCase)
	case EventCond:
		// EVENT conditions match on presence; finer expression filtering
		// belongs to the excluded condition taxonomy.
		return true
	}
	return false
}

func compareOp(op Operator, left, right float64) bool {
	switch op {
	case OpGT:
		return left > right
	case OpGTE:
		return left >= right
	case OpLT:
		return left < right
	case OpLTE:
		return left <= right
	}
	return false
}

func matchString(op StringOperator, text, pattern string, ignoreCase bool) bool {
	if ignoreCase {
		text = strings.ToLower(text)
		pattern = strings.ToLower(pattern)
	}
	switch op {
	case StrEqual:
		return text == pattern
	case StrNotEqual:
		return text != pattern
	case StrContains:
		return strings.Contains(text, pattern)
	case StrStartsWith:
		return strings.HasPrefix(text, pattern)
	case StrEndsWith:
		return strings.HasSuffix(text, pattern)
	}
	return false
}

// ConditionEval records the outcome of evaluating one condition against one
// datum or event.
type ConditionEval struct {
	ConditionID string        `json:"condition_id"`
	Type        ConditionType `json:"type"`
	DataID      string        `json:"data_id"`
	SetSize     int           `json:"set_size"`
	SetIndex    int           `json:"set_index"`
	Match       bool          `json:"match"`
	Value       float64       `json:"value,omitempty"`
	Text        string        `json:"text,omitempty"`
	Time        int64         `json:"time"`
}

// EvalSet is the group of condition evaluations that together satisfied a
// condition set in one dampening step.
type EvalSet []ConditionEval
