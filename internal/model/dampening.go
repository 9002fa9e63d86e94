package model

import (
	"fmt"
	"time"
)

// DampeningType selects the debounce policy applied to a trigger's
// condition set evaluations.
type DampeningType string

const (
	// Strict requires N consecutive true evaluations.
	Strict DampeningType = "STRICT"
	// RelaxedCount requires N true out of M total evaluations.
	RelaxedCount DampeningType = "RELAXED_COUNT"
	// RelaxedTime requires N true evaluations within a period.
	RelaxedTime DampeningType = "RELAXED_TIME"
	// StrictTime requires only true evaluations for at least a period.
	StrictTime DampeningType = "STRICT_TIME"
	// StrictTimeout fires after a period of only true evaluations, on a
	// timer rather than on a reported datum.
	StrictTimeout DampeningType = "STRICT_TIMEOUT"
)

// Dampening is the per-trigger-per-mode debounce state. The settings are
// immutable definition attributes; the counters are mutated in place during
// streaming evaluation.
type Dampening struct {
	TenantID  string `json:"tenant_id"`
	TriggerID string `json:"trigger_id"`
	Mode      Mode   `json:"mode"`

	Type DampeningType `json:"type"`

	// Required true evaluations for STRICT, RELAXED_COUNT, RELAXED_TIME
	EvalTrueSetting int `json:"eval_true_setting"`

	// Allowed evaluation attempts for RELAXED_COUNT
	EvalTotalSetting int `json:"eval_total_setting"`

	// Period in milliseconds for the time-based types
	EvalTimeSetting int64 `json:"eval_time_setting"`

	// Running evaluation state
	NumTrueEvals       int   `json:"-"`
	NumEvals           int   `json:"-"`
	TrueEvalsStartTime int64 `json:"-"`
	Satisfied          bool  `json:"-"`

	// Most recent eval per condition set index
	currentEvals map[int]ConditionEval

	// Eval sets accumulated while trending toward satisfaction
	satisfyingEvals []EvalSet
}

// DefaultDampening is the implicit STRICT(1) policy used when a trigger
// defines no dampening for a mode.
func DefaultDampening(tenantID, triggerID string, mode Mode) *Dampening {
	return &Dampening{
		TenantID:        tenantID,
		TriggerID:       triggerID,
		Mode:            mode,
		Type:            Strict,
		EvalTrueSetting: 1,
	}
}

// ForStrict builds an N-consecutive-true policy.
func ForStrict(tenantID, triggerID string, mode Mode, numTrue int) *Dampening {
	return &Dampening{
		TenantID:        tenantID,
		TriggerID:       triggerID,
		Mode:            mode,
		Type:            Strict,
		EvalTrueSetting: numTrue,
	}
}

// ForRelaxedCount builds an N-true-of-M policy.
func ForRelaxedCount(tenantID, triggerID string, mode Mode, numTrue, numTotal int) *Dampening {
	return &Dampening{
		TenantID:         tenantID,
		TriggerID:        triggerID,
		Mode:             mode,
		Type:             RelaxedCount,
		EvalTrueSetting:  numTrue,
		EvalTotalSetting: numTotal,
	}
}

// ForRelaxedTime builds an N-true-within-period policy.
func ForRelaxedTime(tenantID, triggerID string, mode Mode, numTrue int, period int64) *Dampening {
	return &Dampening{
		TenantID:        tenantID,
		TriggerID:       triggerID,
		Mode:            mode,
		Type:            RelaxedTime,
		EvalTrueSetting: numTrue,
		EvalTimeSetting: period,
	}
}

// ForStrictTime builds an only-true-for-period policy.
func ForStrictTime(tenantID, triggerID string, mode Mode, period int64) *Dampening {
	return &Dampening{
		TenantID:        tenantID,
		TriggerID:       triggerID,
		Mode:            mode,
		Type:            StrictTime,
		EvalTimeSetting: period,
	}
}

// ForStrictTimeout builds a timer-confirmed only-true-for-period policy.
func ForStrictTimeout(tenantID, triggerID string, mode Mode, period int64) *Dampening {
	return &Dampening{
		TenantID:        tenantID,
		TriggerID:       triggerID,
		Mode:            mode,
		Type:            StrictTimeout,
		EvalTimeSetting: period,
	}
}

// DampeningID is the unique key (tenantId, triggerId, mode).
func (d *Dampening) DampeningID() string {
	return fmt.Sprintf("%s-%s-%s", d.TenantID, d.TriggerID, d.Mode)
}

// Perform feeds one condition set evaluation into the dampening state,
// combining member results per the trigger's match setting. Counters and
// the Satisfied flag are updated in place.
func (d *Dampening) Perform(match Match, evalSet EvalSet) {
	if d.currentEvals == nil {
		d.currentEvals = make(map[int]ConditionEval)
	}
	for _, eval := range evalSet {
		d.currentEvals[eval.SetIndex] = eval
	}

	setSize := evalSet[0].SetSize
	trueEval := false
	switch match {
	case MatchAll:
		// No set eval until every member has reported at least once
		if len(d.currentEvals) < setSize {
			return
		}
		trueEval = true
		for _, eval := range d.currentEvals {
			if !eval.Match {
				trueEval = false
				break
			}
		}
	case MatchAny:
		for _, eval := range d.currentEvals {
			if eval.Match {
				trueEval = true
				break
			}
		}
	}

	now := time.Now().UnixMilli()

	// A RELAXED_TIME window that expired starts over
	if d.Type == RelaxedTime && d.TrueEvalsStartTime != 0 &&
		now-d.TrueEvalsStartTime > d.EvalTimeSetting {
		d.Reset()
	}

	d.NumEvals++
	if trueEval {
		d.NumTrueEvals++
		d.addSatisfyingEvals()

		switch d.Type {
		case Strict, RelaxedCount:
			if d.NumTrueEvals == d.EvalTrueSetting {
				d.Satisfied = true
			}
		case RelaxedTime:
			if d.TrueEvalsStartTime == 0 {
				d.TrueEvalsStartTime = now
			}
			if d.NumTrueEvals == d.EvalTrueSetting && now-d.TrueEvalsStartTime < d.EvalTimeSetting {
				d.Satisfied = true
			}
		case StrictTime, StrictTimeout:
			if d.TrueEvalsStartTime == 0 {
				d.TrueEvalsStartTime = now
			} else if now-d.TrueEvalsStartTime >= d.EvalTimeSetting {
				d.Satisfied = true
			}
		}
		return
	}

	switch d.Type {
	case Strict, StrictTime, StrictTimeout:
		d.Reset()
	case RelaxedCount:
		numNeeded := d.EvalTrueSetting - d.NumTrueEvals
		chancesLeft := d.EvalTotalSetting - d.NumEvals
		if numNeeded > chancesLeft {
			d.Reset()
		}
	case RelaxedTime:
	}
}

func (d *Dampening) addSatisfyingEvals() {
	set := make(EvalSet, 0, len(d.currentEvals))
	for _, eval := range d.currentEvals {
		set = append(set, eval)
	}
	d.satisfyingEvals = append(d.satisfyingEvals, set)
}

// SatisfyingEvals returns the eval sets accumulated while trending toward
// satisfaction.
func (d *Dampening) SatisfyingEvals() []EvalSet {
	return d.satisfyingEvals
}

// Reset clears all running evaluation state.
func (d *Dampening) Reset() {
	d.NumTrueEvals = 0
	d.NumEvals = 0
	d.TrueEvalsStartTime = 0
	d.Satisfied = false
	d.currentEvals = nil
	d.satisfyingEvals = nil
}
