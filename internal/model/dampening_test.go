package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eval(setSize, setIndex int, match bool) ConditionEval {
	return ConditionEval{
		ConditionID: "c",
		Type:        Threshold,
		DataID:      "cpu",
		SetSize:     setSize,
		SetIndex:    setIndex,
		Match:       match,
		Time:        time.Now().UnixMilli(),
	}
}

func TestDefaultDampeningSatisfiedImmediately(t *testing.T) {
	d := DefaultDampening("t1", "tr1", Firing)
	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	assert.True(t, d.Satisfied)
	assert.Len(t, d.SatisfyingEvals(), 1)
}

func TestStrictResetsOnFalseEval(t *testing.T) {
	d := ForStrict("t1", "tr1", Firing, 3)

	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	assert.False(t, d.Satisfied)
	assert.Equal(t, 2, d.NumTrueEvals)

	d.Perform(MatchAll, EvalSet{eval(1, 1, false)})
	assert.Zero(t, d.NumTrueEvals)
	assert.Empty(t, d.SatisfyingEvals())

	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	assert.True(t, d.Satisfied)
}

func TestRelaxedCountToleratesFalseEvals(t *testing.T) {
	d := ForRelaxedCount("t1", "tr1", Firing, 2, 4)

	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	d.Perform(MatchAll, EvalSet{eval(1, 1, false)})
	assert.False(t, d.Satisfied)

	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	assert.True(t, d.Satisfied)
}

func TestRelaxedCountResetsWhenUnreachable(t *testing.T) {
	d := ForRelaxedCount("t1", "tr1", Firing, 2, 3)

	d.Perform(MatchAll, EvalSet{eval(1, 1, false)})
	d.Perform(MatchAll, EvalSet{eval(1, 1, false)})
	// Two misses of three attempts, two trues can no longer happen
	assert.Zero(t, d.NumEvals)
	assert.False(t, d.Satisfied)
}

func TestRelaxedTimeWindowRestart(t *testing.T) {
	d := ForRelaxedTime("t1", "tr1", Firing, 2, 60_000)

	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	require.NotZero(t, d.TrueEvalsStartTime)

	// Backdate the window past its period; the next eval starts over
	d.TrueEvalsStartTime = time.Now().UnixMilli() - 120_000

	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	assert.False(t, d.Satisfied)
	assert.Equal(t, 1, d.NumTrueEvals)

	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	assert.True(t, d.Satisfied)
}

func TestStrictTimeNeedsElapsedPeriod(t *testing.T) {
	d := ForStrictTime("t1", "tr1", Firing, 50)

	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	assert.False(t, d.Satisfied)

	time.Sleep(80 * time.Millisecond)
	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	assert.True(t, d.Satisfied)
}

func TestMatchAllRequiresEveryMember(t *testing.T) {
	d := DefaultDampening("t1", "tr1", Firing)

	d.Perform(MatchAll, EvalSet{eval(2, 1, true)})
	assert.False(t, d.Satisfied)
	assert.Zero(t, d.NumEvals, "incomplete set is not an evaluation")

	d.Perform(MatchAll, EvalSet{eval(2, 2, true)})
	assert.True(t, d.Satisfied)
}

func TestMatchAnySatisfiedByOneMember(t *testing.T) {
	d := DefaultDampening("t1", "tr1", Firing)
	d.Perform(MatchAny, EvalSet{eval(2, 1, true)})
	assert.True(t, d.Satisfied)
}

func TestResetClearsState(t *testing.T) {
	d := ForStrict("t1", "tr1", Firing, 1)
	d.Perform(MatchAll, EvalSet{eval(1, 1, true)})
	require.True(t, d.Satisfied)

	d.Reset()
	assert.False(t, d.Satisfied)
	assert.Zero(t, d.NumTrueEvals)
	assert.Zero(t, d.NumEvals)
	assert.Empty(t, d.SatisfyingEvals())
}
