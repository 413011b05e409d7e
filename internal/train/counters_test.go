package train

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters_ApplyUpdates(t *testing.T) {
	c := Counters{AccSteps: 3, StepsPerEpoch: 10, TotalEpochs: 2}

	got := make([]bool, 0, 6)
	for s := 1; s <= 6; s++ {
		got = append(got, c.ApplyUpdates(s))
	}
	assert.Equal(t, []bool{false, false, true, false, false, true}, got)
}

func TestCounters_NoAccumulationAppliesEveryStep(t *testing.T) {
	c := Counters{AccSteps: 1, StepsPerEpoch: 10, TotalEpochs: 2}
	for s := 1; s <= 5; s++ {
		assert.True(t, c.ApplyUpdates(s))
		assert.Equal(t, s, c.AppliedUpdates(s))
	}
}

func TestCounters_AppliedUpdates(t *testing.T) {
	c := Counters{AccSteps: 4, StepsPerEpoch: 10, TotalEpochs: 2}
	assert.Equal(t, 0, c.AppliedUpdates(3))
	assert.Equal(t, 1, c.AppliedUpdates(4))
	assert.Equal(t, 1, c.AppliedUpdates(7))
	assert.Equal(t, 2, c.AppliedUpdates(8))
}

func TestCounters_EpochDatedByUpdateBoundary(t *testing.T) {
	c := Counters{AccSteps: 4, StepsPerEpoch: 8, TotalEpochs: 10}

	// Every microbatch of one accumulation window shares the epoch of
	// the window's update boundary, so the learning rate is stable
	// across the window.
	for s := 1; s <= 4; s++ {
		assert.Equal(t, 0.5, c.Epoch(s), "step %d", s)
	}
	for s := 5; s <= 8; s++ {
		assert.Equal(t, 1.0, c.Epoch(s), "step %d", s)
	}
}

func TestCounters_EpochMonotoneAndClamped(t *testing.T) {
	c := Counters{AccSteps: 2, StepsPerEpoch: 3, TotalEpochs: 2}

	prev := 0.0
	for s := 1; s <= 20; s++ {
		e := c.Epoch(s)
		assert.GreaterOrEqual(t, e, prev, "epoch must not decrease at step %d", s)
		assert.LessOrEqual(t, e, 2.0, "epoch must clamp to the budget at step %d", s)
		prev = e
	}
	assert.Equal(t, 2.0, c.Epoch(20))
}
