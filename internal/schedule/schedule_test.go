package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UnknownName(t *testing.T) {
	_, err := New("linear", 1.0, 1, 10)
	require.Error(t, err, "unsupported schedule must fail at construction")
}

func TestNew_InvalidRanges(t *testing.T) {
	_, err := New("cos", 1.0, 0, 0)
	require.Error(t, err)
	_, err = New("cos", 1.0, 10, 10)
	require.Error(t, err)
	_, err = New("cos", 1.0, -1, 10)
	require.Error(t, err)
}

func TestRate_WarmupBoundaryContinuity(t *testing.T) {
	for _, name := range []string{"cos", "fixed"} {
		s, err := New(name, 2.0, 1, 10)
		require.NoError(t, err)

		assert.Equal(t, 0.0, s.Rate(0), "%s: rate(0)", name)
		assert.Equal(t, 2.0, s.Rate(1), "%s: rate at warmup boundary must equal base rate exactly", name)
		assert.InDelta(t, 1.0, s.Rate(0.5), 1e-12, "%s: linear warmup midpoint", name)
	}
}

func TestRate_CosDecaysToZero(t *testing.T) {
	s, err := New("cos", 2.0, 1, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s.Rate(10), 1e-12)

	// Midway through decay: half the base rate.
	assert.InDelta(t, 1.0, s.Rate(5.5), 1e-12)
}

func TestRate_FixedHoldsAfterWarmup(t *testing.T) {
	s, err := New("fixed", 0.5, 2, 10)
	require.NoError(t, err)
	for _, e := range []float64{2, 3, 7.25, 10} {
		assert.Equal(t, 0.5, s.Rate(e), "epoch %v", e)
	}
}

func TestRate_ClampsPastTotalEpochs(t *testing.T) {
	for _, name := range []string{"cos", "fixed"} {
		s, err := New(name, 1.0, 1, 10)
		require.NoError(t, err)
		for _, e := range []float64{10.1, 15, 1000} {
			assert.Equal(t, s.Rate(10), s.Rate(e), "%s: epoch %v must clamp", name, e)
		}
	}
}

func TestRate_Monotonicity(t *testing.T) {
	// Warmup is non-decreasing; cos decay is non-increasing.
	s, err := New("cos", 1.0, 2, 10)
	require.NoError(t, err)

	prev := s.Rate(0)
	for e := 0.1; e <= 2.0; e += 0.1 {
		cur := s.Rate(e)
		assert.GreaterOrEqual(t, cur, prev, "warmup at %v", e)
		prev = cur
	}
	prev = s.Rate(2)
	for e := 2.1; e <= 10.0; e += 0.1 {
		cur := s.Rate(e)
		assert.LessOrEqual(t, cur, prev, "decay at %v", e)
		prev = cur
	}
}
