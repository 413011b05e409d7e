package optim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dptrain-ml/dptrain/internal/nn"
	"github.com/dptrain-ml/dptrain/internal/optim"
	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// recordingOptimizer captures the gradients it is handed.
type recordingOptimizer struct {
	vars    *nn.TrainableSet
	calls   [][]float64
	lastLR  float64
	observe func(grads []*tensor.Dense)
}

func (r *recordingOptimizer) Update(stepSize float64, grads []*tensor.Dense) error {
	r.lastLR = stepSize
	seen := make([]float64, 0)
	for _, g := range grads {
		seen = append(seen, append([]float64{}, g.Data()...)...)
	}
	r.calls = append(r.calls, seen)
	if r.observe != nil {
		r.observe(grads)
	}
	return nil
}

func (r *recordingOptimizer) Params() *nn.TrainableSet                     { return r.vars }
func (r *recordingOptimizer) StateDict() map[string]*tensor.Dense          { return nil }
func (r *recordingOptimizer) LoadStateDict(map[string]*tensor.Dense) error { return nil }

func TestNewAccumulator_RejectsNonPositiveSteps(t *testing.T) {
	vars := newVars(t, []float64{0})
	rec := &recordingOptimizer{vars: vars}
	_, err := optim.NewAccumulator(rec, 0)
	require.Error(t, err)
	_, err = optim.NewAccumulator(rec, -3)
	require.Error(t, err)
}

// Feeding k gradients one at a time with applyUpdates only on the last
// call must hand the wrapped optimizer exactly the mean gradient.
func TestAccumulator_MeanEquivalence(t *testing.T) {
	vars := newVars(t, []float64{0, 0})
	rec := &recordingOptimizer{vars: vars}
	acc, err := optim.NewAccumulator(rec, 4)
	require.NoError(t, err)

	inputs := [][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}}
	for i, in := range inputs {
		apply := i == len(inputs)-1
		require.NoError(t, acc.Update(0.5, gradsOf(t, in), apply))
		if !apply {
			assert.Empty(t, rec.calls, "wrapped optimizer must not run before apply")
		}
	}

	require.Len(t, rec.calls, 1)
	assert.Equal(t, []float64{4, 5}, rec.calls[0], "wrapped optimizer must see mean(g_1..g_k)")
	assert.Equal(t, 0.5, rec.lastLR)
}

func TestAccumulator_BuffersResetAfterApply(t *testing.T) {
	vars := newVars(t, []float64{0})
	rec := &recordingOptimizer{vars: vars}
	acc, err := optim.NewAccumulator(rec, 2)
	require.NoError(t, err)

	require.NoError(t, acc.Update(1, gradsOf(t, []float64{2}), false))
	require.NoError(t, acc.Update(1, gradsOf(t, []float64{4}), true))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []float64{3}, rec.calls[0])

	// Next cycle starts from zeroed buffers.
	require.NoError(t, acc.Update(1, gradsOf(t, []float64{10}), false))
	require.NoError(t, acc.Update(1, gradsOf(t, []float64{20}), true))
	require.Len(t, rec.calls, 2)
	assert.Equal(t, []float64{15}, rec.calls[1])
}

// The reset must happen only after the wrapped call returned, never before.
func TestAccumulator_ResetHappensAfterWrappedCall(t *testing.T) {
	vars := newVars(t, []float64{0})
	var seenDuringCall []float64
	rec := &recordingOptimizer{vars: vars}
	rec.observe = func(grads []*tensor.Dense) {
		seenDuringCall = append([]float64{}, grads[0].Data()...)
	}
	acc, err := optim.NewAccumulator(rec, 1)
	require.NoError(t, err)

	require.NoError(t, acc.Update(1, gradsOf(t, []float64{5}), true))
	assert.Equal(t, []float64{5}, seenDuringCall, "buffer must still hold the mean while the wrapped optimizer runs")
}

// End-to-end scenario: four microbatches of gradient 1 through a plain
// descent optimizer must move the parameter by stepSize exactly once.
func TestAccumulator_SingleEffectiveUpdate(t *testing.T) {
	vars := newVars(t, []float64{10})
	m := optim.NewMomentum(vars, optim.MomentumConfig{})
	acc, err := optim.NewAccumulator(m, 4)
	require.NoError(t, err)

	stepSize := 0.25
	for s := 1; s <= 4; s++ {
		apply := s%4 == 0
		require.NoError(t, acc.Update(stepSize, gradsOf(t, []float64{1}), apply))
	}
	assert.InDelta(t, 10-stepSize, vars.At(0).Value().Data()[0], 1e-12,
		"parameter must decrease by stepSize once, not four times")
}

func TestAccumulator_ContractViolation(t *testing.T) {
	vars := newVars(t, []float64{0})
	rec := &recordingOptimizer{vars: vars}
	acc, err := optim.NewAccumulator(rec, 2)
	require.NoError(t, err)

	err = acc.Update(1, gradsOf(t, []float64{1}, []float64{2}), false)
	require.ErrorIs(t, err, optim.ErrGradCount)
}
