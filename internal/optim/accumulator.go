package optim

import (
	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/nn"
	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// Accumulator buffers scaled gradients across virtual steps and invokes the
// wrapped optimizer once per applied update. It is how a large effective
// batch is simulated on limited per-device memory without changing update
// semantics.
//
// Every Update call adds scaler*grads[i] into buffer i; with scaler set to
// 1/accSteps, after accSteps calls the buffers hold exactly the mean of the
// per-step gradients. When applyUpdates is true the wrapped optimizer runs
// on the buffer values, and the buffers are reset to zero only after that
// call returns.
type Accumulator struct {
	opt     Optimizer
	scaler  float64
	buffers []*tensor.Dense
}

// NewAccumulator wraps opt with gradient accumulation over accSteps virtual
// steps. accSteps must be at least 1; callers should bypass the wrapper
// entirely when accSteps is 1.
func NewAccumulator(opt Optimizer, accSteps int) (*Accumulator, error) {
	if accSteps < 1 {
		return nil, errors.Errorf("accumulation steps must be >= 1, got %d", accSteps)
	}
	vars := opt.Params()
	buffers := make([]*tensor.Dense, vars.Len())
	for i, p := range vars.Params() {
		buffers[i] = tensor.ZerosLike(p.Value())
	}
	return &Accumulator{
		opt:     opt,
		scaler:  1 / float64(accSteps),
		buffers: buffers,
	}, nil
}

// Update accumulates grads and, when applyUpdates is set, applies the
// buffered mean through the wrapped optimizer.
func (a *Accumulator) Update(stepSize float64, grads []*tensor.Dense, applyUpdates bool) error {
	if err := checkGrads(a.opt.Params(), grads); err != nil {
		return err
	}
	for i, g := range grads {
		a.buffers[i].AddScaled(a.scaler, g)
	}
	if !applyUpdates {
		return nil
	}
	if err := a.opt.Update(stepSize, a.buffers); err != nil {
		return err
	}
	// Reset only after the wrapped update returned: the optimizer reads the
	// buffers it was handed.
	for _, b := range a.buffers {
		b.Zero()
	}
	return nil
}

// Wrapped returns the wrapped optimizer.
func (a *Accumulator) Wrapped() Optimizer {
	return a.opt
}

// Params returns the wrapped optimizer's trainable set.
func (a *Accumulator) Params() *nn.TrainableSet {
	return a.opt.Params()
}
