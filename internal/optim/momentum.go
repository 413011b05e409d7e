package optim

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/nn"
	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// Momentum implements SGD with momentum.
//
// Update rule:
//
//	velocity = momentum * velocity + gradient
//	param   -= stepSize * velocity            (classic)
//	param   -= stepSize * (momentum * velocity + gradient)  (nesterov)
//
// With Momentum set to zero this degrades to plain gradient descent.
type Momentum struct {
	vars       *nn.TrainableSet
	momentum   float64
	nesterov   bool
	velocities []*tensor.Dense
}

// MomentumConfig holds configuration for the Momentum optimizer.
type MomentumConfig struct {
	Momentum float64 // Momentum factor, range [0, 1).
	Nesterov bool    // Use nesterov momentum.
}

// NewMomentum creates a Momentum optimizer bound to vars.
func NewMomentum(vars *nn.TrainableSet, config MomentumConfig) *Momentum {
	velocities := make([]*tensor.Dense, vars.Len())
	for i, p := range vars.Params() {
		velocities[i] = tensor.ZerosLike(p.Value())
	}
	return &Momentum{
		vars:       vars,
		momentum:   config.Momentum,
		nesterov:   config.Nesterov,
		velocities: velocities,
	}
}

// Update applies one momentum step.
func (m *Momentum) Update(stepSize float64, grads []*tensor.Dense) error {
	if err := checkGrads(m.vars, grads); err != nil {
		return err
	}
	for i, g := range grads {
		p := m.vars.At(i).Value()
		v := m.velocities[i]

		// velocity = momentum * velocity + grad
		v.Scale(m.momentum)
		v.Add(g)

		if m.nesterov {
			p.AddScaled(-stepSize*m.momentum, v)
			p.AddScaled(-stepSize, g)
		} else {
			p.AddScaled(-stepSize, v)
		}
	}
	return nil
}

// Params returns the bound trainable set.
func (m *Momentum) Params() *nn.TrainableSet {
	return m.vars
}

// StateDict exports the velocity buffers.
func (m *Momentum) StateDict() map[string]*tensor.Dense {
	state := make(map[string]*tensor.Dense, len(m.velocities))
	for i, v := range m.velocities {
		state[fmt.Sprintf("velocity.%d", i)] = v
	}
	return state
}

// LoadStateDict restores velocity buffers saved by StateDict.
func (m *Momentum) LoadStateDict(state map[string]*tensor.Dense) error {
	for i, v := range m.velocities {
		key := fmt.Sprintf("velocity.%d", i)
		saved, ok := state[key]
		if !ok {
			continue
		}
		if !saved.Shape().Equal(v.Shape()) {
			return errors.Errorf("velocity shape mismatch for parameter %d: expected %v, got %v",
				i, v.Shape(), saved.Shape())
		}
		v.CopyFrom(saved)
	}
	return nil
}
