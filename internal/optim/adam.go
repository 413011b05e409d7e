package optim

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/nn"
	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient^2
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param -= stepSize * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014).
type Adam struct {
	vars  *nn.TrainableSet
	beta1 float64
	beta2 float64
	eps   float64
	t     int // Timestep for bias correction.
	m     []*tensor.Dense
	v     []*tensor.Dense
}

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	Betas [2]float64 // Moving-average coefficients (default: [0.9, 0.999]).
	Eps   float64    // Numerical stability term (default: 1e-8).
}

// NewAdam creates an Adam optimizer bound to vars, with default
// hyperparameters for any zero config field.
func NewAdam(vars *nn.TrainableSet, config AdamConfig) *Adam {
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	m := make([]*tensor.Dense, vars.Len())
	v := make([]*tensor.Dense, vars.Len())
	for i, p := range vars.Params() {
		m[i] = tensor.ZerosLike(p.Value())
		v[i] = tensor.ZerosLike(p.Value())
	}
	return &Adam{
		vars:  vars,
		beta1: config.Betas[0],
		beta2: config.Betas[1],
		eps:   config.Eps,
		m:     m,
		v:     v,
	}
}

// Update applies one Adam step.
func (a *Adam) Update(stepSize float64, grads []*tensor.Dense) error {
	if err := checkGrads(a.vars, grads); err != nil {
		return err
	}

	a.t++
	biasCorrection1 := 1 - math.Pow(a.beta1, float64(a.t))
	biasCorrection2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i, grad := range grads {
		paramData := a.vars.At(i).Value().Data()
		gradData := grad.Data()
		mData := a.m[i].Data()
		vData := a.v[i].Data()

		for j := range paramData {
			g := gradData[j]
			mData[j] = a.beta1*mData[j] + (1-a.beta1)*g
			vData[j] = a.beta2*vData[j] + (1-a.beta2)*g*g

			mHat := mData[j] / biasCorrection1
			vHat := vData[j] / biasCorrection2
			paramData[j] -= stepSize * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
	return nil
}

// Params returns the bound trainable set.
func (a *Adam) Params() *nn.TrainableSet {
	return a.vars
}

// StateDict exports both moment buffers and the timestep.
func (a *Adam) StateDict() map[string]*tensor.Dense {
	state := make(map[string]*tensor.Dense, 2*len(a.m)+1)
	for i := range a.m {
		state[fmt.Sprintf("m.%d", i)] = a.m[i]
		state[fmt.Sprintf("v.%d", i)] = a.v[i]
	}
	step, _ := tensor.FromSlice([]float64{float64(a.t)}, tensor.Shape{1})
	state["step"] = step
	return state
}

// LoadStateDict restores moment buffers and the timestep.
func (a *Adam) LoadStateDict(state map[string]*tensor.Dense) error {
	for i := range a.m {
		for prefix, dst := range map[string]*tensor.Dense{"m": a.m[i], "v": a.v[i]} {
			key := fmt.Sprintf("%s.%d", prefix, i)
			saved, ok := state[key]
			if !ok {
				continue
			}
			if !saved.Shape().Equal(dst.Shape()) {
				return errors.Errorf("%s shape mismatch for parameter %d: expected %v, got %v",
					key, i, dst.Shape(), saved.Shape())
			}
			dst.CopyFrom(saved)
		}
	}
	if step, ok := state["step"]; ok {
		a.t = int(step.Data()[0])
	}
	return nil
}
