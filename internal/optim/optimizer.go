// Package optim implements the update rules of the training engine.
//
// This package provides:
//   - Optimizer interface: shared contract of all update rules
//   - Momentum: SGD with (optionally nesterov) momentum
//   - Adam: Adaptive Moment Estimation
//   - SGLD: Stochastic Gradient Langevin Dynamics
//   - PSGLD: preconditioned SGLD
//   - Accumulator: gradient accumulation across virtual steps
//
// Every optimizer is bound to a TrainableSet at construction. Gradients
// handed to Update must be index-aligned with that set; any count or shape
// mismatch is a contract violation and aborts the step.
package optim

import (
	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/nn"
	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// Contract errors.
var (
	ErrGradCount = errors.New("gradient count does not match trainable parameters")
	ErrGradShape = errors.New("gradient shape does not match parameter shape")
)

// Optimizer is the common contract of all update rules.
//
// Update mutates the bound parameters (and internal state) in place. The
// step size is supplied per call so a schedule can drive it; optimizers
// hold no learning rate of their own.
type Optimizer interface {
	// Update applies one optimization step. grads must be index-aligned
	// with Params().
	Update(stepSize float64, grads []*tensor.Dense) error

	// Params returns the bound trainable set.
	Params() *nn.TrainableSet

	// StateDict exports the optimizer's auxiliary tensors for
	// checkpointing. Keys are stable across a run.
	StateDict() map[string]*tensor.Dense

	// LoadStateDict restores auxiliary tensors saved by StateDict.
	LoadStateDict(state map[string]*tensor.Dense) error
}

// Kind identifies an update rule. It is parsed from configuration once;
// after construction all dispatch goes through the Optimizer interface.
type Kind int

const (
	KindMomentum Kind = iota
	KindAdam
	KindSGLD
	KindPSGLD
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMomentum:
		return "momentum"
	case KindAdam:
		return "adam"
	case KindSGLD:
		return "sgld"
	case KindPSGLD:
		return "psgld"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration string to a Kind. Unknown names fail
// here, before any training step runs.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "momentum":
		return KindMomentum, nil
	case "adam":
		return KindAdam, nil
	case "sgld":
		return KindSGLD, nil
	case "psgld":
		return KindPSGLD, nil
	default:
		return 0, errors.Errorf("unsupported optimizer: %q", name)
	}
}

// Config carries the construction inputs shared by the optimizer kinds.
type Config struct {
	// TrainSize is the total example count of the training set. SGLD and
	// PSGLD rescale the per-example mean gradient by it; other kinds
	// ignore it.
	TrainSize int

	// Seed seeds the noise stream of SGLD and PSGLD.
	Seed int64
}

// New constructs the optimizer for kind, bound to vars.
func New(kind Kind, vars *nn.TrainableSet, cfg Config) (Optimizer, error) {
	switch kind {
	case KindMomentum:
		return NewMomentum(vars, MomentumConfig{Momentum: 0.9, Nesterov: true}), nil
	case KindAdam:
		return NewAdam(vars, AdamConfig{}), nil
	case KindSGLD:
		if cfg.TrainSize < 1 {
			return nil, errors.Errorf("sgld requires a positive train size, got %d", cfg.TrainSize)
		}
		return NewSGLD(vars, cfg.TrainSize, cfg.Seed), nil
	case KindPSGLD:
		if cfg.TrainSize < 1 {
			return nil, errors.Errorf("psgld requires a positive train size, got %d", cfg.TrainSize)
		}
		return NewPSGLD(vars, cfg.TrainSize, cfg.Seed), nil
	default:
		return nil, errors.Errorf("unsupported optimizer kind: %d", kind)
	}
}

// checkGrads enforces the alignment contract between grads and vars.
func checkGrads(vars *nn.TrainableSet, grads []*tensor.Dense) error {
	if len(grads) != vars.Len() {
		return errors.Wrapf(ErrGradCount, "got %d gradients for %d parameters", len(grads), vars.Len())
	}
	for i, g := range grads {
		p := vars.At(i)
		if !g.Shape().Equal(p.Value().Shape()) {
			return errors.Wrapf(ErrGradShape, "parameter %q has shape %v, gradient has %v",
				p.Name(), p.Value().Shape(), g.Shape())
		}
	}
	return nil
}
