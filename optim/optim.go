// Copyright 2026 The dptrain Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/dptrain-ml/dptrain/internal/nn"
	"github.com/dptrain-ml/dptrain/internal/optim"
)

// Optimizer is the common interface of every update rule.
type Optimizer = optim.Optimizer

// Config holds the cross-optimizer settings; Langevin optimizers need
// TrainSize and consume Seed.
type Config = optim.Config

// Kind names an optimizer selection.
type Kind = optim.Kind

// Optimizer kinds.
const (
	KindMomentum = optim.KindMomentum
	KindAdam     = optim.KindAdam
	KindSGLD     = optim.KindSGLD
	KindPSGLD    = optim.KindPSGLD
)

// Contract violations reported by Update.
var (
	ErrGradCount = optim.ErrGradCount
	ErrGradShape = optim.ErrGradShape
)

// ParseKind maps a configuration name to its Kind.
func ParseKind(name string) (Kind, error) {
	return optim.ParseKind(name)
}

// New builds the optimizer of the given kind bound to vars.
func New(kind Kind, vars *nn.TrainableSet, cfg Config) (Optimizer, error) {
	return optim.New(kind, vars, cfg)
}

// Momentum is SGD with Nesterov momentum.
type Momentum = optim.Momentum

// MomentumConfig contains configuration for the Momentum optimizer.
type MomentumConfig = optim.MomentumConfig

// NewMomentum creates a Momentum optimizer bound to vars.
func NewMomentum(vars *nn.TrainableSet, config MomentumConfig) *Momentum {
	return optim.NewMomentum(vars, config)
}

// Adam is the Adam optimizer with bias correction.
type Adam = optim.Adam

// AdamConfig contains configuration for the Adam optimizer.
type AdamConfig = optim.AdamConfig

// NewAdam creates an Adam optimizer bound to vars.
func NewAdam(vars *nn.TrainableSet, config AdamConfig) *Adam {
	return optim.NewAdam(vars, config)
}

// SGLD is Stochastic Gradient Langevin Dynamics.
type SGLD = optim.SGLD

// NewSGLD creates an SGLD optimizer; trainSize is the training-set size.
func NewSGLD(vars *nn.TrainableSet, trainSize int, seed int64) *SGLD {
	return optim.NewSGLD(vars, trainSize, seed)
}

// PSGLD is preconditioned SGLD.
type PSGLD = optim.PSGLD

// NewPSGLD creates a preconditioned SGLD optimizer.
func NewPSGLD(vars *nn.TrainableSet, trainSize int, seed int64) *PSGLD {
	return optim.NewPSGLD(vars, trainSize, seed)
}

// Accumulator wraps an optimizer with gradient accumulation.
type Accumulator = optim.Accumulator

// NewAccumulator wraps opt to accumulate accSteps gradients per applied
// update.
func NewAccumulator(opt Optimizer, accSteps int) (*Accumulator, error) {
	return optim.NewAccumulator(opt, accSteps)
}
