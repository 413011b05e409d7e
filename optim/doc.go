// Copyright 2026 The dptrain Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the update rules used by the training engine.
//
// # Overview
//
// This package contains:
//   - Momentum: SGD with Nesterov momentum
//   - Adam: Adaptive Moment Estimation with bias correction
//   - SGLD: Stochastic Gradient Langevin Dynamics
//   - PSGLD: preconditioned SGLD with an RMSProp-style preconditioner
//   - Accumulator: gradient accumulation wrapper for virtual large batches
//
// # Basic Usage
//
//	vars := model.Vars()
//	opt, err := optim.New(optim.KindMomentum, vars, optim.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Training loop
//	for step := 1; step <= totalSteps; step++ {
//	    grads, _, err := model.Gradients(images, labels)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := opt.Update(learningRate, grads); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Gradient Accumulation
//
// Wrapping an optimizer in an Accumulator simulates a batch k times
// larger than what one step can hold:
//
//	acc, err := optim.NewAccumulator(opt, 4)
//	...
//	err = acc.Update(lr, grads, step%4 == 0)
//
// The Langevin optimizers (SGLD, PSGLD) draw calibrated Gaussian noise
// from a splittable stream seeded via Config.Seed and need the total
// training-set size in Config.TrainSize.
package optim
