// Copyright 2026 The dptrain Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package schedule provides learning-rate schedules over fractional
// epochs.
//
// # Overview
//
// Two shapes are supported, both with an optional linear warmup:
//   - "cos": half-cosine decay from the base rate to zero
//   - "fixed": constant at the base rate past warmup
//
// # Basic Usage
//
//	s, err := schedule.New("cos", 2.0, 1.0, 90)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	lr := s.Rate(epoch)
//
// Rate is a pure function of the epoch: it clamps negative epochs to
// zero and epochs past the total budget to the budget, and the warmup
// ramp meets the decay curve exactly at the warmup boundary.
package schedule
