// Copyright 2026 The dptrain Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package schedule

import (
	"github.com/dptrain-ml/dptrain/internal/schedule"
)

// Schedule maps a fractional epoch to a learning rate.
type Schedule = schedule.Schedule

// New builds a schedule by name ("cos" or "fixed"). Construction fails
// on unknown names or invalid epoch ranges.
func New(name string, baseRate, warmupEpochs, totalEpochs float64) (*Schedule, error) {
	return schedule.New(name, baseRate, warmupEpochs, totalEpochs)
}
