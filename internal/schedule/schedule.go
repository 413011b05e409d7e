// Package schedule maps fractional epochs to learning rates.
package schedule

import (
	"math"

	"github.com/pkg/errors"
)

// Schedule is a pure function from fractional epoch to learning rate.
//
// Both supported shapes warm up linearly from 0 to the base rate over the
// warmup epochs. "cos" then decays with a half cosine to 0 at the final
// epoch; "fixed" stays at the base rate. Inputs past the final epoch are
// clamped, so the rate is defined for every non-negative epoch.
type Schedule struct {
	name         string
	baseRate     float64
	warmupEpochs float64
	totalEpochs  float64
}

// New constructs a schedule. Unknown names fail here, not at first use.
func New(name string, baseRate, warmupEpochs, totalEpochs float64) (*Schedule, error) {
	switch name {
	case "cos", "fixed":
	default:
		return nil, errors.Errorf("unsupported LR schedule: %q", name)
	}
	if totalEpochs <= 0 {
		return nil, errors.Errorf("total epochs must be positive, got %v", totalEpochs)
	}
	if warmupEpochs < 0 || warmupEpochs >= totalEpochs {
		return nil, errors.Errorf("warmup epochs %v out of range [0, %v)", warmupEpochs, totalEpochs)
	}
	return &Schedule{
		name:         name,
		baseRate:     baseRate,
		warmupEpochs: warmupEpochs,
		totalEpochs:  totalEpochs,
	}, nil
}

// Rate returns the learning rate for the given fractional epoch.
func (s *Schedule) Rate(epoch float64) float64 {
	epoch = math.Min(math.Max(epoch, 0), s.totalEpochs)

	if epoch < s.warmupEpochs {
		return s.baseRate * epoch / s.warmupEpochs
	}
	if s.name == "fixed" {
		return s.baseRate
	}
	decayEpochs := s.totalEpochs - s.warmupEpochs
	return s.baseRate * 0.5 * (1 + math.Cos(math.Pi*(epoch-s.warmupEpochs)/decayEpochs))
}

// Name returns the schedule shape name.
func (s *Schedule) Name() string {
	return s.name
}

// BaseRate returns the peak learning rate.
func (s *Schedule) BaseRate() float64 {
	return s.baseRate
}
