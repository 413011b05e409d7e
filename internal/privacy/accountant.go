// Package privacy computes the differential-privacy budget spent by
// training.
//
// The engine treats accounting as a pure function of the accounting
// parameters: sampling ratio q, noise multiplier sigma, number of applied
// updates, and target delta. The shipped accountant uses the Renyi
// differential privacy (RDP) analysis of the subsampled Gaussian mechanism
// with conversion to (epsilon, delta).
package privacy

import (
	"math"

	"github.com/pkg/errors"
)

// Accountant converts accounting parameters into an epsilon budget.
type Accountant interface {
	// Epsilon returns the privacy budget spent after steps applied
	// updates with Poisson sampling ratio q and Gaussian noise
	// multiplier sigma, at target delta.
	Epsilon(q, sigma float64, steps int, delta float64) (float64, error)
}

// RDPAccountant accounts with Renyi differential privacy over a fixed grid
// of orders.
//
// Per-step RDP of the subsampled Gaussian at order alpha is bounded by
// min(alpha/(2*sigma^2), 2*q^2*alpha/sigma^2): the first term is the plain
// Gaussian mechanism, the second the small-q subsampling amplification
// bound. RDP composes additively over steps; the conversion to (eps,
// delta) takes the best order on the grid:
//
//	eps = min_alpha steps*rho(alpha) + log(1/delta)/(alpha-1)
type RDPAccountant struct {
	orders []float64
}

// NewRDPAccountant creates an accountant with the default order grid
// (1.25 .. 512, the range used by DP-SGD analyses).
func NewRDPAccountant() *RDPAccountant {
	orders := []float64{1.25, 1.5, 1.75, 2, 2.5, 3, 4, 5, 6, 8, 10, 12, 16, 20, 24, 32, 48, 64, 96, 128, 256, 512}
	return &RDPAccountant{orders: orders}
}

// Epsilon implements Accountant.
func (a *RDPAccountant) Epsilon(q, sigma float64, steps int, delta float64) (float64, error) {
	switch {
	case q <= 0 || q > 1:
		return 0, errors.Errorf("sampling ratio must be in (0, 1], got %v", q)
	case sigma <= 0:
		return 0, errors.Errorf("noise multiplier must be positive, got %v", sigma)
	case steps < 0:
		return 0, errors.Errorf("steps must be non-negative, got %d", steps)
	case delta <= 0 || delta >= 1:
		return 0, errors.Errorf("delta must be in (0, 1), got %v", delta)
	}
	if steps == 0 {
		return 0, nil
	}

	eps := math.Inf(1)
	for _, alpha := range a.orders {
		if alpha <= 1 {
			continue
		}
		rho := stepRDP(q, sigma, alpha)
		candidate := float64(steps)*rho + math.Log(1/delta)/(alpha-1)
		if candidate < eps {
			eps = candidate
		}
	}
	return eps, nil
}

// stepRDP bounds the per-step RDP of the subsampled Gaussian at order
// alpha.
func stepRDP(q, sigma, alpha float64) float64 {
	gaussian := alpha / (2 * sigma * sigma)
	if q == 1 {
		return gaussian
	}
	amplified := 2 * q * q * alpha / (sigma * sigma)
	return math.Min(gaussian, amplified)
}

// EffectiveNoiseMultiplier is the noise multiplier the accountant sees
// when per-replica noise is averaged across replicas and accumulation
// steps: averaging k independent draws scales the effective sigma by
// sqrt(k).
func EffectiveNoiseMultiplier(sigma float64, replicas, accSteps int) float64 {
	return sigma * math.Sqrt(float64(replicas*accSteps))
}

// SamplingRatio is the Poisson sampling ratio of one applied update: the
// effective batch (all replicas, all accumulation steps) over the
// training-set size.
func SamplingRatio(totalBatchSize, accSteps, numExamples int) float64 {
	return float64(totalBatchSize*accSteps) / float64(numExamples)
}
