package train

import "math"

// Counters derives update progress from the 1-based virtual step counter.
//
// A virtual step is one microbatch processed; an update step is a virtual
// step whose accumulated gradients are actually applied. The fractional
// epoch of a microbatch is dated by the update boundary it lands on after
// accumulation completes, so the learning rate is stable across the
// microbatches of one accumulated update.
type Counters struct {
	AccSteps      int
	StepsPerEpoch float64 // Virtual steps per epoch (may be fractional).
	TotalEpochs   float64
}

// ApplyUpdates reports whether virtual step s (1-based) triggers an
// applied update.
func (c Counters) ApplyUpdates(s int) bool {
	return s%c.AccSteps == 0
}

// AppliedUpdates returns the count of applied updates after virtual step
// s.
func (c Counters) AppliedUpdates(s int) int {
	return s / c.AccSteps
}

// NextUpdateBoundary returns the virtual step at which the accumulation
// window containing s applies, i.e. s rounded up to a multiple of the
// accumulation factor.
func (c Counters) NextUpdateBoundary(s int) int {
	return (s + c.AccSteps - 1) / c.AccSteps * c.AccSteps
}

// Epoch returns the fractional epoch for virtual step s, clamped to the
// total epoch budget. It is monotonically non-decreasing in s.
func (c Counters) Epoch(s int) float64 {
	epoch := float64(c.NextUpdateBoundary(s)) / c.StepsPerEpoch
	return math.Min(epoch, c.TotalEpochs)
}
