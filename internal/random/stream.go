// Package random provides the splittable random stream used for noise
// injection.
//
// A Stream is an explicit state value: every noise draw splits the stream
// into a successor stream and a one-shot subkey. Call sites must store the
// successor before drawing again; the stream is never hidden behind a
// global. This is what makes SGLD trajectories exactly reproducible from a
// single integer seed, including across checkpoint restore.
package random

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// Key is a one-shot subkey. A key seeds exactly one noise tensor and is
// never reused.
type Key uint64

// Stream is the evolving generator state. Streams are values: Split does
// not mutate the receiver.
type Stream struct {
	state uint64
}

// goldenGamma is the SplitMix64 state increment. Addition by an odd
// constant is a bijection on uint64, so no two successor states collide.
const goldenGamma = 0x9E3779B97F4A7C15

// NewStream creates a stream from an externally supplied seed.
func NewStream(seed int64) Stream {
	return Stream{state: mix64(uint64(seed))}
}

// Split advances the stream and derives an independent subkey.
//
// The successor state sequence is a pure counter walk (bijective), and the
// subkey is the SplitMix64 finalizer of the new state (also bijective), so
// distinct stream states can never yield equal subkeys.
func (s Stream) Split() (Stream, Key) {
	next := s.state + goldenGamma
	return Stream{state: next}, Key(mix64(next))
}

// State returns the raw stream state for checkpointing.
func (s Stream) State() uint64 {
	return s.state
}

// FromState reconstructs a stream from a checkpointed state.
func FromState(state uint64) Stream {
	return Stream{state: state}
}

// Normal draws a tensor of independent standard-normal samples seeded by
// key. The same key always produces the same tensor.
func Normal(key Key, shape tensor.Shape) *tensor.Dense {
	dist := distuv.Normal{
		Mu:    0,
		Sigma: 1,
		Src:   rand.NewSource(uint64(key)),
	}
	out := tensor.New(shape)
	data := out.Data()
	for i := range data {
		data[i] = dist.Rand()
	}
	return out
}

// mix64 is the SplitMix64 finalizer (Stafford variant 13).
func mix64(z uint64) uint64 {
	z ^= z >> 30
	z *= 0xBF58476D1CE4E5B9
	z ^= z >> 27
	z *= 0x94D049BB133111EB
	z ^= z >> 31
	return z
}
