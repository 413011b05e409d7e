package random

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dptrain-ml/dptrain/internal/tensor"
)

func TestSplitIsDeterministic(t *testing.T) {
	a := NewStream(42)
	b := NewStream(42)

	for i := 0; i < 10; i++ {
		var ka, kb Key
		a, ka = a.Split()
		b, kb = b.Split()
		assert.Equal(t, ka, kb, "split %d", i)
	}
}

func TestSplitDoesNotMutateReceiver(t *testing.T) {
	s := NewStream(1)
	_, k1 := s.Split()
	_, k2 := s.Split()
	assert.Equal(t, k1, k2, "Split must be a pure function of the stream value")
}

func TestSubkeysNeverCollide(t *testing.T) {
	s := NewStream(7)
	seen := make(map[Key]struct{}, 100000)
	for i := 0; i < 100000; i++ {
		var k Key
		s, k = s.Split()
		_, dup := seen[k]
		require.False(t, dup, "duplicate subkey after %d splits", i)
		seen[k] = struct{}{}
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := NewStream(1)
	b := NewStream(2)
	_, ka := a.Split()
	_, kb := b.Split()
	assert.NotEqual(t, ka, kb)
}

func TestNormalIsReproducible(t *testing.T) {
	s := NewStream(3)
	_, k := s.Split()

	n1 := Normal(k, tensor.Shape{4, 4})
	n2 := Normal(k, tensor.Shape{4, 4})
	assert.Equal(t, n1.Data(), n2.Data(), "same key must give bit-identical noise")
}

func TestNormalMoments(t *testing.T) {
	s := NewStream(9)
	_, k := s.Split()

	n := Normal(k, tensor.Shape{100000})
	var sum, sumSq float64
	for _, v := range n.Data() {
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n.Len())
	variance := sumSq/float64(n.Len()) - mean*mean
	assert.InDelta(t, 0.0, mean, 0.02)
	assert.InDelta(t, 1.0, variance, 0.02)
}

func TestStateRoundTrip(t *testing.T) {
	s := NewStream(11)
	s, _ = s.Split()
	s, _ = s.Split()

	restored := FromState(s.State())
	s1, k1 := s.Split()
	s2, k2 := restored.Split()
	assert.Equal(t, k1, k2)
	assert.Equal(t, s1.State(), s2.State())
}
