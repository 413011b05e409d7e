package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dptrain-ml/dptrain/internal/tensor"
)

func TestTrainableSet_OrderAndDuplicates(t *testing.T) {
	s := NewTrainableSet()
	require.NoError(t, s.Add(NewParam("a.w", tensor.Zeros(tensor.Shape{2}))))
	require.NoError(t, s.Add(NewParam("a.b", tensor.Zeros(tensor.Shape{2}))))
	require.NoError(t, s.Add(NewParam("b.w", tensor.Zeros(tensor.Shape{2}))))

	assert.Equal(t, []string{"a.w", "a.b", "b.w"}, s.Names())
	assert.Equal(t, 3, s.Len())

	err := s.Add(NewParam("a.w", tensor.Zeros(tensor.Shape{2})))
	require.Error(t, err, "duplicate names must be rejected")
}

func TestTrainableSet_Subset(t *testing.T) {
	s := NewTrainableSet()
	for _, name := range []string{"l0.w", "l1.w", "l2.w"} {
		require.NoError(t, s.Add(NewParam(name, tensor.Zeros(tensor.Shape{1}))))
	}

	frozen := s.Subset(1)
	assert.Equal(t, []string{"l1.w", "l2.w"}, frozen.Names())
	// Subset shares the underlying params, not copies.
	assert.Same(t, s.At(1), frozen.At(0))
}

func TestTrainableSet_L2Norm(t *testing.T) {
	s := NewTrainableSet()
	a, _ := tensor.FromSlice([]float64{3}, tensor.Shape{1})
	b, _ := tensor.FromSlice([]float64{4}, tensor.Shape{1})
	require.NoError(t, s.Add(NewParam("a", a)))
	require.NoError(t, s.Add(NewParam("b", b)))
	assert.InDelta(t, 5.0, s.L2Norm(), 1e-12)
}
