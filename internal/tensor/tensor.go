// Package tensor provides dense float64 tensors for the training engine.
//
// Tensors are a shape plus a flat backing slice. All arithmetic the
// optimizers and the replica reduction need is expressed as in-place
// operations over the backing slice, implemented with gonum's floats
// package so the hot loops stay vectorizable.
package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Dense is a dense float64 tensor.
//
// The backing slice is exposed through Data for collaborators that need
// element access (samplers, serializers). Mutating the slice mutates the
// tensor.
type Dense struct {
	shape Shape
	data  []float64
}

// New creates a zero-filled tensor with the given shape.
func New(shape Shape) *Dense {
	return &Dense{
		shape: shape.Clone(),
		data:  make([]float64, shape.NumElements()),
	}
}

// FromSlice creates a tensor from a Go slice. The slice is copied.
func FromSlice(data []float64, shape Shape) (*Dense, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	t := New(shape)
	copy(t.data, data)
	return t, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape Shape) *Dense {
	return New(shape)
}

// ZerosLike creates a zero-filled tensor with the same shape as t.
func ZerosLike(t *Dense) *Dense {
	return New(t.shape)
}

// Full creates a tensor with every element set to value.
func Full(shape Shape, value float64) *Dense {
	t := New(shape)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// Shape returns the tensor's shape.
func (t *Dense) Shape() Shape {
	return t.shape
}

// Len returns the total number of elements.
func (t *Dense) Len() int {
	return len(t.data)
}

// Data returns the flat backing slice (zero-copy).
//
// WARNING: modifications to the returned slice modify the tensor.
func (t *Dense) Data() []float64 {
	return t.data
}

// Clone returns a deep copy of the tensor.
func (t *Dense) Clone() *Dense {
	out := New(t.shape)
	copy(out.data, t.data)
	return out
}

// CopyFrom overwrites the tensor's data with other's data.
// Panics if shapes differ, like floats panics on length mismatch.
func (t *Dense) CopyFrom(other *Dense) {
	mustSameShape(t, other)
	copy(t.data, other.data)
}

// Zero resets every element to zero.
func (t *Dense) Zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

// Scale multiplies every element by c in place.
func (t *Dense) Scale(c float64) {
	floats.Scale(c, t.data)
}

// Add adds other into t element-wise in place.
func (t *Dense) Add(other *Dense) {
	mustSameShape(t, other)
	floats.Add(t.data, other.data)
}

// Sub subtracts other from t element-wise in place.
func (t *Dense) Sub(other *Dense) {
	mustSameShape(t, other)
	floats.Sub(t.data, other.data)
}

// AddScaled adds c*other into t element-wise in place.
func (t *Dense) AddScaled(c float64, other *Dense) {
	mustSameShape(t, other)
	floats.AddScaled(t.data, c, other.data)
}

// L2Norm returns the Euclidean norm of the tensor.
func (t *Dense) L2Norm() float64 {
	return floats.Norm(t.data, 2)
}

// SumSquares returns the sum of squared elements.
func (t *Dense) SumSquares() float64 {
	return floats.Dot(t.data, t.data)
}

// IsFinite reports whether every element is finite.
func (t *Dense) IsFinite() bool {
	for _, v := range t.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func mustSameShape(a, b *Dense) {
	if !a.shape.Equal(b.shape) {
		panic(fmt.Sprintf("tensor shape mismatch: %v vs %v", a.shape, b.shape))
	}
}
