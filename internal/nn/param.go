// Package nn holds the trainable-parameter model the optimizers operate on,
// the logit clip functions, and the linear softmax classifier used as the
// engine's gradient-producing model.
package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// Param is a named trainable tensor.
//
// The tensor identity is fixed for the run; its value is mutated only by an
// optimizer's update step.
type Param struct {
	name  string
	value *tensor.Dense
}

// NewParam creates a named parameter around an initialized tensor.
func NewParam(name string, value *tensor.Dense) *Param {
	return &Param{name: name, value: value}
}

// Name returns the parameter name (e.g. "linear.w").
func (p *Param) Name() string {
	return p.name
}

// Value returns the parameter tensor.
func (p *Param) Value() *tensor.Dense {
	return p.value
}

// TrainableSet is an ordered, duplicate-free sequence of parameters.
//
// The index order is the single alignment contract shared by gradient
// lists, accumulator buffers, and optimizer state. It is established once
// at model construction and never re-derived.
type TrainableSet struct {
	params []*Param
	index  map[string]int
}

// NewTrainableSet creates an empty set.
func NewTrainableSet() *TrainableSet {
	return &TrainableSet{index: make(map[string]int)}
}

// Add appends a parameter. Duplicate names are rejected: two entries with
// the same name would silently corrupt gradient alignment downstream.
func (s *TrainableSet) Add(p *Param) error {
	if _, ok := s.index[p.name]; ok {
		return errors.Errorf("duplicate parameter name %q", p.name)
	}
	s.index[p.name] = len(s.params)
	s.params = append(s.params, p)
	return nil
}

// Len returns the number of parameters.
func (s *TrainableSet) Len() int {
	return len(s.params)
}

// At returns the i-th parameter.
func (s *TrainableSet) At(i int) *Param {
	return s.params[i]
}

// Params returns the ordered parameter slice. Callers must not reorder it.
func (s *TrainableSet) Params() []*Param {
	return s.params
}

// Names returns the parameter names in set order.
func (s *TrainableSet) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.name
	}
	return names
}

// Subset returns a set holding the parameters from index from onward,
// preserving order. Used to freeze a prefix of layers for finetuning.
func (s *TrainableSet) Subset(from int) *TrainableSet {
	out := NewTrainableSet()
	for _, p := range s.params[from:] {
		// Names are already unique in the parent set.
		_ = out.Add(p)
	}
	return out
}

// L2Norm returns the Euclidean norm over all parameter values.
func (s *TrainableSet) L2Norm() float64 {
	var sum float64
	for _, p := range s.params {
		sum += p.value.SumSquares()
	}
	return math.Sqrt(sum)
}
