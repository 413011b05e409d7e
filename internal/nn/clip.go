package nn

import (
	"math"

	"github.com/pkg/errors"
)

// ClipFunc squashes logits before the cross-entropy loss. Bounded logits
// bound the per-example gradient norm, which tightens the effective DP
// clipping.
//
// Value applies the function; Deriv is its derivative, needed to chain the
// loss gradient back through the clip.
type ClipFunc struct {
	Name  string
	Value func(x float64) float64
	Deriv func(x float64) float64
}

// NewClipFunc returns the clip function for name: "none", "tanh",
// "sigmoid", or "blf". Unknown names fail at construction.
func NewClipFunc(name string) (ClipFunc, error) {
	switch name {
	case "none":
		return ClipFunc{
			Name:  name,
			Value: func(x float64) float64 { return x },
			Deriv: func(x float64) float64 { return 1 },
		}, nil
	case "tanh":
		return ClipFunc{
			Name:  name,
			Value: math.Tanh,
			Deriv: func(x float64) float64 {
				t := math.Tanh(x)
				return 1 - t*t
			},
		}, nil
	case "sigmoid":
		return ClipFunc{
			Name:  name,
			Value: func(x float64) float64 { return 2 * sigmoid(x) },
			Deriv: func(x float64) float64 {
				s := sigmoid(x)
				return 2 * s * (1 - s)
			},
		}, nil
	case "blf":
		// Bounded-logit function: 2*(x*s + s - x*s^2) - 1 with s = sigmoid(x).
		return ClipFunc{
			Name: name,
			Value: func(x float64) float64 {
				s := sigmoid(x)
				return 2*(x*s+s-x*s*s) - 1
			},
			Deriv: func(x float64) float64 {
				s := sigmoid(x)
				ds := s * (1 - s)
				return 2 * (s + x*ds + ds - s*s - 2*x*s*ds)
			},
		}, nil
	default:
		return ClipFunc{}, errors.Errorf("unknown logit clip function %q", name)
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
