package train

import (
	"math"

	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/random"
	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// GradFunc produces gradients aligned to a model's TrainableSet together
// with a loss breakdown. The engine treats it as opaque; DP clipping and
// noising, when enabled, happen inside the collaborator.
type GradFunc interface {
	Gradients(images [][]float64, labels []int) ([]*tensor.Dense, map[string]float64, error)
}

// PrivateGradFunc wraps a GradFunc with DP-SGD privatization: per-example
// gradients (microbatch of one) are clipped to a global L2 norm, summed,
// noised with calibrated Gaussian noise, and averaged.
type PrivateGradFunc struct {
	base     GradFunc
	sigma    float64
	clipNorm float64
	stream   random.Stream
}

// NewPrivateGradFunc creates the DP collaborator. sigma is the noise
// multiplier; noise stddev is sigma*clipNorm on the gradient sum.
func NewPrivateGradFunc(base GradFunc, sigma, clipNorm float64, seed int64) *PrivateGradFunc {
	return &PrivateGradFunc{
		base:     base,
		sigma:    sigma,
		clipNorm: clipNorm,
		stream:   random.NewStream(seed),
	}
}

// Gradients implements GradFunc.
func (p *PrivateGradFunc) Gradients(images [][]float64, labels []int) ([]*tensor.Dense, map[string]float64, error) {
	if len(images) == 0 {
		return nil, nil, errors.New("empty microbatch")
	}
	var sums []*tensor.Dense
	lossSums := make(map[string]float64)

	for n := range images {
		grads, losses, err := p.base.Gradients(images[n:n+1], labels[n:n+1])
		if err != nil {
			return nil, nil, err
		}
		if sums == nil {
			sums = make([]*tensor.Dense, len(grads))
			for i, g := range grads {
				sums[i] = tensor.ZerosLike(g)
			}
		}

		// Clip the example's global gradient norm to clipNorm.
		var sq float64
		for _, g := range grads {
			sq += g.SumSquares()
		}
		scale := 1.0
		if norm := math.Sqrt(sq); norm > p.clipNorm {
			scale = p.clipNorm / norm
		}
		for i, g := range grads {
			sums[i].AddScaled(scale, g)
		}
		for k, v := range losses {
			lossSums[k] += v
		}
	}

	// Noise the clipped sum, then average.
	batch := float64(len(images))
	noiseStd := p.sigma * p.clipNorm
	for _, s := range sums {
		var key random.Key
		p.stream, key = p.stream.Split()
		s.AddScaled(noiseStd, random.Normal(key, s.Shape()))
		s.Scale(1 / batch)
	}
	for k := range lossSums {
		lossSums[k] /= batch
	}
	return sums, lossSums, nil
}

// Stream returns the DP noise stream state for checkpointing.
func (p *PrivateGradFunc) Stream() random.Stream {
	return p.stream
}

// SetStream restores the DP noise stream.
func (p *PrivateGradFunc) SetStream(stream random.Stream) {
	p.stream = stream
}
