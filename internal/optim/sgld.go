package optim

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/nn"
	"github.com/dptrain-ml/dptrain/internal/random"
	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// SGLD implements Stochastic Gradient Langevin Dynamics.
//
// For each parameter p with gradient g and noise n ~ Normal(0, I):
//
//	p -= trainSize * stepSize * g + n * sqrt(2 * stepSize)
//
// The gradient arrives as a per-example mean, so multiplying by the total
// training-set size recovers the unnormalized log-likelihood scale the
// Langevin update expects. One stream split and one noise draw per
// parameter, in TrainableSet order.
type SGLD struct {
	vars      *nn.TrainableSet
	trainSize float64
	stream    random.Stream
}

// NewSGLD creates an SGLD optimizer bound to vars. trainSize is the total
// example count of the training set, fixed for the run.
func NewSGLD(vars *nn.TrainableSet, trainSize int, seed int64) *SGLD {
	return &SGLD{
		vars:      vars,
		trainSize: float64(trainSize),
		stream:    random.NewStream(seed),
	}
}

// Update applies one Langevin step.
func (s *SGLD) Update(stepSize float64, grads []*tensor.Dense) error {
	if err := checkGrads(s.vars, grads); err != nil {
		return err
	}
	noiseScale := math.Sqrt(2 * stepSize)
	for i, g := range grads {
		p := s.vars.At(i).Value()

		var key random.Key
		s.stream, key = s.stream.Split()
		noise := random.Normal(key, p.Shape())

		p.AddScaled(-s.trainSize*stepSize, g)
		p.AddScaled(-noiseScale, noise)
	}
	return nil
}

// Params returns the bound trainable set.
func (s *SGLD) Params() *nn.TrainableSet {
	return s.vars
}

// StateDict exports the noise stream state. SGLD keeps no per-parameter
// buffers.
func (s *SGLD) StateDict() map[string]*tensor.Dense {
	return map[string]*tensor.Dense{
		streamKey: streamTensor(s.stream),
	}
}

// LoadStateDict restores the noise stream saved by StateDict.
func (s *SGLD) LoadStateDict(state map[string]*tensor.Dense) error {
	if t, ok := state[streamKey]; ok {
		s.stream = streamFromTensor(t)
	}
	return nil
}

// Stream returns the current noise stream state.
func (s *SGLD) Stream() random.Stream {
	return s.stream
}

// SetStream restores the noise stream, e.g. from a checkpoint.
func (s *SGLD) SetStream(stream random.Stream) {
	s.stream = stream
}

// PSGLD implements preconditioned Stochastic Gradient Langevin Dynamics.
//
// It maintains a per-parameter moving average of squared gradients
//
//	m = alpha * m + (1 - alpha) * g^2
//
// and an element-wise preconditioner v = 1 / (sqrt(m) + lambda), then
// updates
//
//	p -= trainSize * v * stepSize * g + n * sqrt(2 * stepSize * v)
//
// The preconditioner adapts the per-parameter step the way adaptive
// gradient methods do, trading a little bias for reduced noise sensitivity
// on ill-conditioned parameters.
type PSGLD struct {
	vars      *nn.TrainableSet
	trainSize float64
	stream    random.Stream
	precond   []*tensor.Dense // Squared-gradient moving averages.
}

// Fixed PSGLD hyperparameters.
const (
	psgldAlpha  = 0.95
	psgldLambda = 1e-8
)

// NewPSGLD creates a preconditioned SGLD optimizer bound to vars. The
// moving averages start at zero, so the first step's preconditioner is
// 1/lambda for every element.
func NewPSGLD(vars *nn.TrainableSet, trainSize int, seed int64) *PSGLD {
	precond := make([]*tensor.Dense, vars.Len())
	for i, p := range vars.Params() {
		precond[i] = tensor.ZerosLike(p.Value())
	}
	return &PSGLD{
		vars:      vars,
		trainSize: float64(trainSize),
		stream:    random.NewStream(seed),
		precond:   precond,
	}
}

// Update applies one preconditioned Langevin step.
func (s *PSGLD) Update(stepSize float64, grads []*tensor.Dense) error {
	if err := checkGrads(s.vars, grads); err != nil {
		return err
	}
	for i, g := range grads {
		p := s.vars.At(i).Value()

		var key random.Key
		s.stream, key = s.stream.Split()
		noise := random.Normal(key, p.Shape())

		paramData := p.Data()
		gradData := g.Data()
		mData := s.precond[i].Data()
		noiseData := noise.Data()

		for j := range paramData {
			gj := gradData[j]
			mData[j] = psgldAlpha*mData[j] + (1-psgldAlpha)*gj*gj
			v := 1 / (math.Sqrt(mData[j]) + psgldLambda)
			paramData[j] -= s.trainSize*v*stepSize*gj + noiseData[j]*math.Sqrt(2*stepSize*v)
		}
	}
	return nil
}

// Params returns the bound trainable set.
func (s *PSGLD) Params() *nn.TrainableSet {
	return s.vars
}

// StateDict exports the squared-gradient moving averages and the noise
// stream state.
func (s *PSGLD) StateDict() map[string]*tensor.Dense {
	state := make(map[string]*tensor.Dense, len(s.precond)+1)
	for i, m := range s.precond {
		state[fmt.Sprintf("precond.%d", i)] = m
	}
	state[streamKey] = streamTensor(s.stream)
	return state
}

// LoadStateDict restores the moving averages and the noise stream saved
// by StateDict.
func (s *PSGLD) LoadStateDict(state map[string]*tensor.Dense) error {
	if t, ok := state[streamKey]; ok {
		s.stream = streamFromTensor(t)
	}
	for i, m := range s.precond {
		key := fmt.Sprintf("precond.%d", i)
		saved, ok := state[key]
		if !ok {
			continue
		}
		if !saved.Shape().Equal(m.Shape()) {
			return errors.Errorf("precond shape mismatch for parameter %d: expected %v, got %v",
				i, m.Shape(), saved.Shape())
		}
		m.CopyFrom(saved)
	}
	return nil
}

// Stream returns the current noise stream state.
func (s *PSGLD) Stream() random.Stream {
	return s.stream
}

// SetStream restores the noise stream, e.g. from a checkpoint.
func (s *PSGLD) SetStream(stream random.Stream) {
	s.stream = stream
}

// streamKey names the noise-stream entry in Langevin state dicts. The
// uint64 stream state travels as raw float64 bits, which round-trip
// exactly through the checkpoint payload.
const streamKey = "noise_stream"

func streamTensor(s random.Stream) *tensor.Dense {
	t, _ := tensor.FromSlice([]float64{math.Float64frombits(s.State())}, tensor.Shape{1})
	return t
}

func streamFromTensor(t *tensor.Dense) random.Stream {
	return random.FromState(math.Float64bits(t.Data()[0]))
}

// PrecondL2Norm reports the L2 norm over the preconditioner buffers, used
// by the loop driver's progress line.
func (s *PSGLD) PrecondL2Norm() float64 {
	var sum float64
	for _, m := range s.precond {
		sum += m.SumSquares()
	}
	return math.Sqrt(sum)
}
