package nn

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// LinearClassifier is a softmax linear model with manual gradients.
//
// It is the gradient-producing collaborator the training engine ships: it
// returns gradients aligned to its TrainableSet together with a loss
// breakdown (total, cross-entropy, weight decay), the same contract any
// larger backbone would satisfy.
type LinearClassifier struct {
	inputDim   int
	numClasses int

	w *Param // shape {numClasses, inputDim}
	b *Param // shape {numClasses}

	vars        *TrainableSet
	clip        ClipFunc
	weightDecay float64
}

// NewLinearClassifier builds the model with zero-initialized parameters.
func NewLinearClassifier(inputDim, numClasses int, weightDecay float64, clip ClipFunc) (*LinearClassifier, error) {
	if inputDim <= 0 || numClasses <= 1 {
		return nil, errors.Errorf("invalid model dimensions: input %d, classes %d", inputDim, numClasses)
	}
	m := &LinearClassifier{
		inputDim:    inputDim,
		numClasses:  numClasses,
		w:           NewParam("linear.w", tensor.Zeros(tensor.Shape{numClasses, inputDim})),
		b:           NewParam("linear.b", tensor.Zeros(tensor.Shape{numClasses})),
		vars:        NewTrainableSet(),
		clip:        clip,
		weightDecay: weightDecay,
	}
	if err := m.vars.Add(m.w); err != nil {
		return nil, err
	}
	if err := m.vars.Add(m.b); err != nil {
		return nil, err
	}
	return m, nil
}

// Vars returns the model's trainable set.
func (m *LinearClassifier) Vars() *TrainableSet {
	return m.vars
}

// HeadNames lists the classification-head parameters, the ones skipped
// when a finetune checkpoint is loaded with the head cut.
func (m *LinearClassifier) HeadNames() []string {
	return []string{m.w.Name(), m.b.Name()}
}

// Gradients computes mean gradients over the batch and the loss breakdown.
//
// The returned slice is aligned to Vars(): grads[0] pairs with linear.w,
// grads[1] with linear.b. Weight decay (0.5*wd*sum(w^2)) applies to weight
// matrices only, not biases.
func (m *LinearClassifier) Gradients(images [][]float64, labels []int) ([]*tensor.Dense, map[string]float64, error) {
	if len(images) == 0 || len(images) != len(labels) {
		return nil, nil, errors.Errorf("batch mismatch: %d images, %d labels", len(images), len(labels))
	}

	gw := tensor.ZerosLike(m.w.Value())
	gb := tensor.ZerosLike(m.b.Value())
	gwData := gw.Data()
	gbData := gb.Data()
	wData := m.w.Value().Data()
	bData := m.b.Value().Data()

	var xentSum float64
	logits := make([]float64, m.numClasses)
	clipped := make([]float64, m.numClasses)
	probs := make([]float64, m.numClasses)

	for n, x := range images {
		if len(x) != m.inputDim {
			return nil, nil, errors.Errorf("image %d has %d features, model expects %d", n, len(x), m.inputDim)
		}
		y := labels[n]
		if y < 0 || y >= m.numClasses {
			return nil, nil, errors.Errorf("label %d out of range [0, %d)", y, m.numClasses)
		}

		for c := 0; c < m.numClasses; c++ {
			row := wData[c*m.inputDim : (c+1)*m.inputDim]
			logits[c] = floats.Dot(row, x) + bData[c]
			clipped[c] = m.clip.Value(logits[c])
		}
		xentSum += softmax(clipped, probs, y)

		for c := 0; c < m.numClasses; c++ {
			delta := probs[c]
			if c == y {
				delta -= 1
			}
			// Chain through the clip back to the raw logit.
			dz := delta * m.clip.Deriv(logits[c])
			gbData[c] += dz
			floats.AddScaled(gwData[c*m.inputDim:(c+1)*m.inputDim], dz, x)
		}
	}

	batch := float64(len(images))
	gw.Scale(1 / batch)
	gb.Scale(1 / batch)

	xent := xentSum / batch
	wd := 0.5 * m.weightDecay * m.w.Value().SumSquares()
	if m.weightDecay != 0 {
		gw.AddScaled(m.weightDecay, m.w.Value())
	}

	losses := map[string]float64{
		"total_loss": xent + wd,
		"xent_loss":  xent,
		"wd_loss":    wd,
	}
	return []*tensor.Dense{gw, gb}, losses, nil
}

// CountCorrect returns the number of argmax predictions matching labels.
func (m *LinearClassifier) CountCorrect(images [][]float64, labels []int) int {
	wData := m.w.Value().Data()
	bData := m.b.Value().Data()
	correct := 0
	for n, x := range images {
		best, bestVal := 0, math.Inf(-1)
		for c := 0; c < m.numClasses; c++ {
			v := floats.Dot(wData[c*m.inputDim:(c+1)*m.inputDim], x) + bData[c]
			if v > bestVal {
				best, bestVal = c, v
			}
		}
		if best == labels[n] {
			correct++
		}
	}
	return correct
}

// softmax fills probs with softmax(z) and returns -log probs[label].
func softmax(z, probs []float64, label int) float64 {
	maxZ := floats.Max(z)
	var sum float64
	for i, v := range z {
		probs[i] = math.Exp(v - maxZ)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	// -log softmax in a numerically direct form.
	return math.Log(sum) - (z[label] - maxZ)
}
