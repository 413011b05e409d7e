// Package dataset supplies training and evaluation batches.
//
// The engine consumes batches through iterators: an infinite restartable
// sequence for training and a finite one for evaluation. The shipped
// source is a deterministic synthetic dataset (class-conditional Gaussian
// blobs) so the engine runs end to end without data files.
package dataset

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Batch is one training or evaluation batch. Images are flattened feature
// vectors.
type Batch struct {
	Images [][]float64
	Labels []int
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int {
	return len(b.Images)
}

// Split describes one dataset split.
type Split struct {
	Name        string
	NumClasses  int
	NumExamples int
	InputDim    int
}

// Dataset produces batches for a pair of splits.
type Dataset interface {
	TrainSplit() Split
	EvalSplit() Split

	// Train returns an infinite iterator over the training split. A fresh
	// call restarts the sequence from the beginning.
	Train(batchSize int) *Iterator

	// Eval returns a finite iterator over the evaluation split.
	Eval(batchSize int) *Iterator
}

// New returns the dataset for a configured name. Unknown names are a
// configuration error, reported before any training step runs.
func New(name string, seed int64) (Dataset, error) {
	switch name {
	case "synthetic":
		return NewSynthetic(SyntheticConfig{Seed: seed}), nil
	default:
		return nil, errors.Errorf("unknown dataset: %q", name)
	}
}

// Iterator walks a split in fixed-size batches.
type Iterator struct {
	fetch func(index int) ([]float64, int)
	total int // <= 0 means infinite
	batch int
	pos   int
}

// Next returns the next batch. For finite iterators ok is false once the
// split is exhausted; a trailing partial batch is returned.
func (it *Iterator) Next() (Batch, bool) {
	if it.total > 0 && it.pos >= it.total {
		return Batch{}, false
	}
	n := it.batch
	if it.total > 0 && it.pos+n > it.total {
		n = it.total - it.pos
	}
	out := Batch{
		Images: make([][]float64, n),
		Labels: make([]int, n),
	}
	for i := 0; i < n; i++ {
		out.Images[i], out.Labels[i] = it.fetch(it.pos)
		it.pos++
	}
	return out, true
}

// SyntheticConfig sizes the synthetic dataset. Zero fields take defaults.
type SyntheticConfig struct {
	NumClasses   int // default 10
	InputDim     int // default 16
	TrainExample int // default 4096
	EvalExamples int // default 512
	Seed         int64
}

// Synthetic generates class-conditional Gaussian blobs. Every example is a
// pure function of the split, the example index, and the seed, so batches
// are reproducible and sharding across replicas cannot skew the data.
type Synthetic struct {
	cfg   SyntheticConfig
	means [][]float64
}

// NewSynthetic creates the generator with per-class means drawn once from
// the seed.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.NumClasses == 0 {
		cfg.NumClasses = 10
	}
	if cfg.InputDim == 0 {
		cfg.InputDim = 16
	}
	if cfg.TrainExample == 0 {
		cfg.TrainExample = 4096
	}
	if cfg.EvalExamples == 0 {
		cfg.EvalExamples = 512
	}

	meanDist := distuv.Normal{Mu: 0, Sigma: 2, Src: rand.NewSource(uint64(cfg.Seed) ^ 0xA5A5A5A5)}
	means := make([][]float64, cfg.NumClasses)
	for c := range means {
		means[c] = make([]float64, cfg.InputDim)
		for i := range means[c] {
			means[c][i] = meanDist.Rand()
		}
	}
	return &Synthetic{cfg: cfg, means: means}
}

// TrainSplit implements Dataset.
func (d *Synthetic) TrainSplit() Split {
	return Split{
		Name:        "synthetic-train",
		NumClasses:  d.cfg.NumClasses,
		NumExamples: d.cfg.TrainExample,
		InputDim:    d.cfg.InputDim,
	}
}

// EvalSplit implements Dataset.
func (d *Synthetic) EvalSplit() Split {
	return Split{
		Name:        "synthetic-eval",
		NumClasses:  d.cfg.NumClasses,
		NumExamples: d.cfg.EvalExamples,
		InputDim:    d.cfg.InputDim,
	}
}

// Train implements Dataset. The iterator cycles through the split
// indefinitely.
func (d *Synthetic) Train(batchSize int) *Iterator {
	return &Iterator{
		fetch: func(index int) ([]float64, int) {
			return d.example(0, index%d.cfg.TrainExample)
		},
		batch: batchSize,
	}
}

// Eval implements Dataset.
func (d *Synthetic) Eval(batchSize int) *Iterator {
	return &Iterator{
		fetch: func(index int) ([]float64, int) {
			return d.example(1, index)
		},
		total: d.cfg.EvalExamples,
		batch: batchSize,
	}
}

// example deterministically generates one example of a split.
func (d *Synthetic) example(splitID, index int) ([]float64, int) {
	seed := uint64(d.cfg.Seed)<<1 ^ uint64(splitID)<<40 ^ uint64(index)
	src := rand.NewSource(seed)
	label := int(src.Uint64() % uint64(d.cfg.NumClasses))

	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	x := make([]float64, d.cfg.InputDim)
	for i := range x {
		x[i] = d.means[label][i] + noise.Rand()
	}
	return x, label
}
