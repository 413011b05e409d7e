// Package train orchestrates differentially-private distributed training:
// the per-virtual-step parallel train op, the gradient collaborators, the
// step/epoch counters, and the loop driver that ties evaluation,
// checkpointing, and privacy accounting to the update cadence.
package train

import (
	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/optim"
)

// Config is the validated training configuration.
type Config struct {
	Model   string // Model name, e.g. "linear".
	Dataset string // Dataset name, e.g. "synthetic".

	Replicas            int // Number of data-parallel replicas.
	DeviceBatchSize     int // Per-replica training batch size.
	EvalDeviceBatchSize int // Per-replica eval batch size.
	MaxEvalBatches      int // <= 0 means evaluate every batch.

	GradAccSteps    int     // Virtual steps per applied update.
	EvalEveryNSteps int     // Eval/accounting cadence, in virtual steps.
	NumTrainEpochs  float64 // Total training epochs.

	BaseLearningRate float64 // Peak learning rate before batch scaling.
	WarmupEpochs     float64 // Linear warmup span.
	LRSchedule       string  // "cos" or "fixed".
	Optimizer        string  // "momentum", "adam", "sgld", or "psgld".
	WeightDecay      float64 // L2 coefficient on weight matrices.
	LogitClip        string  // "none", "tanh", "sigmoid", or "blf".
	Seed             int64   // Seeds data, DP noise, and Langevin noise.

	DisableDP  bool
	DPSigma    float64 // Per-replica DP noise multiplier.
	DPClipNorm float64 // Per-example gradient clipping norm.
	DPDelta    float64 // Target delta for epsilon accounting.

	ModelDir  string // Empty disables checkpoints and summaries.
	KeepCkpts int

	FinetunePath         string
	FinetuneCutLastLayer bool
	NumLayersToFreeze    int
}

// Validate reports configuration errors before any training step runs.
func (c *Config) Validate() error {
	if c.Replicas < 1 {
		return errors.Errorf("replicas must be >= 1, got %d", c.Replicas)
	}
	if c.DeviceBatchSize < 1 {
		return errors.Errorf("device batch size must be >= 1, got %d", c.DeviceBatchSize)
	}
	if c.EvalDeviceBatchSize < 1 {
		return errors.Errorf("eval device batch size must be >= 1, got %d", c.EvalDeviceBatchSize)
	}
	if c.GradAccSteps < 1 {
		return errors.New("gradient accumulation steps must be >= 1")
	}
	if c.EvalEveryNSteps < 1 {
		return errors.Errorf("eval cadence must be >= 1, got %d", c.EvalEveryNSteps)
	}
	if c.EvalEveryNSteps%c.GradAccSteps != 0 {
		// Checkpoints are written at the eval cadence; aligning it to the
		// accumulation factor keeps every save point at an update-step
		// boundary so accumulator buffers need not be serialized.
		return errors.Errorf("eval cadence (%d) must be a multiple of accumulation steps (%d)",
			c.EvalEveryNSteps, c.GradAccSteps)
	}
	if c.NumTrainEpochs <= 0 {
		return errors.Errorf("training epochs must be positive, got %v", c.NumTrainEpochs)
	}
	if _, err := optim.ParseKind(c.Optimizer); err != nil {
		return err
	}
	if !c.DisableDP {
		if c.DPSigma <= 0 {
			return errors.Errorf("DP noise multiplier must be positive, got %v", c.DPSigma)
		}
		if c.DPClipNorm <= 0 {
			return errors.Errorf("DP clipping norm must be positive, got %v", c.DPClipNorm)
		}
		if c.DPDelta <= 0 || c.DPDelta >= 1 {
			return errors.Errorf("DP delta must be in (0, 1), got %v", c.DPDelta)
		}
	}
	return nil
}

// TotalBatchSize is the example count of one virtual step across all
// replicas.
func (c *Config) TotalBatchSize() int {
	return c.Replicas * c.DeviceBatchSize
}
