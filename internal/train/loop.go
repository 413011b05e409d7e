package train

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/checkpoint"
	"github.com/dptrain-ml/dptrain/internal/dataset"
	"github.com/dptrain-ml/dptrain/internal/privacy"
	"github.com/dptrain-ml/dptrain/internal/summary"
)

// Loop drives a full training run: checkpoint restore, optional finetune
// initialization, a pre-training evaluation, then windows of
// EvalEveryNSteps virtual steps each followed by evaluation, privacy
// accounting, a summary row, a checkpoint, and a progress report.
type Loop struct {
	Config  Config
	Engine  *Engine
	Dataset dataset.Dataset

	Store      *checkpoint.Store  // nil disables checkpointing
	Summaries  *summary.Writer    // nil-safe
	Accountant privacy.Accountant // consulted unless DP is disabled

	Out io.Writer // progress output; defaults to os.Stdout
}

// Run executes the loop until the epoch budget is exhausted.
func (l *Loop) Run() error {
	out := l.Out
	if out == nil {
		out = os.Stdout
	}
	cfg := l.Config
	counters := l.Engine.Counters()
	totalSteps := int(counters.StepsPerEpoch * cfg.NumTrainEpochs)

	startStep := 0
	if l.Store != nil {
		var err error
		if startStep, err = l.Engine.Restore(l.Store); err != nil {
			return err
		}
	}
	if startStep == 0 && cfg.FinetunePath != "" {
		fmt.Fprintf(out, "Finetuning initialization from checkpoint: %s\n", cfg.FinetunePath)
		if err := l.Engine.FinetuneInit(cfg.FinetunePath, cfg.FinetuneCutLastLayer); err != nil {
			return err
		}
	}

	accuracy, err := l.Engine.Evaluate(l.Dataset, cfg.MaxEvalBatches)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Accuracy before training: %.2f\n", accuracy*100)

	// A resumed run must see the batches an uninterrupted run would, so
	// the data sequence is fast-forwarded to the restore point.
	it := l.Dataset.Train(cfg.TotalBatchSize())
	for i := 0; i < startStep; i++ {
		it.Next()
	}

	for bigStep := startStep; bigStep < totalSteps; bigStep += cfg.EvalEveryNSteps {
		fmt.Fprintf(out, "Running training steps %d - %d\n", bigStep+1, bigStep+cfg.EvalEveryNSteps)

		var monitors Monitors
		curStep := bigStep
		for s := bigStep + 1; s <= bigStep+cfg.EvalEveryNSteps; s++ {
			batch, ok := it.Next()
			if !ok {
				return errors.New("training iterator exhausted")
			}
			if monitors, err = l.Engine.Step(s, batch); err != nil {
				return err
			}
			curStep = s
		}

		if accuracy, err = l.Engine.Evaluate(l.Dataset, cfg.MaxEvalBatches); err != nil {
			return err
		}

		var epsilon float64
		haveEpsilon := false
		if !cfg.DisableDP && l.Accountant != nil {
			q := privacy.SamplingRatio(cfg.TotalBatchSize(), cfg.GradAccSteps, l.Dataset.TrainSplit().NumExamples)
			sigma := privacy.EffectiveNoiseMultiplier(cfg.DPSigma, cfg.Replicas, cfg.GradAccSteps)
			if epsilon, err = l.Accountant.Epsilon(q, sigma, counters.AppliedUpdates(curStep), cfg.DPDelta); err != nil {
				return err
			}
			haveEpsilon = true
		}

		scalars := make(map[string]float64, len(monitors)+3)
		for k, v := range monitors {
			scalars["train/"+k] = v
		}
		scalars["test/accuracy"] = accuracy * 100
		if haveEpsilon {
			scalars["dp/epsilon"] = epsilon
			scalars["dp/delta"] = cfg.DPDelta
		}
		if err := l.Summaries.WriteScalars(counters.AppliedUpdates(curStep), scalars); err != nil {
			return err
		}

		if l.Store != nil {
			fmt.Fprintf(out, "At step %d saving checkpoint to %s\n", curStep, l.Store.Dir())
			if err := l.Store.Save(l.Engine.Snapshot(), curStep); err != nil {
				return err
			}
		}

		fmt.Fprintf(out,
			"Step %d -- Epoch %.2f -- Loss %.2f (ll[%.2f] / wd[%.2f]) EvalAccuracy %.2f -- L2 norm of weights: %.2f, precond %.2f\n",
			curStep, float64(curStep)/counters.StepsPerEpoch,
			monitors["total_loss"], monitors["xent_loss"], monitors["wd_loss"],
			accuracy*100, l.Engine.WeightL2Norm(), l.Engine.PrecondL2Norm())
		if haveEpsilon {
			fmt.Fprintf(out, "    DP: epsilon=%.2f  delta=%v\n", epsilon, cfg.DPDelta)
		}
	}
	return nil
}
