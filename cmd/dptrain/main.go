// Command dptrain trains an image classifier with differentially-private
// SGD across data-parallel replicas.
package main

import (
	"crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/dptrain-ml/dptrain/internal/checkpoint"
	"github.com/dptrain-ml/dptrain/internal/dataset"
	"github.com/dptrain-ml/dptrain/internal/privacy"
	"github.com/dptrain-ml/dptrain/internal/summary"
	"github.com/dptrain-ml/dptrain/internal/train"
	"github.com/dptrain-ml/dptrain/optim"
	"github.com/dptrain-ml/dptrain/schedule"
)

func main() {
	var cfg train.Config

	flag.StringVar(&cfg.ModelDir, "model_dir", "/tmp/dptrain", "Model directory; empty disables checkpoints and summaries.")
	flag.IntVar(&cfg.KeepCkpts, "keep_ckpts", 4, "Number of checkpoints to keep.")
	flag.IntVar(&cfg.Replicas, "replicas", 1, "Number of data-parallel replicas.")
	flag.IntVar(&cfg.DeviceBatchSize, "train_device_batch_size", 128, "Per-replica training batch size.")
	flag.IntVar(&cfg.GradAccSteps, "grad_acc_steps", 1, "Number of steps for gradients accumulation, used to simulate large batches.")
	flag.IntVar(&cfg.EvalDeviceBatchSize, "eval_device_batch_size", 250, "Per-replica eval batch size.")
	flag.IntVar(&cfg.MaxEvalBatches, "max_eval_batches", 5, "Maximum number of batches used for evaluation, zero or negative number means use all batches.")
	flag.IntVar(&cfg.EvalEveryNSteps, "eval_every_n_steps", 1000, "How often to run eval.")
	flag.Float64Var(&cfg.NumTrainEpochs, "num_train_epochs", 10, "Number of training epochs.")
	baseLR := flag.Float64("base_learning_rate", 2.0, "Base learning rate, scaled by total batch size / 256.")
	flag.Float64Var(&cfg.WarmupEpochs, "lr_warmup_epochs", 1.0, "Number of learning rate warmup epochs.")
	flag.StringVar(&cfg.LRSchedule, "lr_schedule", "cos", `Learning rate schedule: "cos" or "fixed".`)
	flag.StringVar(&cfg.Optimizer, "optimizer", "momentum", `Optimizer to use: "momentum", "adam", "sgld", or "psgld".`)
	seed := flag.Int64("rnd_seed", 0, "Initial random seed; 0 draws one from the OS source of entropy.")
	flag.Float64Var(&cfg.WeightDecay, "weight_decay", 1e-4, "Weight decay (L2 loss) coefficient.")
	flag.StringVar(&cfg.Model, "model", "linear", "Model to use.")
	flag.StringVar(&cfg.Dataset, "dataset", "synthetic", "Dataset to use.")
	flag.BoolVar(&cfg.DisableDP, "disable_dp", false, "If true then train without DP.")
	flag.Float64Var(&cfg.DPSigma, "dp_sigma", 1e-5, "DP noise multiplier.")
	flag.Float64Var(&cfg.DPClipNorm, "dp_clip_norm", 1.0, "DP gradient clipping norm.")
	flag.StringVar(&cfg.LogitClip, "logit_clip", "none", `Clip function to use for logits: "none", "blf", "sigmoid", or "tanh".`)
	flag.Float64Var(&cfg.DPDelta, "dp_delta", 1e-6, "DP-SGD delta for eps computation.")
	flag.StringVar(&cfg.FinetunePath, "finetune_path", "", "Path to checkpoint which is used as finetuning initialization.")
	flag.BoolVar(&cfg.FinetuneCutLastLayer, "finetune_cut_last_layer", false, "If true then last layer will be cut for finetuning.")
	flag.IntVar(&cfg.NumLayersToFreeze, "num_layers_to_freeze", 0, "Number of layers to freeze for finetuning.")
	flag.Parse()

	if *seed == 0 {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			log.Fatalf("draw random seed: %v", err)
		}
		*seed = int64(binary.BigEndian.Uint64(b[:]))
	}
	cfg.Seed = *seed
	fmt.Printf("Initial random seed %d\n", cfg.Seed)

	// Linear batch-size scaling against a reference batch of 256.
	cfg.BaseLearningRate = *baseLR * float64(cfg.TotalBatchSize()*cfg.GradAccSteps) / 256

	if err := run(cfg); err != nil {
		log.Fatalf("dptrain: %v", err)
	}
}

func run(cfg train.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	kind, err := optim.ParseKind(cfg.Optimizer)
	if err != nil {
		return err
	}
	fmt.Printf("Using %s optimizer with learning rate %g\n", kind, cfg.BaseLearningRate)

	ds, err := dataset.New(cfg.Dataset, cfg.Seed)
	if err != nil {
		return err
	}
	sched, err := schedule.New(cfg.LRSchedule, cfg.BaseLearningRate, cfg.WarmupEpochs, cfg.NumTrainEpochs)
	if err != nil {
		return err
	}
	eng, err := train.NewEngine(cfg, ds, sched)
	if err != nil {
		return err
	}

	l := &train.Loop{
		Config:     cfg,
		Engine:     eng,
		Dataset:    ds,
		Accountant: privacy.NewRDPAccountant(),
	}
	if cfg.ModelDir != "" {
		store, err := checkpoint.NewStore(cfg.ModelDir, cfg.KeepCkpts)
		if err != nil {
			return err
		}
		writer, err := summary.Open(filepath.Join(cfg.ModelDir, "scalars.db"))
		if err != nil {
			return err
		}
		defer writer.Close()
		l.Store = store
		l.Summaries = writer
	}
	return l.Run()
}
