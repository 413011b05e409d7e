package train

import (
	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/checkpoint"
	"github.com/dptrain-ml/dptrain/internal/dataset"
	"github.com/dptrain-ml/dptrain/internal/nn"
	"github.com/dptrain-ml/dptrain/internal/optim"
	"github.com/dptrain-ml/dptrain/internal/random"
	"github.com/dptrain-ml/dptrain/internal/replica"
	"github.com/dptrain-ml/dptrain/internal/schedule"
	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// Model is the gradient-producing collaborator plus what evaluation and
// checkpointing need from it.
type Model interface {
	GradFunc
	Vars() *nn.TrainableSet
	HeadNames() []string
	CountCorrect(images [][]float64, labels []int) int
}

// NewModel builds the model for a configured name. Unknown names are a
// configuration error.
func NewModel(name string, split dataset.Split, weightDecay float64, clip nn.ClipFunc) (Model, error) {
	switch name {
	case "linear":
		return nn.NewLinearClassifier(split.InputDim, split.NumClasses, weightDecay, clip)
	default:
		return nil, errors.Errorf("unsupported model type: %q", name)
	}
}

// frozenTail drops the gradients of frozen prefix parameters so the
// privatization wrapper and the optimizer only ever see trainable
// entries, aligned to the TrainableSet subset.
type frozenTail struct {
	base GradFunc
	from int
}

func (f frozenTail) Gradients(images [][]float64, labels []int) ([]*tensor.Dense, map[string]float64, error) {
	grads, losses, err := f.base.Gradients(images, labels)
	if err != nil {
		return nil, nil, err
	}
	return grads[f.from:], losses, nil
}

// streamCarrier is implemented by collaborators holding a noise stream
// that must survive checkpoint restore.
type streamCarrier interface {
	Stream() random.Stream
	SetStream(random.Stream)
}

// replicaState is one replica's private copy of everything mutable: the
// model parameters, the gradient collaborator, and the optimizer state.
// Replicas start identical and, because every update is computed from the
// reduced mean gradient, stay bit-identical for the whole run.
type replicaState struct {
	model    Model
	gradFn   GradFunc
	opt      optim.Optimizer
	acc      *optim.Accumulator // nil when GradAccSteps == 1
	trainVar *nn.TrainableSet
}

// Engine executes virtual training steps across a fixed replica group.
type Engine struct {
	cfg      Config
	group    *replica.Group
	replicas []*replicaState
	sched    *schedule.Schedule
	counters Counters
}

// NewEngine wires models, optimizers, and the replica group from a
// validated config.
func NewEngine(cfg Config, ds dataset.Dataset, sched *schedule.Schedule) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	group, err := replica.NewGroup(cfg.Replicas)
	if err != nil {
		return nil, err
	}
	clip, err := nn.NewClipFunc(cfg.LogitClip)
	if err != nil {
		return nil, err
	}
	kind, err := optim.ParseKind(cfg.Optimizer)
	if err != nil {
		return nil, err
	}

	trainSplit := ds.TrainSplit()
	replicas := make([]*replicaState, cfg.Replicas)
	for r := range replicas {
		model, err := NewModel(cfg.Model, trainSplit, cfg.WeightDecay, clip)
		if err != nil {
			return nil, err
		}
		trainVars := model.Vars()
		if cfg.NumLayersToFreeze > 0 {
			if cfg.NumLayersToFreeze >= trainVars.Len() {
				return nil, errors.Errorf("cannot freeze %d of %d parameters", cfg.NumLayersToFreeze, trainVars.Len())
			}
			trainVars = trainVars.Subset(cfg.NumLayersToFreeze)
		}

		// Every replica seeds its optimizer and DP stream identically, so
		// noise draws agree and replicas never diverge.
		opt, err := optim.New(kind, trainVars, optim.Config{
			TrainSize: trainSplit.NumExamples,
			Seed:      cfg.Seed,
		})
		if err != nil {
			return nil, err
		}

		var acc *optim.Accumulator
		if cfg.GradAccSteps > 1 {
			acc, err = optim.NewAccumulator(opt, cfg.GradAccSteps)
			if err != nil {
				return nil, err
			}
		}

		var gradFn GradFunc = model
		if cfg.NumLayersToFreeze > 0 {
			gradFn = frozenTail{base: gradFn, from: cfg.NumLayersToFreeze}
		}
		if !cfg.DisableDP {
			gradFn = NewPrivateGradFunc(gradFn, cfg.DPSigma, cfg.DPClipNorm, cfg.Seed+1)
		}

		replicas[r] = &replicaState{
			model:    model,
			gradFn:   gradFn,
			opt:      opt,
			acc:      acc,
			trainVar: trainVars,
		}
	}

	return &Engine{
		cfg:      cfg,
		group:    group,
		replicas: replicas,
		sched:    sched,
		counters: Counters{
			AccSteps:      cfg.GradAccSteps,
			StepsPerEpoch: float64(trainSplit.NumExamples) / float64(cfg.TotalBatchSize()),
			TotalEpochs:   cfg.NumTrainEpochs,
		},
	}, nil
}

// Counters exposes the engine's step accounting.
func (e *Engine) Counters() Counters {
	return e.counters
}

// Monitors is the per-step logging payload: the reduced loss breakdown
// plus the learning rate and epoch the step used.
type Monitors map[string]float64

// Step processes one virtual step: each replica computes gradients on its
// shard of the batch, gradients and losses are mean-reduced across the
// group, and every replica applies the identical update.
//
// The batch must hold Replicas*DeviceBatchSize examples; it is sharded by
// rank.
func (e *Engine) Step(virtualStep int, batch dataset.Batch) (Monitors, error) {
	if batch.Size() != e.cfg.TotalBatchSize() {
		return nil, errors.Errorf("virtual step %d: batch has %d examples, want %d",
			virtualStep, batch.Size(), e.cfg.TotalBatchSize())
	}

	epoch := e.counters.Epoch(virtualStep)
	lr := e.sched.Rate(epoch)
	apply := e.counters.ApplyUpdates(virtualStep)

	monitors := make(Monitors)
	err := e.group.Run(func(rank int) error {
		rs := e.replicas[rank]
		lo := rank * e.cfg.DeviceBatchSize
		hi := lo + e.cfg.DeviceBatchSize

		grads, losses, err := rs.gradFn.Gradients(batch.Images[lo:hi], batch.Labels[lo:hi])
		if err != nil {
			return errors.Wrap(err, "compute gradients")
		}

		// Reduce before the optimizer sees anything, so every replica
		// applies the same update.
		if err := e.group.AllReduceMean(grads); err != nil {
			return err
		}
		if err := e.group.AllReduceMeanScalars(losses); err != nil {
			return err
		}

		if rs.acc != nil {
			if err := rs.acc.Update(lr, grads, apply); err != nil {
				return err
			}
		} else if err := rs.opt.Update(lr, grads); err != nil {
			return err
		}

		if rank == 0 {
			for k, v := range losses {
				monitors[k] = v
			}
			monitors["learning_rate"] = lr
			monitors["epoch"] = epoch
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return monitors, nil
}

// Evaluate runs the held-out split across the replica group and returns
// top-1 accuracy over the examples actually seen. maxBatches <= 0 means
// use every batch.
func (e *Engine) Evaluate(ds dataset.Dataset, maxBatches int) (float64, error) {
	it := ds.Eval(e.cfg.Replicas * e.cfg.EvalDeviceBatchSize)

	var correct, total float64
	for batchIndex := 0; ; batchIndex++ {
		batch, ok := it.Next()
		if !ok {
			break
		}
		err := e.group.Run(func(rank int) error {
			lo := rank * e.cfg.EvalDeviceBatchSize
			if lo > batch.Size() {
				lo = batch.Size()
			}
			hi := lo + e.cfg.EvalDeviceBatchSize
			if hi > batch.Size() {
				hi = batch.Size()
			}
			n := float64(e.replicas[rank].model.CountCorrect(batch.Images[lo:hi], batch.Labels[lo:hi]))
			sum, err := e.group.AllReduceSum(n)
			if err != nil {
				return err
			}
			if rank == 0 {
				correct += sum
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
		total += float64(batch.Size())
		if maxBatches > 0 && batchIndex+1 >= maxBatches {
			break
		}
	}
	if total == 0 {
		return 0, errors.New("evaluation saw no examples")
	}
	return correct / total, nil
}

// WeightL2Norm reports the L2 norm of the trainable parameters, used by
// the loop driver's progress line.
func (e *Engine) WeightL2Norm() float64 {
	return e.replicas[0].trainVar.L2Norm()
}

// PrecondL2Norm reports the preconditioner norm when the optimizer is
// PSGLD, else 0.
func (e *Engine) PrecondL2Norm() float64 {
	if p, ok := e.replicas[0].opt.(*optim.PSGLD); ok {
		return p.PrecondL2Norm()
	}
	return 0
}

// Snapshot builds the checkpoint view of replica 0's training state
// (replicas are always identical): every model parameter, the
// optimizer's state dict, and the privatization noise stream. Tensor
// entries reference live tensors, so the same snapshot serves both
// saving and in-place restore.
func (e *Engine) Snapshot() *checkpoint.Snapshot {
	snap, _ := e.snapshot(e.replicas[0])
	return snap
}

func (e *Engine) snapshot(rs *replicaState) (*checkpoint.Snapshot, map[string]*tensor.Dense) {
	optState := rs.opt.StateDict()
	tensors := make(map[string]*tensor.Dense, rs.model.Vars().Len()+len(optState))
	for _, p := range rs.model.Vars().Params() {
		tensors[checkpoint.ParamKey(p.Name())] = p.Value()
	}
	for key, t := range optState {
		tensors[checkpoint.OptimKey(key)] = t
	}
	snap := &checkpoint.Snapshot{Tensors: tensors}
	if sc, ok := rs.gradFn.(streamCarrier); ok {
		snap.RNGState = sc.Stream().State()
	}
	return snap, optState
}

// Restore loads the latest snapshot from store into every replica and
// returns the virtual step to resume from. With nothing on disk it
// returns 0 and leaves the engine at its fresh initialization.
func (e *Engine) Restore(store *checkpoint.Store) (int, error) {
	rs := e.replicas[0]
	snap, optState := e.snapshot(rs)
	step, err := store.Restore(snap)
	if err != nil || step == 0 {
		return step, err
	}
	// Buffer tensors were filled in place; push the rest (Adam timestep,
	// Langevin noise stream) through the optimizer's own loader.
	if err := rs.opt.LoadStateDict(optState); err != nil {
		return 0, err
	}
	if sc, ok := rs.gradFn.(streamCarrier); ok {
		sc.SetStream(random.FromState(snap.RNGState))
	}
	return step, e.syncReplicas()
}

// FinetuneInit seeds model parameters from a pretraining checkpoint.
// With cutHead the classification-head parameters keep their fresh
// initialization.
func (e *Engine) FinetuneInit(path string, cutHead bool) error {
	model := e.replicas[0].model
	var skip func(name string) bool
	if cutHead {
		head := make(map[string]bool, len(model.HeadNames()))
		for _, name := range model.HeadNames() {
			head[name] = true
		}
		skip = func(name string) bool { return head[name] }
	}
	if err := checkpoint.LoadParams(path, model.Vars(), skip); err != nil {
		return err
	}
	return e.syncReplicas()
}

// syncReplicas copies replica 0's parameters, optimizer state, and noise
// stream into every other replica.
func (e *Engine) syncReplicas() error {
	src := e.replicas[0]
	srcVars := src.model.Vars().Params()
	srcState := src.opt.StateDict()
	for _, dst := range e.replicas[1:] {
		dstVars := dst.model.Vars().Params()
		for i, p := range srcVars {
			dstVars[i].Value().CopyFrom(p.Value())
		}
		if err := dst.opt.LoadStateDict(srcState); err != nil {
			return err
		}
		if sc, ok := src.gradFn.(streamCarrier); ok {
			dst.gradFn.(streamCarrier).SetStream(sc.Stream())
		}
	}
	return nil
}
