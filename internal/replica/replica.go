// Package replica provides the fixed replica group and its synchronous
// collective reductions.
//
// The engine's concurrency model is single-program-multiple-data: a fixed
// number of replicas, each a goroutine running the same instruction stream
// over its own data shard, meeting at explicit barrier reductions. The
// reduction is a synchronization barrier: every replica must arrive before
// any proceeds, and afterwards every replica holds the identical mean (the
// same reduction order on every replica, so results are bit-identical).
package replica

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// ErrAborted is returned from a reduction when another replica failed
// mid-step. Partial application of an update on some replicas but not
// others would be a correctness violation, so the whole step aborts.
var ErrAborted = errors.New("distributed step aborted by peer failure")

// Group is a fixed set of replicas known at construction. There is no
// dynamic join or leave.
type Group struct {
	n int

	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	readers int
	gen     uint64
	aborted bool

	tensorSum []*tensor.Dense
	scalarSum map[string]float64
}

// NewGroup creates a group of n replicas.
func NewGroup(n int) (*Group, error) {
	if n < 1 {
		return nil, errors.Errorf("replica count must be >= 1, got %d", n)
	}
	g := &Group{n: n}
	g.cond = sync.NewCond(&g.mu)
	return g, nil
}

// Size returns the replica count.
func (g *Group) Size() int {
	return g.n
}

// Run executes fn once per replica, each on its own goroutine, and blocks
// until all return. If any replica fails, in-flight reductions abort so no
// peer is left at the barrier, and the first error is returned.
func (g *Group) Run(fn func(rank int) error) error {
	errs := make([]error, g.n)
	var wg sync.WaitGroup
	for rank := 0; rank < g.n; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			if err := fn(rank); err != nil {
				errs[rank] = err
				g.abort()
			}
		}(rank)
	}
	wg.Wait()

	g.mu.Lock()
	g.aborted = false // Group is reusable after a completed Run.
	g.mu.Unlock()

	for rank, err := range errs {
		if err != nil && !errors.Is(err, ErrAborted) {
			return errors.Wrapf(err, "replica %d", rank)
		}
	}
	for rank, err := range errs {
		if err != nil {
			return errors.Wrapf(err, "replica %d", rank)
		}
	}
	return nil
}

// AllReduceMean replaces every replica's grads with the element-wise mean
// over all replicas' contributions. All replicas must call it with
// index-aligned, identically shaped tensor lists.
func (g *Group) AllReduceMean(grads []*tensor.Dense) error {
	return g.round(
		func(first bool) {
			if first {
				g.tensorSum = make([]*tensor.Dense, len(grads))
				for i, t := range grads {
					g.tensorSum[i] = t.Clone()
				}
				return
			}
			for i, t := range grads {
				g.tensorSum[i].Add(t)
			}
		},
		func() {
			inv := 1 / float64(g.n)
			for _, t := range g.tensorSum {
				t.Scale(inv)
			}
		},
		func() {
			for i, t := range grads {
				t.CopyFrom(g.tensorSum[i])
			}
		},
	)
}

// AllReduceMeanScalars replaces every replica's named scalars with the
// mean over all replicas. All replicas must pass the same key set.
func (g *Group) AllReduceMeanScalars(vals map[string]float64) error {
	return g.round(
		func(first bool) {
			if first {
				g.scalarSum = make(map[string]float64, len(vals))
			}
			for k, v := range vals {
				g.scalarSum[k] += v
			}
		},
		func() {
			for k := range g.scalarSum {
				g.scalarSum[k] /= float64(g.n)
			}
		},
		func() {
			for k := range vals {
				vals[k] = g.scalarSum[k]
			}
		},
	)
}

// AllReduceSum sums a single value across replicas (used for eval counts).
func (g *Group) AllReduceSum(v float64) (float64, error) {
	var out float64
	err := g.round(
		func(first bool) {
			if first {
				g.scalarSum = map[string]float64{}
			}
			g.scalarSum[""] += v
		},
		func() {},
		func() { out = g.scalarSum[""] },
	)
	return out, err
}

// round is the reusable barrier: every replica contributes, the last
// arrival finishes the reduction, and no replica starts the next round
// until all have consumed this one.
func (g *Group) round(contribute func(first bool), finish func(), consume func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Wait for the previous round to drain.
	for g.readers > 0 && !g.aborted {
		g.cond.Wait()
	}
	if g.aborted {
		return ErrAborted
	}

	contribute(g.arrived == 0)
	g.arrived++

	if g.arrived == g.n {
		finish()
		g.arrived = 0
		g.readers = g.n
		g.gen++
		g.cond.Broadcast()
	} else {
		myGen := g.gen
		for g.gen == myGen && !g.aborted {
			g.cond.Wait()
		}
		if g.aborted {
			return ErrAborted
		}
	}

	consume()
	g.readers--
	if g.readers == 0 {
		g.cond.Broadcast()
	}
	return nil
}

// abort wakes every replica blocked at a barrier.
func (g *Group) abort() {
	g.mu.Lock()
	g.aborted = true
	g.arrived = 0
	g.readers = 0
	g.mu.Unlock()
	g.cond.Broadcast()
}
