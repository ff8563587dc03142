package pool

import (
	"context"
	"sync/atomic"
	"testing"

	"poold/internal/governor"
)

// testWorker is the minimal handle shape for registry tests. It has no
// loop; tests drive the health channels directly when needed.
type testWorker struct {
	core  *Worker
	depth int
}

func (w *testWorker) Core() *Worker   { return w.core }
func (w *testWorker) QueueDepth() int { return w.depth }

type testEnv struct {
	gov   *governor.Governor
	coord *Coordinator
	reg   *Registry[*testWorker]
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	if cfg.CeilingMB == 0 {
		cfg.CeilingMB = 1000
	}
	gov := governor.New(governor.Config{CeilingMB: cfg.CeilingMB})
	coord := NewCoordinator(nil)
	reg := NewRegistry[*testWorker]("test", cfg, gov, coord, nil)
	return &testEnv{gov: gov, coord: coord, reg: reg}
}

// countingSpawn returns a spawn func that increments loads and produces a
// loopless worker.
func countingSpawn(loads *atomic.Int32) SpawnFunc[*testWorker] {
	return func(ctx context.Context, core *Worker) (*testWorker, error) {
		loads.Add(1)
		return &testWorker{core: core}, nil
	}
}

// addWorker inserts a worker directly, bypassing the spawn path.
func (e *testEnv) addWorker(t *testing.T, identity string, costMB int) *testWorker {
	t.Helper()
	guard, ok := e.gov.TryAllocate(costMB)
	if !ok {
		t.Fatalf("allocation for test worker failed")
	}
	w := &testWorker{core: NewWorker(identity, costMB, guard)}
	e.reg.entryFor(identity).add(w)
	return w
}
