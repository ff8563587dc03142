package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnsureWorkerSingleFlight(t *testing.T) {
	e := newTestEnv(t, Config{})
	var loads atomic.Int32
	spawn := countingSpawn(&loads)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.reg.ensureWorker(context.Background(), "m1", 100, spawn)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := loads.Load(); got != 1 {
		t.Fatalf("expected exactly 1 load, got %d", got)
	}
	if got := e.reg.WorkerCount(); got != 1 {
		t.Fatalf("expected 1 worker, got %d", got)
	}
	if got := e.gov.AllocatedMB(); got != 100 {
		t.Fatalf("expected 100 MB allocated, got %d", got)
	}
}

func TestEnsureWorkerSpawnFailurePropagates(t *testing.T) {
	e := newTestEnv(t, Config{})
	spawn := func(ctx context.Context, core *Worker) (*testWorker, error) {
		return nil, errors.New("weights corrupt")
	}
	err := e.reg.ensureWorker(context.Background(), "m1", 100, spawn)
	if !IsSpawnFailed(err) {
		t.Fatalf("expected spawn failed, got %v", err)
	}
	if e.reg.WorkerCount() != 0 {
		t.Fatalf("expected no workers after failed spawn")
	}
	// The reservation must be returned when the load fails.
	if got := e.gov.AllocatedMB(); got != 0 {
		t.Fatalf("expected 0 MB allocated, got %d", got)
	}
}

func TestEnsureWorkerMemoryDenied(t *testing.T) {
	e := newTestEnv(t, Config{CeilingMB: 100})
	var loads atomic.Int32
	err := e.reg.ensureWorker(context.Background(), "big", 200, countingSpawn(&loads))
	if !IsSpawnFailed(err) {
		t.Fatalf("expected spawn failed, got %v", err)
	}
	if loads.Load() != 0 {
		t.Fatalf("loader must not run when memory is denied")
	}
}

func TestEnsureWorkerSpawnTimeout(t *testing.T) {
	e := newTestEnv(t, Config{SpawnTimeout: 120 * time.Millisecond})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	spawn := func(ctx context.Context, core *Worker) (*testWorker, error) {
		<-release
		return nil, errors.New("aborted")
	}
	err := e.reg.ensureWorker(context.Background(), "slow", 10, spawn)
	if !IsSpawnTimeout(err) {
		t.Fatalf("expected spawn timeout, got %v", err)
	}
}

func TestEnsureWorkerContextCanceled(t *testing.T) {
	e := newTestEnv(t, Config{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	spawn := func(ctx context.Context, core *Worker) (*testWorker, error) {
		<-release
		return nil, errors.New("aborted")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	err := e.reg.ensureWorker(ctx, "slow", 10, spawn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSelectWorkerLeastPending(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.addWorker(t, "m1", 10)
	b := e.addWorker(t, "m1", 10)
	a.core.StartRequest()
	a.core.StartRequest()
	b.core.StartRequest()

	w, ok := e.reg.selectWorker("m1", 0)
	if !ok {
		t.Fatalf("expected a worker")
	}
	if w.core.ID() != b.core.ID() {
		t.Fatalf("expected least-pending worker %d, got %d", b.core.ID(), w.core.ID())
	}
}

func TestSelectWorkerTieBreaksOldest(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.addWorker(t, "m1", 10)
	b := e.addWorker(t, "m1", 10)
	a.core.lastActive.Store(time.Now().Add(-time.Minute).UnixNano())
	b.core.lastActive.Store(time.Now().UnixNano())

	w, ok := e.reg.selectWorker("m1", 0)
	if !ok || w.core.ID() != a.core.ID() {
		t.Fatalf("expected oldest worker %d, got %d", a.core.ID(), w.core.ID())
	}
}

func TestSelectWorkerSkipsExcludedAndExited(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.addWorker(t, "m1", 10)
	b := e.addWorker(t, "m1", 10)
	c := e.addWorker(t, "m1", 10)
	b.core.MarkExited()

	w, ok := e.reg.selectWorker("m1", a.core.ID())
	if !ok || w.core.ID() != c.core.ID() {
		t.Fatalf("expected worker %d, got %d ok=%v", c.core.ID(), w.core.ID(), ok)
	}
	if _, ok := e.reg.selectWorker("unknown", 0); ok {
		t.Fatalf("expected no worker for unknown identity")
	}
}

func TestRemoveExactlyOnce(t *testing.T) {
	e := newTestEnv(t, Config{})
	w := e.addWorker(t, "m1", 50)
	id := w.core.ID()

	var removed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.reg.remove("m1", id, reasonIdle) {
				removed.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := removed.Load(); got != 1 {
		t.Fatalf("expected exactly one successful removal, got %d", got)
	}
	if got := e.gov.AllocatedMB(); got != 0 {
		t.Fatalf("expected memory released once, allocated=%d", got)
	}
	select {
	case <-w.core.StopCh():
	default:
		t.Fatalf("expected stop signal after removal")
	}
}

func TestShutdownAllReleasesMemory(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.addWorker(t, "m1", 100)
	e.addWorker(t, "m1", 100)
	e.addWorker(t, "m2", 200)

	if got := e.reg.ShutdownAll(); got != 3 {
		t.Fatalf("expected 3 destroyed, got %d", got)
	}
	if e.reg.WorkerCount() != 0 {
		t.Fatalf("expected empty registry")
	}
	if got := e.gov.AllocatedMB(); got != 0 {
		t.Fatalf("expected 0 MB allocated, got %d", got)
	}
}

func TestSnapshotCounts(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.addWorker(t, "m1", 10)
	e.addWorker(t, "m1", 10)
	a.core.StartRequest()

	snaps := e.reg.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 identity, got %d", len(snaps))
	}
	st := snaps[0]
	if st.Identity != "m1" || st.Capability != "test" {
		t.Fatalf("unexpected snapshot: %+v", st)
	}
	if st.Total != 2 || st.Busy != 1 || st.Idle != 1 {
		t.Fatalf("unexpected counts: %+v", st)
	}
}

func TestMaybeScaleUpSpawnsWhenAllBusy(t *testing.T) {
	e := newTestEnv(t, Config{MaxWorkersPerIdentity: 2})
	var loads atomic.Int32
	w := e.addWorker(t, "m1", 10)
	w.core.StartRequest()

	e.reg.maybeScaleUp("m1", 10, countingSpawn(&loads))
	waitFor(t, func() bool { return e.reg.WorkerCount() == 2 })
	if loads.Load() != 1 {
		t.Fatalf("expected 1 scale-up load, got %d", loads.Load())
	}
}

func TestMaybeScaleUpDisabledByDefault(t *testing.T) {
	e := newTestEnv(t, Config{})
	var loads atomic.Int32
	w := e.addWorker(t, "m1", 10)
	w.core.StartRequest()

	e.reg.maybeScaleUp("m1", 10, countingSpawn(&loads))
	time.Sleep(60 * time.Millisecond)
	if e.reg.WorkerCount() != 1 || loads.Load() != 0 {
		t.Fatalf("scale-up must be a no-op at the default cap")
	}
}

// waitFor polls cond for up to one second.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
