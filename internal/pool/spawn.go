package pool

import (
	"context"
	"time"

	"poold/internal/common/logx"
	"poold/internal/governor"
)

// spawnPollInterval is how often a caller waiting on another dispatcher's
// in-flight spawn re-checks the registry.
const spawnPollInterval = 50 * time.Millisecond

// SpawnFunc builds a capability worker around a fresh core record. It runs
// on a background goroutine, never on the dispatch path: implementations
// load the model (blocking, possibly for seconds), wire the operation
// channels and start the worker loop before returning.
type SpawnFunc[W Handle] func(ctx context.Context, core *Worker) (W, error)

// ensureWorker guarantees at least one alive worker for the identity,
// spawning one under the per-identity single-flight lock if needed. Losers
// of the spawn race poll with a short backoff up to the spawn timeout.
func (r *Registry[W]) ensureWorker(ctx context.Context, identity string, costMB int, spawn SpawnFunc[W]) error {
	e := r.entryFor(identity)
	deadline := time.Now().Add(r.cfg.SpawnTimeout)
	for {
		if r.coord.IsShuttingDown() {
			return ErrShuttingDown()
		}
		if e.aliveCount() > 0 {
			return nil
		}
		if e.spawning.CompareAndSwap(false, true) {
			// Won the race. Double-check: another caller may have
			// registered a worker between our count and the swap.
			if e.aliveCount() > 0 {
				e.spawning.Store(false)
				return nil
			}
			guard, ok := r.gov.TryAllocate(costMB)
			if !ok {
				e.spawning.Store(false)
				spawnFailuresTotal.WithLabelValues(r.capability, "memory").Inc()
				logx.Log.Warn().
					Str("capability", r.capability).
					Str("identity", identity).
					Int("cost_mb", costMB).
					Int("allocated_mb", r.gov.AllocatedMB()).
					Int("ceiling_mb", r.gov.CeilingMB()).
					Msg("spawn denied by memory governor")
				return ErrSpawnFailed(identity, "insufficient memory")
			}
			go r.runSpawn(identity, guard, spawn, e)
		}
		if err := r.waitForSpawn(ctx, e, identity, deadline); err != nil {
			return err
		}
	}
}

// runSpawn loads the model and registers the worker, holding the spawn lock
// for the duration so concurrent cold dispatches cause exactly one load.
func (r *Registry[W]) runSpawn(identity string, guard *governor.AllocationGuard, spawn SpawnFunc[W], e *entry[W]) {
	defer e.spawning.Store(false)
	start := time.Now()
	core := NewWorker(identity, guard.MB(), guard)
	w, err := spawn(context.Background(), core)
	if err != nil {
		guard.Release()
		e.setSpawnErr(err.Error())
		spawnFailuresTotal.WithLabelValues(r.capability, "load").Inc()
		logx.Log.Error().
			Err(err).
			Str("capability", r.capability).
			Str("identity", identity).
			Uint64("worker_id", core.ID()).
			Msg("model load failed")
		r.events.Publish(Event{Name: "spawn_failed", Identity: identity, Fields: map[string]any{
			"error": err.Error(),
		}})
		return
	}
	e.add(w)
	workersGauge.WithLabelValues(r.capability, identity).Inc()
	spawnsTotal.WithLabelValues(r.capability).Inc()
	logx.Log.Info().
		Str("capability", r.capability).
		Str("identity", identity).
		Uint64("worker_id", core.ID()).
		Int("cost_mb", core.CostMB()).
		Dur("load_time", time.Since(start)).
		Msg("worker spawned")
	r.events.Publish(Event{Name: "worker_spawned", Identity: identity, Fields: map[string]any{
		"worker_id": core.ID(),
		"cost_mb":   core.CostMB(),
	}})
}

// waitForSpawn blocks until a worker appears, the in-flight spawn finishes
// without producing one, the spawn timeout passes, or ctx ends.
func (r *Registry[W]) waitForSpawn(ctx context.Context, e *entry[W], identity string, deadline time.Time) error {
	for {
		if e.aliveCount() > 0 {
			return nil
		}
		if !e.spawning.Load() {
			// Spawn finished but registered nothing: the load failed.
			return ErrSpawnFailed(identity, e.lastSpawnErr())
		}
		if time.Now().After(deadline) {
			return ErrSpawnTimeout(identity)
		}
		select {
		case <-time.After(spawnPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// maybeScaleUp spawns one extra worker when every existing worker of the
// identity is busy and the configured per-identity cap allows it. Failure
// to allocate is not an error: the pool simply stays at current capacity.
func (r *Registry[W]) maybeScaleUp(identity string, costMB int, spawn SpawnFunc[W]) {
	if r.cfg.MaxWorkersPerIdentity <= 1 || r.coord.IsShuttingDown() {
		return
	}
	e := r.entryFor(identity)
	alive := 0
	for _, w := range e.snapshot() {
		if w.Core().Exited() {
			continue
		}
		alive++
		if w.Core().Pending() == 0 {
			return
		}
	}
	if alive == 0 || alive >= r.cfg.MaxWorkersPerIdentity {
		return
	}
	if !e.spawning.CompareAndSwap(false, true) {
		return
	}
	guard, ok := r.gov.TryAllocate(costMB)
	if !ok {
		e.spawning.Store(false)
		logx.Log.Debug().
			Str("capability", r.capability).
			Str("identity", identity).
			Msg("scale-up skipped, memory limit reached")
		return
	}
	logx.Log.Info().
		Str("capability", r.capability).
		Str("identity", identity).
		Int("workers", alive).
		Msg("all workers busy, spawning one more")
	go r.runSpawn(identity, guard, spawn, e)
}
