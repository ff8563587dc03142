package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"poold/internal/common/logx"
	"poold/internal/governor"
	"poold/pkg/types"
)

// Removal reasons, used for logging, metrics and events.
const (
	reasonIdle         = "idle"
	reasonUnresponsive = "unresponsive"
	reasonClosed       = "closed"
	reasonShutdown     = "shutdown"
)

// entry holds the workers of one identity. It is the single storage
// location for worker state: nothing else keeps a reference that could
// outlive removal, so destroying a worker here reliably releases its
// memory.
type entry[W Handle] struct {
	mu      sync.RWMutex
	workers []W

	// spawning is the per-identity single-flight spawn lock.
	spawning atomic.Bool
	// spawnErr records why the last spawn produced no worker, for the
	// callers that lost the spawn race.
	spawnErr atomic.Pointer[string]
}

func (e *entry[W]) add(w W) {
	e.mu.Lock()
	e.workers = append(e.workers, w)
	e.mu.Unlock()
}

// remove takes the worker with the given id out of the slice.
func (e *entry[W]) remove(workerID uint64) (W, bool) {
	var zero W
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, w := range e.workers {
		if w.Core().ID() == workerID {
			e.workers = append(e.workers[:i], e.workers[i+1:]...)
			return w, true
		}
	}
	return zero, false
}

func (e *entry[W]) snapshot() []W {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]W, len(e.workers))
	copy(out, e.workers)
	return out
}

func (e *entry[W]) count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.workers)
}

// aliveCount counts workers whose loop is still running. Exited workers
// linger until a health tick removes them and must not satisfy a spawn
// check.
func (e *entry[W]) aliveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	alive := 0
	for _, w := range e.workers {
		if !w.Core().Exited() {
			alive++
		}
	}
	return alive
}

func (e *entry[W]) setSpawnErr(msg string) { e.spawnErr.Store(&msg) }

func (e *entry[W]) lastSpawnErr() string {
	if p := e.spawnErr.Load(); p != nil {
		return *p
	}
	return "spawn produced no worker"
}

// Registry is a concurrent map from model identity to the workers serving
// it. It owns the spawn, select and evict operations for one capability.
// Per-identity entries carry their own locks so dispatches to different
// identities never contend.
type Registry[W Handle] struct {
	capability string
	cfg        Config
	gov        *governor.Governor
	coord      *Coordinator
	events     EventPublisher

	entries sync.Map // identity -> *entry[W]
}

// NewRegistry builds a registry for one capability and attaches it to the
// coordinator so shutdown and the background loops can reach it.
func NewRegistry[W Handle](capability string, cfg Config, gov *governor.Governor, coord *Coordinator, events EventPublisher) *Registry[W] {
	if events == nil {
		events = noopPublisher{}
	}
	r := &Registry[W]{
		capability: capability,
		cfg:        cfg.withDefaults(),
		gov:        gov,
		coord:      coord,
		events:     events,
	}
	coord.Attach(r)
	return r
}

func (r *Registry[W]) Capability() string { return r.capability }

// Config returns the effective (defaulted) configuration.
func (r *Registry[W]) Config() Config { return r.cfg }

func (r *Registry[W]) entryFor(identity string) *entry[W] {
	if v, ok := r.entries.Load(identity); ok {
		return v.(*entry[W])
	}
	v, _ := r.entries.LoadOrStore(identity, &entry[W]{})
	return v.(*entry[W])
}

// Workers returns a copy of the worker list for an identity.
func (r *Registry[W]) Workers(identity string) []W {
	if v, ok := r.entries.Load(identity); ok {
		return v.(*entry[W]).snapshot()
	}
	return nil
}

// selectWorker picks the alive worker with the fewest pending requests,
// tie-broken by the oldest last-active timestamp so starved workers get
// priority. exclude skips the worker that just failed a dispatch.
func (r *Registry[W]) selectWorker(identity string, exclude uint64) (W, bool) {
	var best W
	found := false
	for _, w := range r.Workers(identity) {
		c := w.Core()
		if c.ID() == exclude || c.Exited() {
			continue
		}
		if !found {
			best, found = w, true
			continue
		}
		bc := best.Core()
		if c.Pending() < bc.Pending() ||
			(c.Pending() == bc.Pending() && c.LastActive().Before(bc.LastActive())) {
			best = w
		}
	}
	return best, found
}

// remove is the single removal path for every destruction trigger. It takes
// the worker out of the registry entry, sends its shutdown signal and
// releases its allocation guard, all exactly once per worker id.
func (r *Registry[W]) remove(identity string, workerID uint64, reason string) bool {
	v, ok := r.entries.Load(identity)
	if !ok {
		return false
	}
	w, ok := v.(*entry[W]).remove(workerID)
	if !ok {
		return false
	}
	core := w.Core()
	if !core.destroy() {
		return false
	}
	workersGauge.WithLabelValues(r.capability, identity).Dec()
	evictionsTotal.WithLabelValues(r.capability, reason).Inc()
	ev := logx.Log.Info()
	if reason == reasonUnresponsive {
		ev = logx.Log.Warn()
	}
	ev.Str("capability", r.capability).
		Str("identity", identity).
		Uint64("worker_id", workerID).
		Str("reason", reason).
		Int("cost_mb", core.CostMB()).
		Msg("worker removed")
	r.events.Publish(Event{Name: "worker_removed", Identity: identity, Fields: map[string]any{
		"worker_id": workerID,
		"reason":    reason,
	}})
	return true
}

// Evict removes a specific worker. Callers (maintenance, health) verify
// pending == 0 first where the reason requires it.
func (r *Registry[W]) Evict(identity string, workerID uint64) bool {
	return r.remove(identity, workerID, reasonIdle)
}

// PendingTotal sums in-flight requests across every worker.
func (r *Registry[W]) PendingTotal() int {
	total := 0
	r.entries.Range(func(_, v any) bool {
		for _, w := range v.(*entry[W]).snapshot() {
			total += w.Core().Pending()
		}
		return true
	})
	return total
}

// WorkerCount reports the number of alive workers across identities.
func (r *Registry[W]) WorkerCount() int {
	total := 0
	r.entries.Range(func(_, v any) bool {
		total += v.(*entry[W]).count()
		return true
	})
	return total
}

// ShutdownAll removes and destroys every worker.
func (r *Registry[W]) ShutdownAll() int {
	destroyed := 0
	r.entries.Range(func(k, v any) bool {
		identity := k.(string)
		for _, w := range v.(*entry[W]).snapshot() {
			if r.remove(identity, w.Core().ID(), reasonShutdown) {
				destroyed++
			}
		}
		return true
	})
	return destroyed
}

// Snapshot reports per-identity worker status.
func (r *Registry[W]) Snapshot() []types.IdentityStatus {
	var out []types.IdentityStatus
	r.entries.Range(func(k, v any) bool {
		identity := k.(string)
		workers := v.(*entry[W]).snapshot()
		if len(workers) == 0 {
			return true
		}
		st := types.IdentityStatus{
			Identity:   identity,
			Capability: r.capability,
			Total:      len(workers),
		}
		for _, w := range workers {
			c := w.Core()
			depth := w.QueueDepth()
			st.QueueDepth += depth
			if c.Pending() > 0 {
				st.Busy++
			} else {
				st.Idle++
			}
			st.Workers = append(st.Workers, types.WorkerStatus{
				WorkerID:   c.ID(),
				Pending:    c.Pending(),
				QueueDepth: depth,
				LastActive: c.LastActive().Unix(),
				CostMB:     c.CostMB(),
			})
		}
		queueDepthGauge.WithLabelValues(r.capability, identity).Set(float64(st.QueueDepth))
		out = append(out, st)
		return true
	})
	return out
}

// HealthTick performs one ping/pong cycle over every worker. Workers whose
// loop already exited are removed immediately; workers that stayed silent
// for the configured number of cycles are declared dead and removed.
func (r *Registry[W]) HealthTick() int {
	removed := 0
	now := time.Now()
	r.entries.Range(func(k, v any) bool {
		identity := k.(string)
		for _, w := range v.(*entry[W]).snapshot() {
			core := w.Core()
			if core.Exited() {
				if r.remove(identity, core.ID(), reasonUnresponsive) {
					removed++
				}
				continue
			}
			if _, ok := core.drainPong(); ok {
				core.missedPings.Store(0)
			}
			if core.sendPing(now) {
				// Ping delivered without a pong since last cycle.
				if core.missedPings.Add(1) >= int32(r.cfg.MissedPingThreshold) {
					if r.remove(identity, core.ID(), reasonUnresponsive) {
						removed++
					}
				}
			}
			// A full ping channel means the worker has not consumed the
			// previous ping; treat as alive and skip this cycle.
		}
		return true
	})
	return removed
}

// MaintenanceTick evicts at most one idle LRU worker per identity. An
// identity is eligible only when every one of its workers has been idle for
// at least the configured threshold and the warm floor is respected.
func (r *Registry[W]) MaintenanceTick(now time.Time) int {
	evicted := 0
	r.entries.Range(func(k, v any) bool {
		identity := k.(string)
		workers := v.(*entry[W]).snapshot()
		if len(workers) == 0 || len(workers) <= r.cfg.MinWorkersPerIdentity {
			return true
		}
		allIdle := true
		var lru W
		for i, w := range workers {
			c := w.Core()
			if c.Pending() > 0 || c.IdleFor(now) < r.cfg.IdleThreshold {
				allIdle = false
				break
			}
			if i == 0 || c.LastActive().Before(lru.Core().LastActive()) {
				lru = w
			}
		}
		if !allIdle {
			return true
		}
		// Re-check pending right before removal: a request may have
		// arrived since the scan.
		if lru.Core().Pending() > 0 {
			return true
		}
		if r.remove(identity, lru.Core().ID(), reasonIdle) {
			evicted++
		}
		return true
	})
	return evicted
}
