package pool

import (
	"time"

	"poold/pkg/types"
)

// Handle is the narrow contract a capability-specific worker exposes to the
// generic pool machinery. Capability channels never leak through it, so
// eviction, health checking and shutdown operate identically over every
// worker shape.
type Handle interface {
	// Core returns the shared worker record.
	Core() *Worker
	// QueueDepth reports the number of requests queued across the
	// worker's operation channels.
	QueueDepth() int
}

// Member is the capability-erased view of a Registry. The health monitor,
// maintenance loop and shutdown coordinator operate on members so one set
// of background loops covers every capability.
type Member interface {
	Capability() string
	// HealthTick performs one ping/pong cycle and removes workers that
	// stayed silent too long. Returns the number removed.
	HealthTick() int
	// MaintenanceTick evicts at most one idle LRU worker per identity.
	// Returns the number evicted.
	MaintenanceTick(now time.Time) int
	// PendingTotal sums in-flight requests across every worker.
	PendingTotal() int
	// WorkerCount reports the number of alive workers.
	WorkerCount() int
	// ShutdownAll removes and destroys every worker. Returns the number
	// destroyed.
	ShutdownAll() int
	// Snapshot reports per-identity status for observability.
	Snapshot() []types.IdentityStatus
}
