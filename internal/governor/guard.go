package governor

import "sync/atomic"

// AllocationGuard represents a granted memory reservation. Releasing it
// returns the memory to the budget exactly once; further calls are no-ops.
// Every spawned worker owns one guard and releases it on destruction.
type AllocationGuard struct {
	g        *Governor
	mb       int64
	released atomic.Bool
}

// Release returns the reservation to the governor. Safe to call more than
// once and from multiple goroutines; only the first call decrements.
func (a *AllocationGuard) Release() {
	if a == nil || !a.released.CompareAndSwap(false, true) {
		return
	}
	a.g.release(a.mb)
}

// MB reports the size of the reservation.
func (a *AllocationGuard) MB() int { return int(a.mb) }
