package pool

import "fmt"

// noWorkersError signals that an identity has no alive workers and a spawn
// was not attempted or allowed.
type noWorkersError struct{ identity string }

func (e noWorkersError) Error() string { return "no workers for " + e.identity }

// ErrNoWorkers constructs a no-workers error for the given identity.
func ErrNoWorkers(identity string) error { return noWorkersError{identity: identity} }

// IsNoWorkers reports whether err indicates an identity with zero workers.
func IsNoWorkers(err error) bool {
	_, ok := err.(noWorkersError)
	return ok
}

// spawnFailedError signals that a model load failed or memory was denied.
type spawnFailedError struct {
	identity string
	reason   string
}

func (e spawnFailedError) Error() string {
	return fmt.Sprintf("spawn failed for %s: %s", e.identity, e.reason)
}

func ErrSpawnFailed(identity, reason string) error {
	return spawnFailedError{identity: identity, reason: reason}
}

// IsSpawnFailed reports whether err indicates a failed spawn attempt.
func IsSpawnFailed(err error) bool {
	_, ok := err.(spawnFailedError)
	return ok
}

// spawnTimeoutError signals that waiting on another caller's in-flight spawn
// exceeded the configured spawn timeout.
type spawnTimeoutError struct{ identity string }

func (e spawnTimeoutError) Error() string { return "spawn timeout for " + e.identity }

func ErrSpawnTimeout(identity string) error { return spawnTimeoutError{identity: identity} }

func IsSpawnTimeout(err error) bool {
	_, ok := err.(spawnTimeoutError)
	return ok
}

// shuttingDownError signals admission rejected after the shutdown flag was
// set.
type shuttingDownError struct{}

func (shuttingDownError) Error() string { return "pool shutting down" }

func ErrShuttingDown() error { return shuttingDownError{} }

func IsShuttingDown(err error) bool {
	_, ok := err.(shuttingDownError)
	return ok
}

// overloadedError signals a full bounded channel under the fail-fast send
// policy; it maps to backpressure (429) at outer layers.
type overloadedError struct {
	identity string
	op       string
}

func (e overloadedError) Error() string {
	return fmt.Sprintf("overloaded: %s queue full for %s", e.op, e.identity)
}

func ErrOverloaded(identity, op string) error { return overloadedError{identity: identity, op: op} }

func IsOverloaded(err error) bool {
	_, ok := err.(overloadedError)
	return ok
}

// channelClosedError signals that a worker died mid-request. Dispatch
// retries it once transparently before surfacing.
type channelClosedError struct {
	identity string
	workerID uint64
}

func (e channelClosedError) Error() string {
	return fmt.Sprintf("worker %d for %s closed mid-request", e.workerID, e.identity)
}

func ErrChannelClosed(identity string, workerID uint64) error {
	return channelClosedError{identity: identity, workerID: workerID}
}

func IsChannelClosed(err error) bool {
	_, ok := err.(channelClosedError)
	return ok
}
