package pool

import (
	"sync/atomic"
	"time"

	"poold/internal/governor"
)

// workerIDs hands out process-wide monotonic worker ids.
var workerIDs atomic.Uint64

func nextWorkerID() uint64 { return workerIDs.Add(1) }

// HealthPing is sent to a worker by the health monitor. The ping channel is
// bounded to depth 1: only the latest ping matters, and a full channel means
// the worker has not consumed the previous one yet.
type HealthPing struct {
	At time.Time
}

// HealthPong is the worker's reply, carrying its own view of its queue.
type HealthPong struct {
	WorkerID   uint64
	At         time.Time
	QueueDepth int
}

// Worker holds the fields and behavior common to every capability worker:
// identity, in-flight counter, last-active timestamp, memory cost, shutdown
// signal and health channels. Capability packages embed a *Worker in their
// channel-carrying handles.
type Worker struct {
	id       uint64
	identity string
	costMB   int

	pending    atomic.Int64
	lastActive atomic.Int64 // unix nanos

	// stopCh signals the worker loop to exit; closed at most once.
	// doneCh is closed by the loop itself when it exits, letting callers
	// detect a dead worker mid-request.
	stopped atomic.Bool
	stopCh  chan struct{}
	exited  atomic.Bool
	doneCh  chan struct{}

	pingCh chan HealthPing
	pongCh chan HealthPong

	// missedPings is owned by the health monitor.
	missedPings atomic.Int32

	destroyed atomic.Bool
	guard     *governor.AllocationGuard
}

// NewWorker builds a worker record owning the given allocation guard.
func NewWorker(identity string, costMB int, guard *governor.AllocationGuard) *Worker {
	w := &Worker{
		id:       nextWorkerID(),
		identity: identity,
		costMB:   costMB,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		pingCh:   make(chan HealthPing, 1),
		pongCh:   make(chan HealthPong, 1),
		guard:    guard,
	}
	w.Touch()
	return w
}

func (w *Worker) ID() uint64       { return w.id }
func (w *Worker) Identity() string { return w.identity }
func (w *Worker) CostMB() int      { return w.costMB }

// Pending reports the number of in-flight requests.
func (w *Worker) Pending() int { return int(w.pending.Load()) }

// StartRequest increments the in-flight counter before dispatch.
func (w *Worker) StartRequest() {
	w.pending.Add(1)
	w.Touch()
}

// EndRequest decrements the counter when the dispatch completes, whether it
// succeeded or not.
func (w *Worker) EndRequest() {
	if w.pending.Add(-1) < 0 {
		w.pending.Store(0)
	}
	w.Touch()
}

// Touch updates the last-active timestamp.
func (w *Worker) Touch() { w.lastActive.Store(time.Now().UnixNano()) }

// LastActive reports when the worker last started or finished a request.
func (w *Worker) LastActive() time.Time { return time.Unix(0, w.lastActive.Load()) }

// IdleFor reports how long the worker has been without activity.
func (w *Worker) IdleFor(now time.Time) time.Duration {
	return now.Sub(w.LastActive())
}

// Stop delivers the one-shot shutdown signal. Returns false if the signal
// was already sent.
func (w *Worker) Stop() bool {
	if !w.stopped.CompareAndSwap(false, true) {
		return false
	}
	close(w.stopCh)
	return true
}

// StopCh is selected on by the worker loop.
func (w *Worker) StopCh() <-chan struct{} { return w.stopCh }

// Done is closed when the worker loop has exited. A dispatcher blocked on a
// reply observes it and maps the condition to a channel-closed error.
func (w *Worker) Done() <-chan struct{} { return w.doneCh }

// MarkExited is called by the worker loop on the way out.
func (w *Worker) MarkExited() {
	if w.exited.CompareAndSwap(false, true) {
		close(w.doneCh)
	}
}

// Exited reports whether the worker loop has terminated.
func (w *Worker) Exited() bool { return w.exited.Load() }

// PingCh is the depth-1 channel the health monitor pings on.
func (w *Worker) PingCh() <-chan HealthPing { return w.pingCh }

// Pong replies to a ping the worker loop already took off PingCh.
func (w *Worker) Pong(queueDepth int) {
	pong := HealthPong{WorkerID: w.id, At: time.Now(), QueueDepth: queueDepth}
	select {
	case w.pongCh <- pong:
	default:
	}
}

// AnswerPing opportunistically drains the ping channel and replies with a
// pong carrying the current queue depth. Worker loops call it between
// requests; both operations are non-blocking.
func (w *Worker) AnswerPing(queueDepth int) {
	select {
	case <-w.pingCh:
	default:
		return
	}
	pong := HealthPong{WorkerID: w.id, At: time.Now(), QueueDepth: queueDepth}
	select {
	case w.pongCh <- pong:
	default:
	}
}

// destroy performs the exactly-once teardown: shutdown signal plus memory
// release. All removal paths (idle eviction, health failure, shutdown drain)
// funnel through it, so a worker id is destroyed at most once no matter how
// many paths race.
func (w *Worker) destroy() bool {
	if !w.destroyed.CompareAndSwap(false, true) {
		return false
	}
	w.Stop()
	w.guard.Release()
	return true
}

// sendPing offers a ping without blocking. A full channel reports false,
// which the monitor treats as "previous ping not consumed yet".
func (w *Worker) sendPing(now time.Time) bool {
	select {
	case w.pingCh <- HealthPing{At: now}:
		return true
	default:
		return false
	}
}

// drainPong consumes the latest pong, if any.
func (w *Worker) drainPong() (HealthPong, bool) {
	var last HealthPong
	got := false
	for {
		select {
		case p := <-w.pongCh:
			last, got = p, true
		default:
			return last, got
		}
	}
}
