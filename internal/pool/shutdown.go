package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"poold/internal/common/logx"
)

// State is the coordinator lifecycle: Running -> Draining -> Terminated.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "running"
	}
}

// drainPollInterval is how often the drain loop re-sums in-flight requests.
const drainPollInterval = 100 * time.Millisecond

// DrainResult reports how a shutdown drain ended.
type DrainResult struct {
	Clean     bool
	Elapsed   time.Duration
	Remaining int
}

// Coordinator owns the process-wide shutdown flag and the drain protocol.
// Every registry checks the flag before admitting a request, so a single
// atomic write halts admission everywhere.
type Coordinator struct {
	state  atomic.Int32
	events EventPublisher

	mu      sync.RWMutex
	members []Member
}

func NewCoordinator(events EventPublisher) *Coordinator {
	if events == nil {
		events = noopPublisher{}
	}
	return &Coordinator{events: events}
}

// Attach registers a member registry with the coordinator.
func (c *Coordinator) Attach(m Member) {
	c.mu.Lock()
	c.members = append(c.members, m)
	c.mu.Unlock()
}

// Members returns the attached registries.
func (c *Coordinator) Members() []Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Member, len(c.members))
	copy(out, c.members)
	return out
}

// State reports the current lifecycle state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// IsShuttingDown reports whether admission should be rejected.
func (c *Coordinator) IsShuttingDown() bool { return c.State() != StateRunning }

// PendingTotal sums in-flight requests across every member.
func (c *Coordinator) PendingTotal() int {
	total := 0
	for _, m := range c.Members() {
		total += m.PendingTotal()
	}
	return total
}

// Begin flips the shutdown flag and drains in-flight work, polling until
// the pending sum reaches zero or the timeout elapses. On timeout the
// remaining workers are force-signaled. Begin is called exactly once by the
// external signal handler; a second call returns immediately.
func (c *Coordinator) Begin(timeout time.Duration) DrainResult {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return DrainResult{Clean: c.State() == StateTerminated}
	}
	start := time.Now()
	logx.Log.Info().Dur("timeout", timeout).Msg("shutdown begun, draining in-flight requests")
	c.events.Publish(Event{Name: "shutdown_begin", Fields: map[string]any{"timeout": timeout.String()}})

	deadline := start.Add(timeout)
	for {
		pending := c.PendingTotal()
		if pending == 0 {
			elapsed := time.Since(start)
			c.terminate()
			logx.Log.Info().Dur("elapsed", elapsed).Msg("drain complete")
			c.events.Publish(Event{Name: "shutdown_done", Fields: map[string]any{"clean": true}})
			return DrainResult{Clean: true, Elapsed: elapsed}
		}
		if time.Now().After(deadline) {
			c.terminate()
			logx.Log.Warn().
				Int("remaining", pending).
				Dur("elapsed", time.Since(start)).
				Msg("drain timeout, forcing worker shutdown")
			c.events.Publish(Event{Name: "shutdown_done", Fields: map[string]any{
				"clean":     false,
				"remaining": pending,
			}})
			return DrainResult{Clean: false, Elapsed: time.Since(start), Remaining: pending}
		}
		time.Sleep(drainPollInterval)
	}
}

// terminate signals every remaining worker and moves to Terminated.
func (c *Coordinator) terminate() {
	for _, m := range c.Members() {
		m.ShutdownAll()
	}
	c.state.Store(int32(StateTerminated))
}
