package pool

import (
	"context"
	"time"
)

// HealthMonitor drives the periodic ping/pong exchange with every worker in
// every attached registry. Unresponsive workers are removed and their
// memory reclaimed by the registry's removal path.
type HealthMonitor struct {
	interval time.Duration
	coord    *Coordinator
}

// NewHealthMonitor builds a monitor over the coordinator's members.
func NewHealthMonitor(cfg Config, coord *Coordinator) *HealthMonitor {
	cfg = cfg.withDefaults()
	return &HealthMonitor{interval: cfg.HealthInterval, coord: coord}
}

// Run executes health cycles until ctx is canceled or shutdown completes.
// Run it on its own goroutine.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if m.coord.State() == StateTerminated {
				return
			}
			m.Tick()
		case <-ctx.Done():
			return
		}
	}
}

// Tick performs one health cycle over every member. Exposed so tests can
// drive cycles deterministically.
func (m *HealthMonitor) Tick() int {
	removed := 0
	for _, member := range m.coord.Members() {
		removed += member.HealthTick()
	}
	return removed
}
