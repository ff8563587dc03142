package pool

import (
	"context"
	"time"

	"poold/internal/common/logx"
	"poold/internal/governor"
)

// MaintenanceLoop periodically evicts idle workers and publishes a memory
// usage summary. Eviction is deliberately slow: at most one worker per
// identity per tick, so a request arriving mid-drain does not race a burst
// of simultaneous evictions.
type MaintenanceLoop struct {
	interval time.Duration
	coord    *Coordinator
	gov      *governor.Governor
}

func NewMaintenanceLoop(cfg Config, coord *Coordinator, gov *governor.Governor) *MaintenanceLoop {
	cfg = cfg.withDefaults()
	return &MaintenanceLoop{interval: cfg.MaintenanceInterval, coord: coord, gov: gov}
}

// Run executes maintenance ticks until ctx is canceled or shutdown
// completes. Run it on its own goroutine.
func (l *MaintenanceLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if l.coord.State() == StateTerminated {
				return
			}
			l.Tick(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one maintenance pass. Exposed so tests can drive passes
// deterministically.
func (l *MaintenanceLoop) Tick(now time.Time) int {
	evicted := 0
	workers := 0
	for _, member := range l.coord.Members() {
		// During draining the loop keeps evicting idle workers but the
		// registries refuse new spawns, so capacity only shrinks.
		evicted += member.MaintenanceTick(now)
		workers += member.WorkerCount()
	}
	stats := l.gov.Stats()
	allocatedMBGauge.Set(float64(stats.AllocatedMB))
	ceilingMBGauge.Set(float64(stats.CeilingMB))
	pressureGauge.Set(float64(stats.Pressure))
	logx.Log.Debug().
		Int("workers", workers).
		Int("evicted", evicted).
		Int("allocated_mb", stats.AllocatedMB).
		Int("ceiling_mb", stats.CeilingMB).
		Str("pressure", stats.Pressure.String()).
		Msg("pool memory usage")
	return evicted
}
