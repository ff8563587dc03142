package governor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"poold/internal/common/logx"
)

// Pressure describes how close the host is to running out of memory.
// It is derived from a periodically refreshed system sample and is exposed
// for logging and metrics; admission decisions use only the configured
// ceiling.
type Pressure int32

const (
	PressureNormal Pressure = iota
	PressureWarning
	PressureCritical
)

func (p Pressure) String() string {
	switch p {
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Defaults applied when corresponding Config fields are unset.
const (
	defaultSampleInterval = 5 * time.Second
	defaultWarningRatio   = 0.70
	defaultCriticalRatio  = 0.85
)

// Config holds the tunables for a Governor.
type Config struct {
	// CeilingMB is the admission budget shared by every worker.
	CeilingMB int
	// SampleInterval controls how often the system memory sample is
	// refreshed by RunSampler.
	SampleInterval time.Duration
	// WarningRatio and CriticalRatio are the tier boundaries applied to
	// allocated memory over the sampled system total.
	WarningRatio  float64
	CriticalRatio float64
}

func (c Config) withDefaults() Config {
	if c.SampleInterval <= 0 {
		c.SampleInterval = defaultSampleInterval
	}
	if c.WarningRatio <= 0 {
		c.WarningRatio = defaultWarningRatio
	}
	if c.CriticalRatio <= 0 {
		c.CriticalRatio = defaultCriticalRatio
	}
	return c
}

// Governor tracks a global memory budget for worker admission. All mutation
// goes through atomic operations; there is no lock on the allocation path.
type Governor struct {
	cfg Config

	allocatedMB atomic.Int64
	// System memory sample, refreshed by RunSampler.
	systemTotalMB atomic.Int64
	systemUsedMB  atomic.Int64
	pressure      atomic.Int32
}

// Stats is a point-in-time view of the governor state.
type Stats struct {
	AllocatedMB   int
	CeilingMB     int
	AvailableMB   int
	SystemTotalMB int
	SystemUsedMB  int
	Pressure      Pressure
	Utilization   float64
}

// New constructs a Governor and seeds the system sample. The ceiling is the
// only input to admission; the sample feeds the pressure tier.
func New(cfg Config) *Governor {
	g := &Governor{cfg: cfg.withDefaults()}
	g.refreshSample()
	return g
}

// TryAllocate attempts to reserve mb megabytes against the ceiling. It
// returns a guard on success and false when the allocation would exceed the
// budget. The check-and-increment is a single compare-and-swap so the
// ceiling is never overshot by concurrent callers.
func (g *Governor) TryAllocate(mb int) (*AllocationGuard, bool) {
	if mb <= 0 {
		mb = 1
	}
	want := int64(mb)
	ceiling := int64(g.cfg.CeilingMB)
	for {
		cur := g.allocatedMB.Load()
		if cur+want > ceiling {
			logx.Log.Debug().
				Int("requested_mb", mb).
				Int64("allocated_mb", cur).
				Int64("ceiling_mb", ceiling).
				Msg("memory allocation denied")
			return nil, false
		}
		if g.allocatedMB.CompareAndSwap(cur, cur+want) {
			g.updatePressure()
			logx.Log.Debug().
				Int("granted_mb", mb).
				Int64("allocated_mb", cur+want).
				Msg("memory allocated")
			return &AllocationGuard{g: g, mb: want}, true
		}
	}
}

// release returns mb megabytes to the budget. Called by AllocationGuard only.
func (g *Governor) release(mb int64) {
	next := g.allocatedMB.Add(-mb)
	if next < 0 {
		// A negative total means a double release slipped past the guard;
		// clamp and complain loudly.
		g.allocatedMB.Store(0)
		logx.Log.Error().Int64("mb", mb).Msg("memory accounting underflow")
	}
	g.updatePressure()
}

// AllocatedMB reports the memory currently reserved by alive workers.
func (g *Governor) AllocatedMB() int { return int(g.allocatedMB.Load()) }

// CeilingMB reports the configured budget.
func (g *Governor) CeilingMB() int { return g.cfg.CeilingMB }

// Pressure reports the current pressure tier.
func (g *Governor) Pressure() Pressure { return Pressure(g.pressure.Load()) }

// Stats returns a snapshot of the governor counters.
func (g *Governor) Stats() Stats {
	allocated := int(g.allocatedMB.Load())
	total := int(g.systemTotalMB.Load())
	var util float64
	if total > 0 {
		util = float64(allocated) / float64(total)
	}
	return Stats{
		AllocatedMB:   allocated,
		CeilingMB:     g.cfg.CeilingMB,
		AvailableMB:   max(g.cfg.CeilingMB-allocated, 0),
		SystemTotalMB: total,
		SystemUsedMB:  int(g.systemUsedMB.Load()),
		Pressure:      g.Pressure(),
		Utilization:   util,
	}
}

// RunSampler refreshes the system memory sample every SampleInterval until
// ctx is canceled. Run it on its own goroutine.
func (g *Governor) RunSampler(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.refreshSample()
		case <-ctx.Done():
			return
		}
	}
}

func (g *Governor) refreshSample() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logx.Log.Warn().Err(err).Msg("system memory sample failed")
		return
	}
	g.setSample(int64(vm.Total/1024/1024), int64(vm.Used/1024/1024))
}

// setSample records a system memory observation and re-derives the pressure
// tier. Split out from refreshSample so tests can inject samples.
func (g *Governor) setSample(totalMB, usedMB int64) {
	g.systemTotalMB.Store(totalMB)
	g.systemUsedMB.Store(usedMB)
	g.updatePressure()
}

func (g *Governor) updatePressure() {
	total := g.systemTotalMB.Load()
	if total <= 0 {
		return
	}
	ratio := float64(g.allocatedMB.Load()) / float64(total)
	next := PressureNormal
	switch {
	case ratio >= g.cfg.CriticalRatio:
		next = PressureCritical
	case ratio >= g.cfg.WarningRatio:
		next = PressureWarning
	}
	prev := Pressure(g.pressure.Swap(int32(next)))
	if prev != next {
		ev := logx.Log.Info()
		if next == PressureCritical {
			ev = logx.Log.Warn()
		}
		ev.Str("from", prev.String()).
			Str("to", next.String()).
			Int64("allocated_mb", g.allocatedMB.Load()).
			Int64("system_total_mb", total).
			Msg("memory pressure changed")
	}
}
