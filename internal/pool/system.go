package pool

import (
	"context"
	"time"

	"poold/internal/governor"
	"poold/pkg/types"
)

// System bundles the governor, the shutdown coordinator and the background
// loops into one unit with a single Start/Begin lifecycle. Capability pools
// are built against its governor and coordinator; the HTTP layer reads its
// Status.
type System struct {
	cfg    Config
	gov    *governor.Governor
	coord  *Coordinator
	health *HealthMonitor
	maint  *MaintenanceLoop
}

// NewSystem wires the shared pieces. Registries attach themselves to
// Coordinator() as capability pools are constructed.
func NewSystem(cfg Config, govCfg governor.Config, events EventPublisher) *System {
	cfg = cfg.withDefaults()
	if govCfg.CeilingMB == 0 {
		govCfg.CeilingMB = cfg.CeilingMB
	}
	gov := governor.New(govCfg)
	coord := NewCoordinator(events)
	return &System{
		cfg:    cfg,
		gov:    gov,
		coord:  coord,
		health: NewHealthMonitor(cfg, coord),
		maint:  NewMaintenanceLoop(cfg, coord, gov),
	}
}

func (s *System) Governor() *governor.Governor { return s.gov }
func (s *System) Coordinator() *Coordinator    { return s.coord }
func (s *System) Config() Config               { return s.cfg }

// Start launches the sampler, health and maintenance goroutines. They exit
// when ctx is canceled or shutdown terminates.
func (s *System) Start(ctx context.Context) {
	go s.gov.RunSampler(ctx)
	go s.health.Run(ctx)
	go s.maint.Run(ctx)
}

// Ready reports whether the system accepts requests.
func (s *System) Ready() bool { return !s.coord.IsShuttingDown() }

// Begin starts the shutdown drain with the configured timeout.
func (s *System) Begin() DrainResult { return s.coord.Begin(s.cfg.DrainTimeout) }

// Status assembles the full observability snapshot across every attached
// registry.
func (s *System) Status() types.StatusResponse {
	stats := s.gov.Stats()
	resp := types.StatusResponse{
		State: s.coord.State().String(),
		Memory: types.MemoryStatus{
			AllocatedMB:   stats.AllocatedMB,
			CeilingMB:     stats.CeilingMB,
			AvailableMB:   stats.AvailableMB,
			SystemTotalMB: stats.SystemTotalMB,
			SystemUsedMB:  stats.SystemUsedMB,
			Pressure:      stats.Pressure.String(),
			Utilization:   stats.Utilization,
		},
		Timestamp: time.Now().Unix(),
	}
	for _, m := range s.coord.Members() {
		resp.Identities = append(resp.Identities, m.Snapshot()...)
		resp.InFlight += m.PendingTotal()
		resp.Workers += m.WorkerCount()
	}
	resp.Health = s.healthWord(stats.Pressure)
	return resp
}

// healthWord condenses state and pressure into one operator-facing word.
func (s *System) healthWord(p governor.Pressure) string {
	switch {
	case s.coord.State() == StateTerminated:
		return "unhealthy"
	case s.coord.State() == StateDraining || p == governor.PressureCritical:
		return "degraded"
	default:
		return "healthy"
	}
}
