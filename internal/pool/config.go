package pool

import "time"

// Defaults applied when corresponding Config fields are unset.
const (
	defaultGenerateQueueCap   = 100
	defaultStreamQueueCap     = 20
	defaultEmbedQueueCap      = 100
	defaultBatchEmbedQueueCap = 50

	defaultIdleThreshold       = 60 * time.Second
	defaultMaintenanceInterval = 60 * time.Second
	defaultHealthInterval      = 5 * time.Second
	defaultMissedPingThreshold = 3
	defaultSpawnTimeout        = 2 * time.Minute
	defaultDrainTimeout        = 5 * time.Second
	defaultMaxWorkers          = 1
)

// Config encapsulates all pool tunables. The zero value of a field means
// "use the package default".
type Config struct {
	// CeilingMB is the admission budget for all workers across all
	// registries.
	CeilingMB int

	// Bounded channel capacity per operation. A full channel blocks the
	// sender (or fails fast, see FailFast), so queued memory is bounded by
	// capacity rather than request volume.
	GenerateQueueCap   int
	StreamQueueCap     int
	EmbedQueueCap      int
	BatchEmbedQueueCap int

	// FailFast makes a full operation channel an immediate overloaded
	// error instead of blocking the caller.
	FailFast bool

	// IdleThreshold is how long every worker of an identity must be quiet
	// before maintenance starts evicting.
	IdleThreshold       time.Duration
	MaintenanceInterval time.Duration

	HealthInterval      time.Duration
	MissedPingThreshold int

	// SpawnTimeout bounds how long a dispatcher waits on another caller's
	// in-flight spawn.
	SpawnTimeout time.Duration
	DrainTimeout time.Duration

	// MinWorkersPerIdentity keeps that many workers warm; maintenance
	// never evicts below it.
	MinWorkersPerIdentity int
	// MaxWorkersPerIdentity caps busy scale-up. The default of 1 disables
	// scale-up: one worker per identity until configured otherwise.
	MaxWorkersPerIdentity int
}

func (c Config) withDefaults() Config {
	if c.GenerateQueueCap <= 0 {
		c.GenerateQueueCap = defaultGenerateQueueCap
	}
	if c.StreamQueueCap <= 0 {
		c.StreamQueueCap = defaultStreamQueueCap
	}
	if c.EmbedQueueCap <= 0 {
		c.EmbedQueueCap = defaultEmbedQueueCap
	}
	if c.BatchEmbedQueueCap <= 0 {
		c.BatchEmbedQueueCap = defaultBatchEmbedQueueCap
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = defaultIdleThreshold
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = defaultMaintenanceInterval
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.MissedPingThreshold <= 0 {
		c.MissedPingThreshold = defaultMissedPingThreshold
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = defaultSpawnTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.MaxWorkersPerIdentity <= 0 {
		c.MaxWorkersPerIdentity = defaultMaxWorkers
	}
	if c.MinWorkersPerIdentity < 0 {
		c.MinWorkersPerIdentity = 0
	}
	return c
}
