package types

// WorkerStatus describes one alive worker.
type WorkerStatus struct {
	WorkerID   uint64 `json:"worker_id"`
	Pending    int    `json:"pending"`
	QueueDepth int    `json:"queue_depth"`
	LastActive int64  `json:"last_active"`
	CostMB     int    `json:"cost_mb"`
}

// IdentityStatus aggregates the workers serving one registry identity.
type IdentityStatus struct {
	Identity   string         `json:"identity"`
	Capability string         `json:"capability"`
	Workers    []WorkerStatus `json:"workers"`
	Total      int            `json:"total"`
	Busy       int            `json:"busy"`
	Idle       int            `json:"idle"`
	QueueDepth int            `json:"queue_depth"`
}

// MemoryStatus reports the governor counters.
type MemoryStatus struct {
	AllocatedMB   int     `json:"allocated_mb"`
	CeilingMB     int     `json:"ceiling_mb"`
	AvailableMB   int     `json:"available_mb"`
	SystemTotalMB int     `json:"system_total_mb"`
	SystemUsedMB  int     `json:"system_used_mb"`
	Pressure      string  `json:"pressure"`
	Utilization   float64 `json:"utilization"`
}

// StatusResponse is the full pool status served on /status.
type StatusResponse struct {
	State      string           `json:"state"`
	Health     string           `json:"health"`
	Identities []IdentityStatus `json:"identities"`
	Memory     MemoryStatus     `json:"memory"`
	InFlight   int              `json:"in_flight"`
	Workers    int              `json:"workers"`
	Timestamp  int64            `json:"timestamp"`
}

// ErrorResponse is the JSON error payload for HTTP endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
