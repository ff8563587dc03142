package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"poold/internal/governor"
	"poold/internal/pool"
)

// ModelConfig declares one model the daemon can serve. Capability selects
// the pool (generate or embed); Provider selects the loader backend.
type ModelConfig struct {
	Identity   string `json:"identity" yaml:"identity" toml:"identity"`
	Capability string `json:"capability" yaml:"capability" toml:"capability"`
	Provider   string `json:"provider" yaml:"provider" toml:"provider"`
	CostMB     int    `json:"cost_mb" yaml:"cost_mb" toml:"cost_mb"`
	// EmbedDim is used by the stub embed provider.
	EmbedDim int `json:"embed_dim,omitempty" yaml:"embed_dim,omitempty" toml:"embed_dim,omitempty"`
}

// Config holds runtime parameters for the daemon. Zero values mean
// "unspecified" and fall back to pool defaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	CeilingMB int    `json:"ceiling_mb" yaml:"ceiling_mb" toml:"ceiling_mb"`

	GenerateQueueCap   int  `json:"generate_queue_cap" yaml:"generate_queue_cap" toml:"generate_queue_cap"`
	StreamQueueCap     int  `json:"stream_queue_cap" yaml:"stream_queue_cap" toml:"stream_queue_cap"`
	EmbedQueueCap      int  `json:"embed_queue_cap" yaml:"embed_queue_cap" toml:"embed_queue_cap"`
	BatchEmbedQueueCap int  `json:"batch_embed_queue_cap" yaml:"batch_embed_queue_cap" toml:"batch_embed_queue_cap"`
	FailFast           bool `json:"fail_fast" yaml:"fail_fast" toml:"fail_fast"`

	IdleThresholdSec       int `json:"idle_threshold_sec" yaml:"idle_threshold_sec" toml:"idle_threshold_sec"`
	MaintenanceIntervalSec int `json:"maintenance_interval_sec" yaml:"maintenance_interval_sec" toml:"maintenance_interval_sec"`
	HealthIntervalSec      int `json:"health_interval_sec" yaml:"health_interval_sec" toml:"health_interval_sec"`
	MissedPingThreshold    int `json:"missed_ping_threshold" yaml:"missed_ping_threshold" toml:"missed_ping_threshold"`
	SpawnTimeoutSec        int `json:"spawn_timeout_sec" yaml:"spawn_timeout_sec" toml:"spawn_timeout_sec"`
	DrainTimeoutSec        int `json:"drain_timeout_sec" yaml:"drain_timeout_sec" toml:"drain_timeout_sec"`

	MinWorkersPerIdentity int `json:"min_workers_per_identity" yaml:"min_workers_per_identity" toml:"min_workers_per_identity"`
	MaxWorkersPerIdentity int `json:"max_workers_per_identity" yaml:"max_workers_per_identity" toml:"max_workers_per_identity"`

	Models []ModelConfig `json:"models" yaml:"models" toml:"models"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// PoolConfig converts the file representation to pool tunables. Unset
// fields stay zero so pool defaults apply.
func (c Config) PoolConfig() pool.Config {
	return pool.Config{
		CeilingMB:             c.CeilingMB,
		GenerateQueueCap:      c.GenerateQueueCap,
		StreamQueueCap:        c.StreamQueueCap,
		EmbedQueueCap:         c.EmbedQueueCap,
		BatchEmbedQueueCap:    c.BatchEmbedQueueCap,
		FailFast:              c.FailFast,
		IdleThreshold:         time.Duration(c.IdleThresholdSec) * time.Second,
		MaintenanceInterval:   time.Duration(c.MaintenanceIntervalSec) * time.Second,
		HealthInterval:        time.Duration(c.HealthIntervalSec) * time.Second,
		MissedPingThreshold:   c.MissedPingThreshold,
		SpawnTimeout:          time.Duration(c.SpawnTimeoutSec) * time.Second,
		DrainTimeout:          time.Duration(c.DrainTimeoutSec) * time.Second,
		MinWorkersPerIdentity: c.MinWorkersPerIdentity,
		MaxWorkersPerIdentity: c.MaxWorkersPerIdentity,
	}
}

// GovernorConfig derives the governor tunables.
func (c Config) GovernorConfig() governor.Config {
	return governor.Config{CeilingMB: c.CeilingMB}
}
