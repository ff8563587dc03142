package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "poold.yaml", `
addr: ":9090"
ceiling_mb: 4096
fail_fast: true
idle_threshold_sec: 30
models:
  - identity: llm-a
    capability: generate
    provider: stub
    cost_mb: 1024
  - identity: emb-a
    capability: embed
    provider: stub
    cost_mb: 256
    embed_dim: 16
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.CeilingMB != 4096 || !cfg.FailFast {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(cfg.Models))
	}
	if m := cfg.Models[1]; m.Identity != "emb-a" || m.Capability != "embed" || m.EmbedDim != 16 {
		t.Fatalf("unexpected model: %+v", m)
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, "poold.json", `{"addr":":8081","ceiling_mb":2048,"models":[{"identity":"llm-a","capability":"generate","provider":"stub","cost_mb":512}]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.CeilingMB != 2048 || len(cfg.Models) != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeFile(t, "poold.toml", `
addr = ":8082"
ceiling_mb = 1024

[[models]]
identity = "llm-a"
capability = "generate"
provider = "stub"
cost_mb = 256
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8082" || cfg.CeilingMB != 1024 || len(cfg.Models) != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	p := writeFile(t, "poold.ini", "addr=:8080")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestPoolConfigConversion(t *testing.T) {
	cfg := Config{
		CeilingMB:              4096,
		IdleThresholdSec:       30,
		MaintenanceIntervalSec: 10,
		HealthIntervalSec:      2,
		SpawnTimeoutSec:        60,
		DrainTimeoutSec:        7,
		MaxWorkersPerIdentity:  3,
	}
	pc := cfg.PoolConfig()
	if pc.CeilingMB != 4096 || pc.IdleThreshold != 30*time.Second {
		t.Fatalf("unexpected pool config: %+v", pc)
	}
	if pc.MaintenanceInterval != 10*time.Second || pc.HealthInterval != 2*time.Second {
		t.Fatalf("unexpected intervals: %+v", pc)
	}
	if pc.SpawnTimeout != time.Minute || pc.DrainTimeout != 7*time.Second {
		t.Fatalf("unexpected timeouts: %+v", pc)
	}
	if pc.MaxWorkersPerIdentity != 3 {
		t.Fatalf("unexpected max workers: %+v", pc)
	}
	if gc := cfg.GovernorConfig(); gc.CeilingMB != 4096 {
		t.Fatalf("unexpected governor config: %+v", gc)
	}
}
