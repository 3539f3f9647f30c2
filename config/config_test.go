package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/webitel/rpcmesh/internal/router"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, _, err := Load(nil, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8822 {
		t.Fatalf("Port = %d, want 8822", cfg.Port)
	}
	if cfg.HealthCheckInterval != 30*time.Second {
		t.Fatalf("HealthCheckInterval = %s, want 30s", cfg.HealthCheckInterval)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rpcmesh.yaml")
	if err := os.WriteFile(path, []byte("port: 9999\nhealth_check_interval: 5s\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.HealthCheckInterval != 5*time.Second {
		t.Fatalf("HealthCheckInterval = %s, want 5s", cfg.HealthCheckInterval)
	}
}

func TestLoadBindsFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("port", 1234, "")
	if err := fs.Parse([]string{"--port=4321"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, _, err := Load(fs, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4321 {
		t.Fatalf("Port = %d, want 4321", cfg.Port)
	}
}

func TestWatchReloadsMonitorKnobsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rpcmesh.yaml")
	if err := os.WriteFile(path, []byte("health_check_interval: 1h\nclient_inactivity_timeout: 1h\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, v, err := Load(nil, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	core := router.NewCore(
		router.WithHealthCheckInterval(time.Hour),
		router.WithInactivityTimeout(time.Hour),
		router.WithMailboxSize(16),
	)
	t.Cleanup(core.Shutdown)

	Watch(v, core, nil)

	if err := os.WriteFile(path, []byte("health_check_interval: 30ms\nclient_inactivity_timeout: 1h\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for core.HealthCheckInterval() != 30*time.Millisecond {
		select {
		case <-deadline:
			t.Fatalf("HealthCheckInterval never reloaded, still %s", core.HealthCheckInterval())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
