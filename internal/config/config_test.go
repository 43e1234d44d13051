package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./jobs.db
  busy_timeout: 2s
scheduler:
  tick_interval: 10s
  max_retries: 5
safety:
  daily_limit: 12
maintenance:
  enabled: true
  retention_days: 7
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging section mismatch: %+v", cfg.Logging)
	}

	st, err := cfg.Storage.ToStorage()
	if err != nil {
		t.Fatalf("ToStorage: %v", err)
	}
	if st.Driver != "sqlite" || st.BusyTimeout != 2*time.Second {
		t.Fatalf("storage section mismatch: %+v", st)
	}

	sc, err := cfg.Scheduler.ToScheduler()
	if err != nil {
		t.Fatalf("ToScheduler: %v", err)
	}
	if sc.TickInterval != 10*time.Second || sc.MaxRetries != 5 {
		t.Fatalf("scheduler section mismatch: %+v", sc)
	}

	if !cfg.Safety.GateEnabled() {
		t.Fatal("safety gate should default to enabled")
	}
	gate, err := cfg.Safety.ToRateGate()
	if err != nil || gate.DailyLimit != 12 {
		t.Fatalf("ToRateGate = %+v, %v", gate, err)
	}

	if cfg.Maintenance.Retention() != 7*24*time.Hour {
		t.Fatalf("Retention = %v", cfg.Maintenance.Retention())
	}
	if cfg.Maintenance.CompactSpec() != "0 3 * * *" {
		t.Fatalf("CompactSpec = %q", cfg.Maintenance.CompactSpec())
	}

	if m.Get() != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
storage:
  driver: file
  pth: /tmp/typo
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("misspelled field must be rejected")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler":{"tick_interval":"soon"}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.Scheduler.ToScheduler(); err == nil {
		t.Fatal("invalid duration must fail conversion")
	}
}

func TestDefaultsWhenSectionsOmitted(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"storage":{"driver":"file","path":"/tmp/jobs"}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Safety.GateEnabled() {
		t.Fatal("nil safety section must still enable the gate")
	}
	every, err := cfg.Maintenance.ReloadEvery()
	if err != nil || every != time.Minute {
		t.Fatalf("ReloadEvery = %v, %v", every, err)
	}

	sc, err := cfg.Scheduler.ToScheduler()
	if err != nil {
		t.Fatalf("ToScheduler: %v", err)
	}
	// Zero values here; the scheduler applies its own defaults.
	if sc.TickInterval != 0 || sc.Workers != 0 {
		t.Fatalf("omitted scheduler fields should stay zero: %+v", sc)
	}
}
