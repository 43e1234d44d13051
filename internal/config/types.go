package config

import (
	"time"

	"postpilot/internal/publish"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

// Config is the full application configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// YAML and JSON are both accepted; YAML is coerced to JSON so the same
// strict decoder (DisallowUnknownFields) covers both.
type Config struct {
	Logging     LoggingConfig      `json:"logging"`
	Storage     StorageConfig      `json:"storage"`
	Scheduler   SchedulerConfig    `json:"scheduler"`
	Safety      *SafetyConfig      `json:"safety,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file"`
}

// StorageConfig selects and tunes the persistence backend.
//
// Example:
//
//	"storage": { "driver": "postgres", "dsn": "postgres://...", "fallback_to_file": true, "path": "./data/jobs" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	// FallbackToFile opens the file backend at Path when the relational
	// backend is unreachable at startup.
	FallbackToFile bool `json:"fallback_to_file,omitempty"`
}

// SchedulerConfig controls the dispatch loop and retry policy.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "30s"
//   - workers: 1 (strictly serial dispatch)
//   - max_retries: 3
//   - retry_base: "30s", retry_max_delay: "15m", retry_jitter: 0.2
type SchedulerConfig struct {
	TickInterval  string  `json:"tick_interval,omitempty"`
	Workers       int     `json:"workers,omitempty"`
	MaxRetries    int     `json:"max_retries,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	RetryJitter   float64 `json:"retry_jitter,omitempty"`
}

// SafetyConfig tunes the per-account posting gate. If the whole section is
// omitted the gate defaults to enabled with stock limits; set enabled=false
// to run without pre-flight checks (tests, dry runs).
type SafetyConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	MinInterval  string `json:"min_interval,omitempty"`
	Burst        int    `json:"burst,omitempty"`
	DailyLimit   int    `json:"daily_limit,omitempty"`
	FreezeAfter  string `json:"freeze_after,omitempty"`
	MaxRiskScore int    `json:"max_risk_score,omitempty"`
}

// MaintenanceConfig controls the cron sweeps.
type MaintenanceConfig struct {
	Enabled         bool   `json:"enabled"`
	CompactSchedule string `json:"compact_schedule,omitempty"` // cron spec, default "0 3 * * *"
	RetentionDays   int    `json:"retention_days,omitempty"`   // default 30
	ReloadInterval  string `json:"reload_interval,omitempty"`  // default "1m"
}

func (c LoggingConfig) ToLogx() logx.Config {
	out := logx.Config{Level: c.Level, Console: c.Console}
	out.File.Enabled = c.File.Enabled
	out.File.Path = c.File.Path
	return out
}

func (c StorageConfig) ToStorage() (storage.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		DSN:         c.DSN,
		BusyTimeout: busy,
	}, nil
}

func (c SchedulerConfig) ToScheduler() (scheduler.Config, error) {
	tick, err := ParseDurationField("scheduler.tick_interval", c.TickInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	base, err := ParseDurationField("scheduler.retry_base", c.RetryBase)
	if err != nil {
		return scheduler.Config{}, err
	}
	maxDelay, err := ParseDurationField("scheduler.retry_max_delay", c.RetryMaxDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		TickInterval:  tick,
		Workers:       c.Workers,
		MaxRetries:    c.MaxRetries,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		RetryJitter:   c.RetryJitter,
	}, nil
}

// GateEnabled reports whether the safety gate should run.
func (c *SafetyConfig) GateEnabled() bool {
	if c == nil || c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

func (c *SafetyConfig) ToRateGate() (publish.RateGateConfig, error) {
	if c == nil {
		return publish.RateGateConfig{}, nil
	}
	minInterval, err := ParseDurationField("safety.min_interval", c.MinInterval)
	if err != nil {
		return publish.RateGateConfig{}, err
	}
	freeze, err := ParseDurationField("safety.freeze_after", c.FreezeAfter)
	if err != nil {
		return publish.RateGateConfig{}, err
	}
	return publish.RateGateConfig{
		MinInterval:  minInterval,
		Burst:        c.Burst,
		DailyLimit:   c.DailyLimit,
		FreezeAfter:  freeze,
		MaxRiskScore: c.MaxRiskScore,
	}, nil
}

func (c *MaintenanceConfig) CompactSpec() string {
	if c == nil || c.CompactSchedule == "" {
		return "0 3 * * *"
	}
	return c.CompactSchedule
}

func (c *MaintenanceConfig) Retention() time.Duration {
	days := 30
	if c != nil && c.RetentionDays > 0 {
		days = c.RetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c *MaintenanceConfig) ReloadEvery() (time.Duration, error) {
	if c == nil {
		return time.Minute, nil
	}
	return ParseDurationOrDefault("maintenance.reload_interval", c.ReloadInterval, time.Minute)
}
