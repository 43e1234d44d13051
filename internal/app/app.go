// Package app wires configuration, logging, storage, the safety gate, the
// publisher registry and the scheduler into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"postpilot/internal/config"
	"postpilot/internal/maintenance"
	"postpilot/internal/publish"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

type App struct {
	cfgMgr   *config.Manager
	log      logx.Logger
	store    storage.Store
	registry *publish.Registry
	sched    *scheduler.Service
	maint    *maintenance.Service

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the application from the config file at cfgPath. The scheduler
// is registered as the process-wide active instance; callers register
// platform publishers on Publishers() before Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	log := logx.New(cfg.Logging.ToLogx())
	mgr.SetLogger(log.With(logx.String("component", "config")))

	store, err := openStorage(cfg.Storage, log)
	if err != nil {
		log.Close()
		return nil, err
	}

	gate, err := buildGate(cfg.Safety, log)
	if err != nil {
		_ = store.Close()
		log.Close()
		return nil, err
	}

	registry := publish.NewRegistry()

	schedCfg, err := cfg.Scheduler.ToScheduler()
	if err != nil {
		_ = store.Close()
		log.Close()
		return nil, err
	}
	sched, err := scheduler.New(schedCfg, store, registry, gate, log.With(logx.String("component", "scheduler")))
	if err != nil {
		_ = store.Close()
		log.Close()
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	scheduler.SetActive(sched)

	maint, err := buildMaintenance(cfg.Maintenance, store, sched, log)
	if err != nil {
		scheduler.ClearActive()
		_ = store.Close()
		log.Close()
		return nil, err
	}

	return &App{
		cfgMgr:   mgr,
		log:      log,
		store:    store,
		registry: registry,
		sched:    sched,
		maint:    maint,
	}, nil
}

// openStorage opens the configured backend. When a relational backend is
// unreachable and fallback_to_file is set, it degrades to the file backend so
// the scheduler can keep running from local shards.
func openStorage(cfg config.StorageConfig, log logx.Logger) (storage.Store, error) {
	scfg, err := cfg.ToStorage()
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(scfg, log)
	if err == nil {
		return st, nil
	}

	var serr *storage.Error
	driver := strings.ToLower(strings.TrimSpace(scfg.Driver))
	relational := driver == "sqlite" || driver == "sqlite3" || driver == "postgres" || driver == "pg"
	if cfg.FallbackToFile && relational && cfg.Path != "" && errors.As(err, &serr) {
		log.Warn("relational storage unavailable; falling back to file backend",
			logx.String("driver", scfg.Driver),
			logx.String("path", cfg.Path),
			logx.Err(err),
		)
		return storage.Open(storage.Config{Driver: "file", Path: cfg.Path}, log)
	}
	return nil, fmt.Errorf("open storage: %w", err)
}

func buildGate(cfg *config.SafetyConfig, log logx.Logger) (publish.Gate, error) {
	if !cfg.GateEnabled() {
		log.Warn("safety gate disabled; posts go out without pre-flight checks")
		return publish.AllowAll(), nil
	}
	gcfg, err := cfg.ToRateGate()
	if err != nil {
		return nil, err
	}
	return publish.NewRateGate(gcfg, log.With(logx.String("component", "gate"))), nil
}

func buildMaintenance(cfg *config.MaintenanceConfig, store storage.Store, sched *scheduler.Service, log logx.Logger) (*maintenance.Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	every, err := cfg.ReloadEvery()
	if err != nil {
		return nil, err
	}
	// Only the file backend supports shard compaction.
	compactor, _ := store.(maintenance.Compactor)
	mcfg := maintenance.Config{
		CompactSpec: cfg.CompactSpec(),
		Retention:   cfg.Retention(),
		ReloadEvery: every,
	}
	return maintenance.New(mcfg, compactor, sched, log.With(logx.String("component", "maintenance"))), nil
}

// Publishers exposes the platform registry for wiring concrete clients.
func (a *App) Publishers() *publish.Registry { return a.registry }

// Scheduler exposes the job API (AddJob, ListJobs, ...).
func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.sched.Start(runCtx)
	if a.maint != nil {
		if err := a.maint.Start(runCtx); err != nil {
			a.sched.Stop()
			cancel()
			return fmt.Errorf("start maintenance: %w", err)
		}
	}

	// Live config: only the log level is re-applied in place. Storage and
	// scheduler changes need a restart and are called out in the log.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx, a.applyConfig)
	}()

	a.started = true
	a.log.Info("postpilot started",
		logx.Int("platforms", len(a.registry.Platforms())),
	)
	return nil
}

// applyConfig runs on the config watcher goroutine. Log level and the
// dispatch tick are hot; everything else needs a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.mu.Lock()
	a.log = a.log.SetLevel(cfg.Logging.Level)
	log := a.log
	a.mu.Unlock()
	log.Info("log level re-applied", logx.String("level", cfg.Logging.Level))

	if tick, err := config.ParseDurationField("scheduler.tick_interval", cfg.Scheduler.TickInterval); err == nil && tick > 0 {
		a.sched.SetTickInterval(tick)
	}
	log.Info("storage and retry settings apply on next restart")
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	cancel := a.cancel
	a.mu.Unlock()

	if a.maint != nil {
		a.maint.Stop()
	}
	a.sched.Stop()
	scheduler.ClearActive()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	err := a.store.Close()
	a.mu.Lock()
	log := a.log
	a.mu.Unlock()
	log.Info("postpilot stopped")
	_ = log.Close()
	return err
}
