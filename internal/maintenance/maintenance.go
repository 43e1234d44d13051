// Package maintenance runs the background housekeeping sweeps: periodic
// storage reloads to pick up externally edited job files, and retention
// compaction of old terminal jobs.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	logx "postpilot/pkg/logx"
)

// Compactor removes terminal jobs older than cutoff and reports how many
// jobs were dropped. The file backend implements it; relational backends
// handle retention with their own tooling and may be left nil.
type Compactor interface {
	CompactShards(ctx context.Context, cutoff time.Time) (int, error)
}

// Reloader re-reads persisted jobs into memory.
type Reloader interface {
	Reload(ctx context.Context, force bool) error
}

type Config struct {
	// CompactSpec is a standard 5-field cron expression.
	CompactSpec string
	Retention   time.Duration
	ReloadEvery time.Duration
}

type Service struct {
	cron      *cron.Cron
	log       logx.Logger
	cfg       Config
	compactor Compactor
	reloader  Reloader

	cancel context.CancelFunc
}

func New(cfg Config, compactor Compactor, reloader Reloader, log logx.Logger) *Service {
	return &Service{
		cron:      cron.New(),
		log:       log,
		cfg:       cfg,
		compactor: compactor,
		reloader:  reloader,
	}
}

// Start registers the sweeps and starts the cron scheduler. Returns an error
// only for an invalid cron spec; sweep failures are logged and retried on the
// next run.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.compactor != nil && s.cfg.Retention > 0 {
		if _, err := s.cron.AddFunc(s.cfg.CompactSpec, func() { s.compact(ctx) }); err != nil {
			return err
		}
	}
	if s.reloader != nil && s.cfg.ReloadEvery > 0 {
		if _, err := s.cron.AddFunc("@every "+s.cfg.ReloadEvery.String(), func() { s.reload(ctx) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.log.Info("maintenance started",
		logx.String("compact_spec", s.cfg.CompactSpec),
		logx.Duration("retention", s.cfg.Retention),
		logx.Duration("reload_every", s.cfg.ReloadEvery),
	)
	return nil
}

// Stop halts the cron scheduler and waits for in-flight sweeps to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.log.Info("maintenance stopped")
}

func (s *Service) compact(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.Retention)
	removed, err := s.compactor.CompactShards(ctx, cutoff)
	if err != nil {
		s.log.Warn("compaction sweep failed", logx.Err(err))
		return
	}
	if removed > 0 {
		s.log.Info("compaction sweep done",
			logx.Int("removed", removed),
			logx.Time("cutoff", cutoff),
		)
	}
}

func (s *Service) reload(ctx context.Context) {
	if err := s.reloader.Reload(ctx, false); err != nil {
		s.log.Warn("periodic reload failed", logx.Err(err))
	}
}
