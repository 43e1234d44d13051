package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"postpilot/internal/job"
	"postpilot/internal/publish"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

// minReloadInterval throttles non-forced reloads so bursts of external
// mutations don't hammer the backend.
const minReloadInterval = 5 * time.Second

// New creates a scheduler instance bound to a storage backend. The initial
// job set is loaded immediately so short-lived instances see the shared
// state without an explicit reload.
func New(cfg Config, store storage.Store, registry *publish.Registry, gate publish.Gate, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if registry == nil {
		registry = publish.NewRegistry()
	}
	if gate == nil {
		gate = publish.AllowAll()
	}

	s := &Service{
		log:      log,
		cfg:      cfg.withDefaults(),
		store:    store,
		registry: registry,
		gate:     gate,
		jobs:     map[string]*job.Job{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		newID:    uuid.NewString,
	}

	loaded, err := store.LoadJobs(context.Background())
	if err != nil {
		return nil, err
	}
	s.jobs = loaded
	s.lastReload = s.now()
	log.Info("scheduler initialized", logx.Int("jobs", len(loaded)))
	return s, nil
}

// Start launches the dispatch loop. It is a no-op when already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.tickReset = make(chan time.Duration, 1)
	stopCh := s.stopCh
	tickReset := s.tickReset
	interval := s.cfg.TickInterval
	s.mu.Unlock()

	s.log.Info("dispatch loop started",
		logx.Duration("tick", interval),
		logx.Int("workers", s.cfg.Workers))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case d := <-tickReset:
				ticker.Reset(d)
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// SetTickInterval changes the dispatch interval. Takes effect on the running
// loop without a restart; ignored for non-positive values.
func (s *Service) SetTickInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.cfg.TickInterval = d
	running := s.running
	tickReset := s.tickReset
	s.mu.Unlock()

	if running && tickReset != nil {
		// Drop a stale pending reset so the latest value wins.
		select {
		case <-tickReset:
		default:
		}
		select {
		case tickReset <- d:
		default:
		}
	}
	s.log.Info("tick interval changed", logx.Duration("tick", d))
}

// Stop halts the dispatch loop and waits for the in-flight tick to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("dispatch loop stopped")
}

// Running reports whether the dispatch loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Reload re-reads the storage backend and reconciles it with memory.
// Non-forced reloads are throttled; forced ones always hit the backend.
// A stale on-disk snapshot never overwrites an in-flight (RUNNING) job.
func (s *Service) Reload(ctx context.Context, force bool) error {
	return s.reload(ctx, force)
}

func (s *Service) reload(ctx context.Context, force bool) error {
	s.mu.Lock()
	if !force && s.now().Sub(s.lastReload) < minReloadInterval {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	loaded, err := s.store.LoadJobs(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReload = s.now()

	runningIDs := map[string]bool{}
	for id, j := range s.jobs {
		if j.Status == job.StatusRunning {
			runningIDs[id] = true
		}
	}

	if len(runningIDs) == 0 {
		// Nothing in flight to protect: adopt the snapshot wholesale.
		s.jobs = loaded
		s.log.Debug("full reload", logx.Int("jobs", len(loaded)))
		return nil
	}

	// Merge: RUNNING jobs keep their in-memory version untouched; every
	// other ID adopts the on-disk copy. Jobs present in memory but absent
	// from the snapshot are kept: a transient or partial snapshot must not
	// read as a deletion.
	adopted := 0
	for id, disk := range loaded {
		if runningIDs[id] {
			continue
		}
		if cur, ok := s.jobs[id]; ok && cur.Equal(disk) {
			continue
		}
		s.jobs[id] = disk
		adopted++
	}
	s.log.Debug("merge reload",
		logx.Int("adopted", adopted),
		logx.Int("protected_running", len(runningIDs)))
	return nil
}

// Snapshot returns a diagnostics view of the instance.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Running:      s.running,
		TickInterval: s.cfg.TickInterval,
		Workers:      s.cfg.Workers,
		Jobs:         len(s.jobs),
		ByStatus:     map[job.Status]int{},
	}
	for _, j := range s.jobs {
		snap.ByStatus[j.Status]++
		if j.Status.Dispatchable() && j.AccountID != "" {
			t := j.ScheduledAt
			if snap.NextDue == nil || t.Before(*snap.NextDue) {
				snap.NextDue = &t
			}
		}
	}
	return snap
}

// persist writes the given jobs through to storage. Used by every mutating
// operation so a crash immediately after never loses the change.
func (s *Service) persist(ctx context.Context, jobs ...*job.Job) error {
	m := make(map[string]*job.Job, len(jobs))
	for _, j := range jobs {
		m[j.ID] = j
	}
	return s.store.SaveJobs(ctx, m)
}
