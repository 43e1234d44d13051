package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"postpilot/internal/job"
	logx "postpilot/pkg/logx"
)

// scheduledTimeLayouts are the accepted ISO-8601 shapes, tried in order.
var scheduledTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseScheduledTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, job.NewValidationError("scheduled_time", raw, nil)
	}
	for _, layout := range scheduledTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, job.NewValidationError("scheduled_time", raw, nil)
}

// AddJob validates the input, creates the job and writes it through to
// storage before returning its ID. Initial status is PENDING when the
// scheduled time is already due, SCHEDULED otherwise.
func (s *Service) AddJob(ctx context.Context, p AddParams) (string, error) {
	if strings.TrimSpace(p.Content) == "" {
		return "", job.NewValidationError("content", p.Content, nil)
	}
	at, err := parseScheduledTime(p.ScheduledTime)
	if err != nil {
		return "", err
	}
	prio, err := job.ParsePriority(p.Priority)
	if err != nil {
		return "", err
	}
	platform, err := job.ParsePlatform(p.Platform)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	now := s.now()
	j := &job.Job{
		ID:          s.newID(),
		AccountID:   strings.TrimSpace(p.AccountID),
		Content:     p.Content,
		ScheduledAt: at,
		Priority:    prio,
		Platform:    platform,
		MaxRetries:  p.MaxRetries,
		CreatedAt:   now,
		LinkAff:     strings.TrimSpace(p.LinkAff),
	}
	if j.MaxRetries <= 0 {
		j.MaxRetries = s.cfg.MaxRetries
	}
	if at.After(now) {
		j.Status = job.StatusScheduled
		j.StatusMessage = "scheduled for " + at.Format(time.RFC3339)
	} else {
		j.Status = job.StatusPending
		j.StatusMessage = "pending dispatch"
	}
	s.jobs[j.ID] = j
	persisted := j.Clone()
	s.mu.Unlock()

	if err := s.persist(ctx, persisted); err != nil {
		// Write-through failed: the job must not exist only in memory.
		s.mu.Lock()
		delete(s.jobs, j.ID)
		s.mu.Unlock()
		return "", err
	}

	s.log.Info("job added",
		logx.String("job", j.ID),
		logx.String("account", j.AccountID),
		logx.String("platform", string(platform)),
		logx.String("priority", prio.String()),
		logx.Time("scheduled_at", at),
		logx.String("status", string(j.Status)))

	s.syncActive(ctx)
	return j.ID, nil
}

// RemoveJob deletes a job from memory and storage. Removing an unknown ID
// reports job.ErrNotFound; removing a RUNNING job reports job.ErrInFlight
// and the caller must wait for completion.
func (s *Service) RemoveJob(ctx context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return job.ErrNotFound
	}
	if j.Status == job.StatusRunning {
		s.mu.Unlock()
		return job.ErrInFlight
	}
	delete(s.jobs, id)
	s.mu.Unlock()

	if err := s.store.DeleteJob(ctx, id); err != nil && !errors.Is(err, job.ErrNotFound) {
		s.log.Error("job removed from memory but storage delete failed",
			logx.String("job", id), logx.Err(err))
		return err
	}

	s.log.Info("job removed", logx.String("job", id))
	s.syncActive(ctx)
	return nil
}

// GetJob returns a copy of the job, or job.ErrNotFound.
func (s *Service) GetJob(id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j.Clone(), nil
}

// ListJobs is a pure read over the in-memory cache. Results are ordered by
// dispatch order. A zero Page returns everything with nil pagination.
func (s *Service) ListJobs(f ListFilter, pg Page) ([]*job.Job, *Pagination) {
	s.mu.Lock()
	var out []*job.Job
	for _, j := range s.jobs {
		if f.AccountID != "" && j.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Platform != "" && j.Platform != f.Platform {
			continue
		}
		if f.From != nil && j.ScheduledAt.Before(*f.From) {
			continue
		}
		if f.To != nil && j.ScheduledAt.After(*f.To) {
			continue
		}
		out = append(out, j.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return job.Less(out[i], out[k]) })

	if pg.Limit <= 0 {
		return out, nil
	}
	page := pg.Page
	if page < 1 {
		page = 1
	}
	total := len(out)
	pages := (total + pg.Limit - 1) / pg.Limit
	start := (page - 1) * pg.Limit
	if start > total {
		start = total
	}
	end := start + pg.Limit
	if end > total {
		end = total
	}
	return out[start:end], &Pagination{Page: page, Limit: pg.Limit, Total: total, Pages: pages}
}

// UpdateJob changes editable fields of a job. Jobs that are RUNNING or
// COMPLETED reject updates with job.ErrNotEditable; nothing is changed.
func (s *Service) UpdateJob(ctx context.Context, id string, u Update) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return job.ErrNotFound
	}
	if j.Status == job.StatusRunning || j.Status == job.StatusCompleted {
		s.mu.Unlock()
		return job.ErrNotEditable
	}

	// Apply to a copy first: the in-memory record only changes once the
	// write-through succeeded.
	next := j.Clone()
	if u.Content != nil {
		if strings.TrimSpace(*u.Content) == "" {
			s.mu.Unlock()
			return job.NewValidationError("content", *u.Content, nil)
		}
		next.Content = *u.Content
	}
	if u.AccountID != nil {
		next.AccountID = strings.TrimSpace(*u.AccountID)
	}
	if u.Priority != nil {
		next.Priority = *u.Priority
	}
	if u.MaxRetries != nil && *u.MaxRetries > 0 {
		next.MaxRetries = *u.MaxRetries
	}
	if u.LinkAff != nil {
		next.LinkAff = strings.TrimSpace(*u.LinkAff)
	}
	if u.ScheduledTime != nil {
		next.ScheduledAt = *u.ScheduledTime
		// Re-derive the waiting state for jobs still in the queue.
		if next.Status.Dispatchable() {
			if next.ScheduledAt.After(s.now()) {
				next.Status = job.StatusScheduled
			} else {
				next.Status = job.StatusPending
			}
		}
	}
	s.mu.Unlock()

	if err := s.persist(ctx, next); err != nil {
		return err
	}

	s.mu.Lock()
	// The job may have been dispatched between unlock and persist; never
	// overwrite an in-flight record from an update path.
	if cur, ok := s.jobs[id]; ok && cur.Status != job.StatusRunning {
		s.jobs[id] = next
	}
	s.mu.Unlock()

	s.log.Info("job updated", logx.String("job", id))
	s.syncActive(ctx)
	return nil
}
