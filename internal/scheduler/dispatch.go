package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"postpilot/internal/job"
	"postpilot/internal/publish"
	logx "postpilot/pkg/logx"
)

// Tick runs one dispatch pass: select due jobs, order them, publish each.
// One failing job never halts dispatch of the others. Exported so tests and
// CLI tooling can drive the loop without the ticker.
func (s *Service) Tick(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	var due []*job.Job
	for _, j := range s.jobs {
		if j.Due(now) {
			due = append(due, j)
		}
	}
	workers := s.cfg.Workers
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, k int) bool { return job.Less(due[i], due[k]) })

	ids := make([]string, len(due))
	for i, j := range due {
		ids[i] = j.ID
	}
	s.log.Debug("dispatch pass", logx.Int("due", len(ids)))

	if workers <= 1 {
		for _, id := range ids {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.dispatchOne(ctx, id)
		}
		return
	}

	// Worker-pool variant: explicit configuration choice, still draining the
	// whole pass before the next tick so passes never overlap.
	ch := make(chan string)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ch {
				s.dispatchOne(ctx, id)
			}
		}()
	}
	for _, id := range ids {
		select {
		case <-ctx.Done():
			close(ch)
			wg.Wait()
			return
		case ch <- id:
		}
	}
	close(ch)
	wg.Wait()
}

func (s *Service) dispatchOne(ctx context.Context, id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	now := s.now()
	// Re-check under the lock: the job may have been removed, updated or
	// already taken since the due set was collected.
	if !ok || !j.Due(now) || !job.CanTransition(j.Status, job.StatusRunning) {
		s.mu.Unlock()
		return
	}
	j.Status = job.StatusRunning
	started := now
	j.StartedAt = &started
	j.StatusMessage = "publishing"
	j.Error = ""
	snapshot := j.Clone()
	s.mu.Unlock()

	// Record the RUNNING transition so another instance reloading mid-flight
	// sees the job as taken. A storage error here is logged, not fatal.
	if err := s.persist(ctx, snapshot); err != nil {
		s.log.Error("failed persisting RUNNING transition", logx.String("job", id), logx.Err(err))
	}

	outcome := s.execute(ctx, snapshot)
	s.settle(ctx, id, outcome)
}

// execResult classifies one attempt for the settle step.
type execResult struct {
	completed bool
	postID    string
	policy    *job.PolicyViolationError
	errText   string
	ambiguous bool
	message   string
}

// execute runs the safety gate and the platform publisher for one attempt.
// Publisher panics are converted to failures so one bad composer can't kill
// the dispatch loop.
func (s *Service) execute(ctx context.Context, j *job.Job) execResult {
	allowed, reason, risk := s.gate.CanPost(j.AccountID, j.Content)
	if !allowed {
		pv := &job.PolicyViolationError{AccountID: j.AccountID, Reason: reason, Risk: string(risk)}
		s.gate.RecordPostError(j.AccountID, "policy_violation", reason)
		if risk == publish.RiskHigh {
			s.gate.RecordHighRiskEvent(j.AccountID, "blocked_post")
		}
		return execResult{policy: pv}
	}

	pub, err := s.registry.Resolve(j.Platform)
	if err != nil {
		return execResult{errText: err.Error(), message: "no publisher available"}
	}

	update := func(msg string) {
		s.setStatusMessage(j.ID, msg)
	}

	var outcome publish.Outcome
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("publisher panic: %v", r)
				s.log.Error("publisher panicked",
					logx.String("job", j.ID),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		outcome, err = pub.Publish(ctx, publish.Request{
			AccountID: j.AccountID,
			Content:   j.Content,
			LinkAff:   j.LinkAff,
		}, update)
	}()

	switch {
	case err != nil:
		return execResult{errText: err.Error(), message: "publish attempt errored"}
	case outcome.AmbiguousFailure:
		// Shadow fail: attempted but unconfirmed. Never completed; recording
		// a false success is strictly worse than retrying.
		text := outcome.Error
		if text == "" {
			text = "publish attempted but result unconfirmed"
		}
		return execResult{errText: text, ambiguous: true, message: "unconfirmed publish attempt"}
	case outcome.Success:
		return execResult{completed: true, postID: outcome.PlatformPostID}
	default:
		text := outcome.Error
		if text == "" {
			text = "publisher reported failure without detail"
		}
		return execResult{errText: text, message: "publish failed"}
	}
}

// settle applies the outcome: COMPLETED, FAILED, or rescheduled for retry.
func (s *Service) settle(ctx context.Context, id string, res execResult) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.Status != job.StatusRunning {
		s.mu.Unlock()
		return
	}
	now := s.now()

	var account string
	switch {
	case res.policy != nil:
		// Policy violations are terminal: never retried, and distinguishable
		// from platform errors in both status message and error text.
		j.Status = job.StatusFailed
		done := now
		j.CompletedAt = &done
		j.Error = job.SanitizeError(res.policy.Error())
		j.StatusMessage = "blocked by policy: " + res.policy.Reason

	case res.completed:
		j.Status = job.StatusCompleted
		done := now
		j.CompletedAt = &done
		j.Error = ""
		// PlatformPostID is confirmed-or-absent, never guessed.
		j.PlatformPostID = res.postID
		if res.postID != "" {
			j.StatusMessage = "published as " + res.postID
		} else {
			j.StatusMessage = "published (no confirmation id from platform)"
		}
		account = j.AccountID

	default:
		j.Error = job.SanitizeError(res.errText)
		if j.RetryCount < j.MaxRetries {
			j.RetryCount++
		}
		if j.RetryCount >= j.MaxRetries {
			j.Status = job.StatusFailed
			done := now
			j.CompletedAt = &done
			j.StatusMessage = fmt.Sprintf("failed after %d attempts: %s", j.RetryCount, res.message)
		} else {
			delay := s.backoffDelayLocked(j.RetryCount)
			j.Status = job.StatusScheduled
			j.ScheduledAt = now.Add(delay)
			j.StartedAt = nil
			j.StatusMessage = fmt.Sprintf("retry %d/%d in %s: %s",
				j.RetryCount, j.MaxRetries, delay.Round(time.Second), res.message)
		}
	}
	snapshot := j.Clone()
	s.mu.Unlock()

	if account != "" {
		s.gate.RecordPostSuccess(account, snapshot.Content)
	}
	if res.policy == nil && !res.completed {
		errType := "execution_error"
		if res.ambiguous {
			errType = "shadow_fail"
		}
		s.gate.RecordPostError(snapshot.AccountID, errType, snapshot.Error)
	}

	if err := s.persist(ctx, snapshot); err != nil {
		s.log.Error("failed persisting job outcome", logx.String("job", id), logx.Err(err))
	}

	switch snapshot.Status {
	case job.StatusCompleted:
		s.log.Info("job completed",
			logx.String("job", id),
			logx.String("account", snapshot.AccountID),
			logx.String("post_id", snapshot.PlatformPostID))
	case job.StatusFailed:
		s.log.Warn("job failed",
			logx.String("job", id),
			logx.String("account", snapshot.AccountID),
			logx.Int("retries", snapshot.RetryCount),
			logx.String("err", snapshot.Error))
	default:
		s.log.Info("job rescheduled for retry",
			logx.String("job", id),
			logx.Int("retry", snapshot.RetryCount),
			logx.Time("next_at", snapshot.ScheduledAt))
	}
}

// setStatusMessage is the StatusUpdater target: observational only, applied
// solely while the job is still RUNNING.
func (s *Service) setStatusMessage(id, msg string) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok && j.Status == job.StatusRunning {
		j.StatusMessage = msg
	}
	s.mu.Unlock()
}
