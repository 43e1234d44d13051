package scheduler

import "time"

// backoffDelayLocked computes the reschedule delay for the given retry
// number (1-based): exponential doubling from RetryBase, capped at
// RetryMaxDelay, with symmetric jitter so retries from many jobs don't
// land on the same tick. Caller holds s.mu (the rng is not goroutine-safe).
func (s *Service) backoffDelayLocked(retry int) time.Duration {
	d := s.cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > s.cfg.RetryMaxDelay {
			d = s.cfg.RetryMaxDelay
			break
		}
	}
	if j := s.cfg.RetryJitter; j > 0 && s.rng != nil {
		r := (s.rng.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > s.cfg.RetryMaxDelay {
		d = s.cfg.RetryMaxDelay
	}
	return d
}
