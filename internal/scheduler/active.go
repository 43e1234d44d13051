package scheduler

import (
	"context"
	"sync"

	logx "postpilot/pkg/logx"
)

// The process-wide active instance: the one Service actually driving the
// dispatch loop. Set at long-lived-service startup, cleared at shutdown.
// Mutating call sites resolve the active instance instead of holding direct
// references, so stateless handlers and the running loop always act on the
// same logical job set.
var (
	activeMu sync.RWMutex
	active   *Service
)

// SetActive registers s as the process-wide active scheduler.
func SetActive(s *Service) {
	activeMu.Lock()
	active = s
	activeMu.Unlock()
}

// Active returns the registered active scheduler, or nil.
func Active() *Service {
	activeMu.RLock()
	defer activeMu.RUnlock()
	return active
}

// ClearActive unregisters the active scheduler. Callers should do this
// before stopping the instance they registered.
func ClearActive() {
	activeMu.Lock()
	active = nil
	activeMu.Unlock()
}

// Resolve returns the instance mutations should land on: the active one when
// registered, otherwise a private fallback built by the caller.
func Resolve(fallback func() (*Service, error)) (*Service, error) {
	if s := Active(); s != nil {
		return s, nil
	}
	return fallback()
}

// syncActive is called after every successful mutation. When the mutation
// landed on an instance other than the active one, the active instance
// absorbs the change from storage. Failures here are logged and deferred,
// never raised into the calling mutation; the next natural reload corrects
// the state.
func (s *Service) syncActive(ctx context.Context) {
	act := Active()
	if act == nil || act == s {
		return
	}
	if err := act.absorb(ctx); err != nil {
		act.log.Warn("active scheduler failed to absorb external mutation", logx.Err(err))
	}
}

// absorb refreshes the instance from storage: a full reload when nothing is
// in flight, a merge that protects RUNNING jobs otherwise.
func (s *Service) absorb(ctx context.Context) error {
	return s.reload(ctx, true)
}
