package publish

import (
	"fmt"
	"sync"

	"postpilot/internal/job"
)

// Registry maps a platform to its Publisher. Adding a platform means
// registering an implementation here; the scheduler never branches on
// platform strings.
type Registry struct {
	mu         sync.RWMutex
	publishers map[job.Platform]Publisher
}

func NewRegistry() *Registry {
	return &Registry{publishers: map[job.Platform]Publisher{}}
}

func (r *Registry) Register(platform job.Platform, p Publisher) {
	r.mu.Lock()
	r.publishers[platform] = p
	r.mu.Unlock()
}

// Resolve returns the publisher for a platform, or an error when none is
// registered. A missing publisher is an execution-side configuration fault,
// not a validation error: the platform enum itself is valid.
func (r *Registry) Resolve(platform job.Platform) (Publisher, error) {
	r.mu.RLock()
	p, ok := r.publishers[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no publisher registered for platform %s", platform)
	}
	return p, nil
}

// Platforms lists the registered platforms (for diagnostics).
func (r *Registry) Platforms() []job.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]job.Platform, 0, len(r.publishers))
	for p := range r.publishers {
		out = append(out, p)
	}
	return out
}
