package storage

import (
	"context"
	"fmt"
	"time"

	"postpilot/internal/job"
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free date-sharded JSON files (default)
//   - "sqlite": SQLite database file
//   - "postgres": shared Postgres table (cross-process source of truth)
type Config struct {
	Driver string
	Path   string // file: shard directory; sqlite: database file
	DSN    string // postgres connection string

	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence contract shared by all backends.
//
// SaveJobs is an idempotent upsert and accepts partial sets: callers pass
// only the jobs they touched, existing records for other IDs are untouched.
type Store interface {
	LoadJobs(ctx context.Context) (map[string]*job.Job, error)
	SaveJobs(ctx context.Context, jobs map[string]*job.Job) error
	GetJob(ctx context.Context, id string) (*job.Job, error)
	GetJobsByStatus(ctx context.Context, status job.Status) ([]*job.Job, error)
	GetJobsByAccount(ctx context.Context, accountID string) ([]*job.Job, error)
	DeleteJob(ctx context.Context, id string) error
	Close() error
}

// Error wraps a backend fault with enough context for callers to decide on a
// fallback (e.g. relational backend unreachable -> use the file backend).
// Expected not-found lookups are job.ErrNotFound, never an *Error.
type Error struct {
	Driver string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %s: %v", e.Driver, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(driver, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Driver: driver, Op: op, Err: err}
}
