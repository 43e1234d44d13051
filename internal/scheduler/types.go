package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"postpilot/internal/job"
	"postpilot/internal/publish"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

// Config controls the dispatch loop and the retry policy.
//
// Workers defaults to 1: strictly serial dispatch, one publish in flight at a
// time, which bounds contention on any single account's browser session. A
// worker pool is an explicit configuration choice, not the default.
type Config struct {
	TickInterval time.Duration
	Workers      int

	MaxRetries    int           // default retry budget for new jobs
	RetryBase     time.Duration // first backoff delay
	RetryMaxDelay time.Duration // backoff cap
	RetryJitter   float64       // 0.2 = 20%
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Minute
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	return c
}

// Service is one scheduler instance.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	cfg      Config
	store    storage.Store
	registry *publish.Registry
	gate     publish.Gate

	jobs      map[string]*job.Job
	running   bool
	stopCh    chan struct{}
	tickReset chan time.Duration
	wg        sync.WaitGroup

	lastReload time.Time

	rng *rand.Rand // guarded by mu

	// test seams
	now   func() time.Time
	newID func() string
}

// ListFilter narrows ListJobs output. Zero values mean "no filter".
type ListFilter struct {
	AccountID string
	Status    job.Status
	Platform  job.Platform
	From      *time.Time // scheduled_at >= From
	To        *time.Time // scheduled_at <= To
}

// Page requests pagination; zero means "everything".
type Page struct {
	Page  int
	Limit int
}

// Pagination describes a paginated ListJobs result.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// AddParams is the external add-job input. Priority and Platform are
// case-insensitive enum names; ScheduledTime is ISO-8601.
type AddParams struct {
	AccountID     string
	Content       string
	ScheduledTime string
	Priority      string
	Platform      string
	LinkAff       string
	MaxRetries    int // 0 means the configured default
}

// Update carries the fields UpdateJob may change. Nil pointers leave the
// field untouched.
type Update struct {
	AccountID     *string
	Content       *string
	ScheduledTime *time.Time
	Priority      *job.Priority
	MaxRetries    *int
	LinkAff       *string
}

// Snapshot is a lightweight diagnostics view.
type Snapshot struct {
	Running      bool
	TickInterval time.Duration
	Workers      int
	Jobs         int
	ByStatus     map[job.Status]int
	NextDue      *time.Time
}
