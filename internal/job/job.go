package job

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a scheduled post.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusScheduled Status = "SCHEDULED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

var allStatuses = []Status{StatusPending, StatusScheduled, StatusRunning, StatusCompleted, StatusFailed}

// ParseStatus accepts any casing ("pending", "Pending", "PENDING").
func ParseStatus(s string) (Status, error) {
	up := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range allStatuses {
		if up == st {
			return st, nil
		}
	}
	return "", NewValidationError("status", s, statusNames())
}

func statusNames() []string {
	out := make([]string, len(allStatuses))
	for i, st := range allStatuses {
		out[i] = string(st)
	}
	return out
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Dispatchable reports whether a due job in this status may be picked up
// by the dispatch loop.
func (s Status) Dispatchable() bool {
	return s == StatusPending || s == StatusScheduled
}

// CanTransition reports whether from -> to is a legal move in the state
// machine. Same-state writes are allowed so that persist-after-mutate paths
// don't have to special-case field-only updates.
func CanTransition(from, to Status) bool {
	if from == to {
		return !from.Terminal()
	}
	switch from {
	case StatusPending, StatusScheduled:
		return to == StatusRunning || to == StatusPending || to == StatusScheduled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusScheduled
	default:
		return false
	}
}

// Priority orders due jobs: higher dispatches first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "LOW",
	PriorityNormal: "NORMAL",
	PriorityHigh:   "HIGH",
	PriorityUrgent: "URGENT",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ParsePriority accepts any casing.
func ParsePriority(s string) (Priority, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if up == name {
			return p, nil
		}
	}
	return 0, NewValidationError("priority", s, []string{"LOW", "NORMAL", "HIGH", "URGENT"})
}

// MarshalText/UnmarshalText keep the JSON shard format and SQL rows readable
// ("URGENT" rather than 3).
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Platform identifies the publishing target.
type Platform string

const (
	PlatformThreads  Platform = "THREADS"
	PlatformFacebook Platform = "FACEBOOK"
)

var allPlatforms = []Platform{PlatformThreads, PlatformFacebook}

// ParsePlatform accepts any casing.
func ParsePlatform(s string) (Platform, error) {
	up := Platform(strings.ToUpper(strings.TrimSpace(s)))
	for _, p := range allPlatforms {
		if up == p {
			return p, nil
		}
	}
	return "", NewValidationError("platform", s, []string{string(PlatformThreads), string(PlatformFacebook)})
}

// Job is one scheduled publishing action.
//
// AccountID may be empty: imported drafts are allowed to exist unassigned and
// are skipped by the dispatch loop until an account is attached.
//
// PlatformPostID is only ever a confirmed identifier. When the platform gives
// no confirmation within the allotted wait, it stays empty on a completed job
// rather than being guessed from unrelated recent content.
type Job struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id,omitempty"`
	Content     string    `json:"content"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	Platform    Platform  `json:"platform"`

	MaxRetries int `json:"max_retries"`
	RetryCount int `json:"retry_count"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PlatformPostID string `json:"platform_post_id,omitempty"`
	StatusMessage  string `json:"status_message,omitempty"`
	Error          string `json:"error,omitempty"`

	// LinkAff is an optional secondary payload posted as a follow-up comment
	// after the main content (affiliate links and the like).
	LinkAff string `json:"link_aff,omitempty"`
}

// Due reports whether the job should be considered by a dispatch pass at now.
// Unassigned jobs are never due.
func (j *Job) Due(now time.Time) bool {
	return j.Status.Dispatchable() && j.AccountID != "" && !j.ScheduledAt.After(now)
}

// Clone returns a deep copy. The scheduler hands clones to callers so the
// authoritative in-memory record cannot be mutated behind its back.
func (j *Job) Clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Equal compares the persisted fields of two jobs. Used by merge-on-reload to
// detect whether an on-disk copy actually differs.
func (j *Job) Equal(o *Job) bool {
	if j == nil || o == nil {
		return j == o
	}
	return j.ID == o.ID &&
		j.AccountID == o.AccountID &&
		j.Content == o.Content &&
		j.ScheduledAt.Equal(o.ScheduledAt) &&
		j.Priority == o.Priority &&
		j.Status == o.Status &&
		j.Platform == o.Platform &&
		j.MaxRetries == o.MaxRetries &&
		j.RetryCount == o.RetryCount &&
		j.PlatformPostID == o.PlatformPostID &&
		j.StatusMessage == o.StatusMessage &&
		j.Error == o.Error &&
		j.LinkAff == o.LinkAff &&
		timePtrEqual(j.StartedAt, o.StartedAt) &&
		timePtrEqual(j.CompletedAt, o.CompletedAt)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Less orders jobs for dispatch: priority descending, scheduled time
// ascending, then creation order (created_at, id) so the sort is total and
// stable across reloads.
func Less(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
