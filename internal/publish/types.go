package publish

import (
	"context"
)

// StatusUpdater is an optional progress sink. Publishers may call it with
// human-readable phase descriptions ("logging in", "uploading media", ...).
// It is purely observational and never affects control flow.
type StatusUpdater func(message string)

// NopStatus discards progress updates.
func NopStatus(string) {}

// Request carries everything a composer needs for one publishing attempt.
type Request struct {
	AccountID string
	Content   string

	// LinkAff, when set, is posted as a follow-up comment after the main
	// content.
	LinkAff string
}

// Outcome is the structured result of one publishing attempt.
//
// AmbiguousFailure marks the "shadow fail" case: the action appeared to be
// attempted but neither success nor an explicit error could be confirmed
// (e.g. the content is still sitting in the composer input with no
// corroborating signal). Such outcomes are always treated as
// failed-and-retryable, never completed; recording a false success is
// strictly worse than retrying.
//
// On success, PlatformPostID is either a confirmed identifier or empty.
// Publishers must not guess it from unrelated recent content.
type Outcome struct {
	Success          bool   `json:"success"`
	PlatformPostID   string `json:"platform_post_id,omitempty"`
	Error            string `json:"error,omitempty"`
	AmbiguousFailure bool   `json:"ambiguous_failure,omitempty"`
}

// Publisher performs one publishing attempt for a single platform.
// Implementations are expected to block for tens of seconds.
type Publisher interface {
	Publish(ctx context.Context, req Request, update StatusUpdater) (Outcome, error)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, req Request, update StatusUpdater) (Outcome, error)

func (f PublisherFunc) Publish(ctx context.Context, req Request, update StatusUpdater) (Outcome, error) {
	return f(ctx, req, update)
}

// RiskLevel grades a gate decision for operator visibility.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Gate is the pre-flight policy check consulted before every dispatch.
//
// A denial fails the job immediately as a policy violation; it is never
// retried. The Record* hooks keep per-account bookkeeping current: success
// feeds rate limiting, errors and high-risk events feed account health.
type Gate interface {
	CanPost(accountID, content string) (allowed bool, reason string, risk RiskLevel)
	RecordPostSuccess(accountID, content string)
	RecordPostError(accountID, errorType, message string)
	RecordHighRiskEvent(accountID, eventType string)
}

var _ Gate = (*RateGate)(nil)
var _ Gate = allowAll{}

// AllowAll returns a gate that permits everything and records nothing.
// Used in tests and when safety checks are explicitly disabled.
func AllowAll() Gate { return allowAll{} }

type allowAll struct{}

func (allowAll) CanPost(string, string) (bool, string, RiskLevel) { return true, "", RiskLow }
func (allowAll) RecordPostSuccess(string, string)                 {}
func (allowAll) RecordPostError(string, string, string)           {}
func (allowAll) RecordHighRiskEvent(string, string)               {}
