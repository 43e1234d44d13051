package job

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotFound signals an unknown job ID. It is an expected outcome for
// idempotent "delete if exists" flows, not a fault; callers match it with
// errors.Is rather than treating it as fatal.
var ErrNotFound = errors.New("job not found")

// ErrNotEditable signals an update attempt against a RUNNING or COMPLETED job.
var ErrNotEditable = errors.New("job is not editable in its current status")

// ErrInFlight signals a cancel attempt against a RUNNING job. The caller must
// wait for the execution to finish.
var ErrInFlight = errors.New("cannot cancel in-flight job")

// ValidationError reports bad add/update input. It names the offending value
// and, for enum fields, the allowed set.
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
}

func NewValidationError(field, value string, allowed []string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Allowed: allowed}
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s: %q (allowed: %s)", e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

// ExecutionError records a failed or ambiguous publishing attempt.
// Ambiguous means the action appeared to be attempted but neither success nor
// an explicit error could be confirmed; such attempts are always retryable.
type ExecutionError struct {
	Platform  Platform
	Ambiguous bool
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("%s publish unconfirmed: %v", e.Platform, e.Err)
	}
	return fmt.Sprintf("%s publish failed: %v", e.Platform, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// PolicyViolationError records a Safety Gate denial. Distinct from
// ExecutionError so operators can tell "blocked by policy" from "platform
// error"; never retried.
type PolicyViolationError struct {
	AccountID string
	Reason    string
	Risk      string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("posting blocked for account %s: %s (risk=%s)", e.AccountID, e.Reason, e.Risk)
}

// secretPattern matches key=value / key: value pairs whose key looks like a
// credential. Error text from browser automation can echo full URLs or env
// dumps, so anything persisted on a job record goes through SanitizeError.
var secretPattern = regexp.MustCompile(`(?i)(token|password|passwd|secret|api[_-]?key|authorization|cookie)\s*[=:]\s*\S+`)

// SanitizeError redacts credential-looking fragments from raw error text
// before it is stored on a job record or logged.
func SanitizeError(msg string) string {
	return secretPattern.ReplaceAllString(msg, "$1=[redacted]")
}
