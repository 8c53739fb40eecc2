package claudeweb

import (
	"fmt"
	"time"
)

// AuthenticationError reports that the upstream rejected the account's
// credentials. It is diagnostic: callers may mark the account invalid.
type AuthenticationError struct {
	StatusCode int
	Message    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("claude-web authentication rejected (HTTP %d): %s", e.StatusCode, e.Message)
}

// RateLimitedError reports an upstream 429. ResetsAt is nil when the
// upstream gave no usable reset instant.
type RateLimitedError struct {
	ResetsAt *time.Time
	Message  string
}

func (e *RateLimitedError) Error() string {
	if e.ResetsAt != nil {
		return fmt.Sprintf("claude-web rate limited until %s", e.ResetsAt.Format(time.RFC3339))
	}
	return "claude-web rate limited"
}
