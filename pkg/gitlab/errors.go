package gitlab

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the non-retryable API failure classes. They surface
// immediately; only rate limiting is ever retried.
var (
	ErrNotFound     = errors.New("merge request not found")
	ErrAccessDenied = errors.New("access denied")
)

// RateLimitError is an HTTP 429 response. RetryAfter carries the
// server-suggested wait, or zero when the server sent none.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}
