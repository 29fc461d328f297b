package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RateLimitedError signals that the transport asked us to back off for
// RetryAfter before retrying the same call.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// AsRateLimited extracts the backoff duration from a rate-limit error.
func AsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// ErrStaleEdit marks edit/delete failures that are recoverable no-ops: the
// target message is unchanged, already gone, or no longer editable.
var ErrStaleEdit = errors.New("stale edit target")

// IsStaleEdit reports whether err is a recoverable edit/delete failure.
func IsStaleEdit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStaleEdit) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"message is not modified",
		"message to delete not found",
		"message to edit not found",
		"message can't be edited",
		"message can't be deleted",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
