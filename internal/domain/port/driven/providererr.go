package driven

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel provider error kinds. ProviderAdapter implementations wrap one of
// these with fmt.Errorf("...: %w", ...) so callers can classify a failure
// with errors.Is regardless of which provider produced it.
var (
	// ErrInvalidCredentials means the token was rejected or has expired.
	ErrInvalidCredentials = errors.New("invalid or expired credentials")
	// ErrForbidden means the credential is valid but lacks scope for the
	// requested resource.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means the requested resource does not exist at the
	// provider, including "deleted since last poll".
	ErrNotFound = errors.New("not found")
	// ErrProviderUnavailable means a 5xx, timeout, DNS, or TLS failure at
	// the provider; the adapters return it without retrying first.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrNotMergeable means the provider rejected a merge because the PR
	// cannot be merged in its current state.
	ErrNotMergeable = errors.New("pull request is not mergeable")
	// ErrMergeConflict means the provider rejected a merge due to a
	// conflicting base branch.
	ErrMergeConflict = errors.New("merge conflict")
)

// RateLimitError indicates the adapter's rate-limit safety threshold was
// breached and no HTTP call was issued. The caller (Polling Scheduler)
// reschedules the repository's next poll at ResetAt, with no jitter, instead of
// treating this as an error.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exhausted, resets at %s", e.ResetAt.Format(time.RFC3339))
}
