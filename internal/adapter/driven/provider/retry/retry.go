// Package retry applies exponential backoff with jitter to a provider
// adapter's transient failures (5xx, timeouts, network errors), surfacing
// driven.ErrProviderUnavailable once the attempt budget is exhausted.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

// Policy configures the retry loop. NewPolicy fills in the 30-second
// MaxDelay; a zero Policy makes a single attempt with no retries.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

// NewPolicy returns a Policy with the given max attempts and base backoff
// delay, capping each individual backoff wait at 30 seconds.
func NewPolicy(maxAttempts int, baseDelay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, MaxDelay: 30 * time.Second}
}

// Transient is implemented by errors an adapter's HTTP layer raises for
// retryable failures (5xx, timeout, connection reset). Errors not
// implementing this interface are returned to the caller immediately
// without retrying.
type Transient interface {
	error
	Temporary() bool
}

// Do runs fn under the policy's exponential backoff, retrying only when fn's
// error satisfies Transient and reports true. On final failure it wraps the
// last error with driven.ErrProviderUnavailable.
func Do(ctx context.Context, label string, policy Policy, fn func(ctx context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.BaseDelay
	exp.MaxInterval = policy.MaxDelay
	exp.MaxElapsedTime = 0 // bounded by WithMaxRetries below, not elapsed time

	bo := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(policy.MaxAttempts)), ctx)

	attempt := 0
	var lastErr error

	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var transient Transient
		if !errors.As(err, &transient) || !transient.Temporary() {
			return backoff.Permanent(err)
		}

		lastErr = err
		slog.Warn("retrying transient provider failure", "operation", label, "attempt", attempt, "error", err)
		return err
	}

	if err := backoff.Retry(op, bo); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		if lastErr != nil {
			return fmt.Errorf("%s: %w: %w", label, driven.ErrProviderUnavailable, lastErr)
		}
		return fmt.Errorf("%s: %w: %w", label, driven.ErrProviderUnavailable, err)
	}

	return nil
}
