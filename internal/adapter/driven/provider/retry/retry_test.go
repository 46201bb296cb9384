package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/retry"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

type transientErr struct{ msg string }

func (e *transientErr) Error() string   { return e.msg }
func (e *transientErr) Temporary() bool { return true }

type permanentErr struct{ msg string }

func (e *permanentErr) Error() string { return e.msg }

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), "op", retry.NewPolicy(3, time.Millisecond), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), "op", retry.NewPolicy(3, time.Millisecond), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &transientErr{msg: "temporary failure"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsPermanentErrorImmediately(t *testing.T) {
	calls := 0
	sentinel := &permanentErr{msg: "bad request"}
	err := retry.Do(context.Background(), "op", retry.NewPolicy(3, time.Millisecond), func(ctx context.Context) error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "a non-transient error must not be retried")
	assert.ErrorIs(t, err, sentinel)
}

func TestDo_ExhaustsRetriesAndWrapsProviderUnavailable(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), "op", retry.NewPolicy(2, time.Millisecond), func(ctx context.Context) error {
		calls++
		return &transientErr{msg: "still failing"}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrProviderUnavailable)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retry.Do(ctx, "op", retry.NewPolicy(5, time.Millisecond), func(ctx context.Context) error {
		calls++
		return &transientErr{msg: "still failing"}
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2, "a cancelled context should stop retries quickly")
}
