package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/ratelimit"
)

func TestTokenBucket_UnknownBeforeFirstUpdate(t *testing.T) {
	var b ratelimit.TokenBucket

	status := b.Status()

	assert.True(t, status.Unknown)
	assert.True(t, b.Allow(10, time.Now()), "an unknown bucket must not block calls")
}

func TestTokenBucket_UpdateReportsStatus(t *testing.T) {
	var b ratelimit.TokenBucket
	resetAt := time.Now().Add(time.Hour)

	b.Update(42, 5000, resetAt)
	status := b.Status()

	assert.False(t, status.Unknown)
	assert.Equal(t, 42, status.Remaining)
	assert.Equal(t, 5000, status.Limit)
	assert.Equal(t, resetAt, status.ResetAt)
}

func TestTokenBucket_AllowRespectsSafetyThreshold(t *testing.T) {
	var b ratelimit.TokenBucket
	b.Update(5, 5000, time.Now().Add(time.Hour))

	assert.False(t, b.Allow(10, time.Now()), "remaining below the safety threshold must block")
	assert.True(t, b.Allow(1, time.Now()), "remaining above the safety threshold must allow")
}

func TestTokenBucket_AllowAfterResetWindowPasses(t *testing.T) {
	var b ratelimit.TokenBucket
	b.Update(0, 5000, time.Now().Add(-time.Minute))

	assert.True(t, b.Allow(10, time.Now()), "a bucket past its reset time must allow again")
}

func TestTokenBucket_Seed(t *testing.T) {
	var b ratelimit.TokenBucket
	now := time.Now()

	b.Seed(1000, time.Hour, now)
	status := b.Status()

	assert.False(t, status.Unknown)
	assert.Equal(t, 1000, status.Remaining)
	assert.Equal(t, 1000, status.Limit)
	assert.Equal(t, now.Add(time.Hour), status.ResetAt)
}

func TestTokenBucket_Consume(t *testing.T) {
	var b ratelimit.TokenBucket
	b.Seed(3, time.Hour, time.Now())

	b.Consume()
	b.Consume()

	assert.Equal(t, 1, b.Status().Remaining)
}

func TestTokenBucket_ConsumeNoopWhenUnknown(t *testing.T) {
	var b ratelimit.TokenBucket

	b.Consume()

	assert.True(t, b.Status().Unknown)
}

func TestTokenBucket_ConsumeDoesNotGoNegative(t *testing.T) {
	var b ratelimit.TokenBucket
	b.Seed(0, time.Hour, time.Now())

	b.Consume()

	assert.Equal(t, 0, b.Status().Remaining)
}
