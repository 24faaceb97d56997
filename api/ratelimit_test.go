package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl := newLoginRateLimiter()
	for i := 0; i < maxFailures-1; i++ {
		rl.recordFailure("demo@example.com")
		blocked, _ := rl.check("demo@example.com")
		assert.False(t, blocked, "should not block before reaching maxFailures")
	}
}

func TestRateLimiter_BlocksAfterThreshold(t *testing.T) {
	rl := newLoginRateLimiter()
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("demo@example.com")
	}

	blocked, retryAfter := rl.check(" DEMO@example.com ")
	require.True(t, blocked, "emails are compared case-insensitively")
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestRateLimiter_ExponentialBackoff(t *testing.T) {
	rl := newLoginRateLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("a@example.com")
	}
	_, first := rl.check("a@example.com")
	assert.Equal(t, baseLockout, first)

	rl.recordFailure("a@example.com")
	_, second := rl.check("a@example.com")
	assert.Equal(t, 2*baseLockout, second)

	for i := 0; i < 10; i++ {
		rl.recordFailure("a@example.com")
	}
	_, capped := rl.check("a@example.com")
	assert.Equal(t, maxLockout, capped)
}

func TestRateLimiter_SuccessResetsCounter(t *testing.T) {
	rl := newLoginRateLimiter()
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("a@example.com")
	}
	blocked, _ := rl.check("a@example.com")
	require.True(t, blocked)

	rl.recordSuccess("a@example.com")
	blocked, _ = rl.check("a@example.com")
	assert.False(t, blocked)
}

func TestRateLimiter_IsolatesAccounts(t *testing.T) {
	rl := newLoginRateLimiter()
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("a@example.com")
	}
	blocked, _ := rl.check("b@example.com")
	assert.False(t, blocked)
}

func TestRateLimiter_SweepAndExpiry(t *testing.T) {
	rl := newLoginRateLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.recordFailure("a@example.com")
	rl.recordFailure("b@example.com")

	now = now.Add(attemptExpiry + time.Second)
	rl.sweep()
	assert.Empty(t, rl.attempts)
}

func TestWriteRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRateLimited(rec, 1500*time.Millisecond)
	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}
