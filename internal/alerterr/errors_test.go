package alerterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := Throttled("price")
	assert.Equal(t, `THROTTLED: request queue full for feed "price"`, err.Error())

	cause := errors.New("connection reset")
	wrapped := FeedUnavailable("wallet", cause)
	assert.Contains(t, wrapped.Error(), "FEED_UNAVAILABLE")
	assert.Contains(t, wrapped.Error(), "connection reset")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial timeout")
	err := Transient("fetch prices", cause)

	assert.ErrorIs(t, err, cause)

	// Codes survive an extra layer of fmt wrapping.
	outer := fmt.Errorf("tick failed: %w", err)
	assert.Equal(t, CodeTransient, CodeOf(outer))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsThrottled(Throttled("price")))
	assert.True(t, IsFeedUnavailable(FeedUnavailable("price", nil)))
	assert.True(t, IsMalformedCondition(MalformedCondition("a1", errors.New("bad json"))))
	assert.True(t, IsQuotaExceeded(QuotaExceeded(1, "alerts", 3)))
	assert.True(t, IsDispatchFailed(DispatchFailed("a1", errors.New("no ack"))))
	assert.True(t, IsConflict(Conflict("concurrent trigger commit")))

	assert.False(t, IsThrottled(FeedUnavailable("price", nil)))
	assert.False(t, IsConflict(errors.New("plain")))
	assert.False(t, IsQuotaExceeded(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(Transient("fetch", errors.New("timeout"))))
	assert.True(t, IsRetryable(errors.New("uncoded network error")))

	// Terminal codes must not be retried.
	assert.False(t, IsRetryable(Throttled("price")))
	assert.False(t, IsRetryable(FeedUnavailable("price", nil)))
	assert.False(t, IsRetryable(MalformedCondition("a1", nil)))
	assert.False(t, IsRetryable(QuotaExceeded(1, "calls", 10)))
}

func TestQuotaExceededDetails(t *testing.T) {
	err := QuotaExceeded(42, "wallets", 3)
	assert.EqualValues(t, 42, err.Details["userId"])
	assert.Equal(t, "wallets", err.Details["resource"])
	assert.Equal(t, 3, err.Details["limit"])
}
