package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFeed = errors.New("feed exploded")

func newTestBreaker(maxFailures int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := New(&Config{Name: "test", MaxFailures: maxFailures, Cooldown: cooldown})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })
	return b, &now
}

func fail(b *Breaker) error {
	return b.Execute(context.Background(), func() error { return errFeed })
}

func succeed(b *Breaker) error {
	return b.Execute(context.Background(), func() error { return nil })
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, fail(b), errFeed)
		assert.Equal(t, StateClosed, b.GetState())
	}

	require.ErrorIs(t, fail(b), errFeed)
	assert.Equal(t, StateOpen, b.GetState())
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	require.Error(t, fail(b))
	require.Error(t, fail(b))
	require.NoError(t, succeed(b))
	require.Error(t, fail(b))
	require.Error(t, fail(b))

	// Only two consecutive failures since the success: still closed.
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreaker_OpenFailsFastWithoutCallingFeed(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	require.Error(t, fail(b))
	require.Equal(t, StateOpen, b.GetState())

	called := false
	err := b.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_ProbesAfterCooldownAndCloses(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	require.Error(t, fail(b))
	require.Equal(t, StateOpen, b.GetState())

	*now = now.Add(61 * time.Second)

	require.NoError(t, succeed(b))
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	require.Error(t, fail(b))

	*now = now.Add(61 * time.Second)
	require.ErrorIs(t, fail(b), errFeed)
	assert.Equal(t, StateOpen, b.GetState())

	// Reopened: fails fast again until the next cooldown elapses.
	assert.ErrorIs(t, succeed(b), ErrOpen)
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	require.Error(t, fail(b))
	*now = now.Add(61 * time.Second)

	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)

	go func() {
		probeDone <- b.Execute(context.Background(), func() error {
			close(probeStarted)
			<-probeRelease
			return nil
		})
	}()

	<-probeStarted
	// A second caller while the probe is in flight is rejected.
	err := succeed(b)
	assert.ErrorIs(t, err, ErrProbeInFlight)

	close(probeRelease)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	require.Error(t, fail(b))
	require.Equal(t, StateOpen, b.GetState())

	b.Reset()
	assert.Equal(t, StateClosed, b.GetState())
	require.NoError(t, succeed(b))
}

func TestBreaker_Stats(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	require.Error(t, fail(b))
	require.Error(t, fail(b))

	stats := b.GetStats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, 2, stats.ConsecutiveFails)
}
