package github

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRateLimiterConfig(t *testing.T) {
	config := DefaultRateLimiterConfig()

	assert.Equal(t, 50*time.Millisecond, config.BaseDelay)
	assert.Equal(t, 30*time.Second, config.MaxDelay)
	assert.Equal(t, 2.0, config.BackoffFactor)
	assert.Equal(t, 0.1, config.Jitter)
	assert.Equal(t, 100, config.MinRemainingRequests)
	assert.Equal(t, 2*time.Second, config.AggressiveThrottleDelay)
}

func TestNewRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(nil)
	require.NotNil(t, limiter)

	stats := limiter.GetStats()
	assert.Equal(t, int64(0), stats.TotalWaits)
	assert.Equal(t, time.Duration(0), stats.CurrentDelay)
}

func TestRateLimiter_Wait(t *testing.T) {
	t.Run("no delay when rate limit is healthy", func(t *testing.T) {
		limiter := NewRateLimiter(&RateLimiterConfig{
			BaseDelay:            10 * time.Millisecond,
			MaxDelay:             time.Second,
			MinRemainingRequests: 100,
		})

		start := time.Now()
		require.NoError(t, limiter.Wait(context.Background()))
		assert.Less(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("enforces base delay between calls", func(t *testing.T) {
		limiter := NewRateLimiter(&RateLimiterConfig{
			BaseDelay:            30 * time.Millisecond,
			MaxDelay:             time.Second,
			MinRemainingRequests: 100,
		})

		require.NoError(t, limiter.Wait(context.Background()))
		start := time.Now()
		require.NoError(t, limiter.Wait(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		assert.Equal(t, int64(1), limiter.GetStats().TotalWaits)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		limiter := NewRateLimiter(&RateLimiterConfig{
			BaseDelay:               10 * time.Millisecond,
			MaxDelay:                time.Minute,
			MinRemainingRequests:    100,
			AggressiveThrottleDelay: time.Minute,
		})
		limiter.UpdateLimits(0, time.Now().Add(time.Hour))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := limiter.Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRateLimiter_UpdateLimits(t *testing.T) {
	limiter := NewRateLimiter(&RateLimiterConfig{
		BaseDelay:               10 * time.Millisecond,
		MaxDelay:                5 * time.Second,
		BackoffFactor:           2.0,
		MinRemainingRequests:    100,
		AggressiveThrottleDelay: 2 * time.Second,
	})

	reset := time.Now().Add(time.Hour)
	limiter.UpdateLimits(4000, reset)

	stats := limiter.GetStats()
	assert.Equal(t, 4000, stats.RemainingRequests)
	assert.Equal(t, reset.Unix(), stats.ResetTime.Unix())
	assert.Equal(t, time.Duration(0), limiter.GetDelay())

	limiter.UpdateLimits(50, reset)
	assert.Greater(t, limiter.GetDelay(), time.Duration(0))

	limiter.UpdateLimits(0, reset)
	assert.Equal(t, 5*time.Second, limiter.GetDelay(), "capped at MaxDelay")
}

func TestRateLimiter_ResetClearsDelay(t *testing.T) {
	limiter := NewRateLimiter(&RateLimiterConfig{
		BaseDelay:               10 * time.Millisecond,
		MaxDelay:                5 * time.Second,
		MinRemainingRequests:    100,
		AggressiveThrottleDelay: 2 * time.Second,
	})

	limiter.UpdateLimits(0, time.Now().Add(-time.Second))
	assert.Equal(t, time.Duration(0), limiter.GetDelay())
}

func TestRateLimiter_ConcurrentWaits(t *testing.T) {
	limiter := NewRateLimiter(&RateLimiterConfig{
		BaseDelay:            time.Millisecond,
		MaxDelay:             time.Second,
		MinRemainingRequests: 100,
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, limiter.Wait(context.Background()))
			limiter.UpdateLimits(4000, time.Now().Add(time.Hour))
		}()
	}
	wg.Wait()

	assert.Equal(t, 4000, limiter.GetStats().RemainingRequests)
}
