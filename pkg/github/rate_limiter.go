package github

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// RateLimiter paces GitHub API calls shared by every worker of a run
type RateLimiter interface {
	// Wait blocks until it's safe to make an API call
	Wait(ctx context.Context) error

	// UpdateLimits records the rate limit state reported by the last response
	UpdateLimits(remaining int, reset time.Time)

	// GetDelay returns the current delay before the next API call
	GetDelay() time.Duration

	// GetStats returns current rate limiter statistics
	GetStats() RateLimiterStats
}

// RateLimiterStats provides statistics about rate limiter usage
type RateLimiterStats struct {
	RemainingRequests int           `json:"remaining_requests"`
	ResetTime         time.Time     `json:"reset_time"`
	CurrentDelay      time.Duration `json:"current_delay"`
	TotalWaits        int64         `json:"total_waits"`
	TotalDelayTime    time.Duration `json:"total_delay_time"`
}

// RateLimiterConfig configures the rate limiter behavior
type RateLimiterConfig struct {
	// BaseDelay is the minimum delay between requests
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between requests
	MaxDelay time.Duration

	// BackoffFactor is the exponential backoff multiplier
	BackoffFactor float64

	// Jitter adds randomness to delays
	Jitter float64

	// MinRemainingRequests is the threshold below which we start aggressive throttling
	MinRemainingRequests int

	// AggressiveThrottleDelay is the delay when remaining requests are low
	AggressiveThrottleDelay time.Duration
}

// DefaultRateLimiterConfig returns a default rate limiter configuration
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		BaseDelay:               50 * time.Millisecond,
		MaxDelay:                30 * time.Second,
		BackoffFactor:           2.0,
		Jitter:                  0.1,
		MinRemainingRequests:    100,
		AggressiveThrottleDelay: 2 * time.Second,
	}
}

type rateLimiter struct {
	config *RateLimiterConfig
	mu     sync.Mutex

	remaining int
	resetTime time.Time
	lastCall  time.Time

	stats RateLimiterStats
	rand  *rand.Rand
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimiterConfig) RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}

	return &rateLimiter{
		config:    config,
		remaining: 5000, // GitHub's default rate limit
		resetTime: time.Now().Add(time.Hour),
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until it's safe to make an API call
func (rl *rateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()

	delay := rl.calculateDelay()
	if delay > 0 {
		rl.stats.TotalWaits++
		rl.stats.TotalDelayTime += delay

		// Release the lock while waiting
		rl.mu.Unlock()

		if err := sleep(ctx, delay); err != nil {
			return err
		}

		rl.mu.Lock()
	}

	rl.lastCall = time.Now()
	rl.mu.Unlock()
	return nil
}

// UpdateLimits records the rate limit state reported by the last response
func (rl *rateLimiter) UpdateLimits(remaining int, reset time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.remaining = remaining
	rl.resetTime = reset
	rl.stats.RemainingRequests = remaining
	rl.stats.ResetTime = reset
}

// GetDelay returns the current delay before the next API call
func (rl *rateLimiter) GetDelay() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.calculateDelay()
}

// GetStats returns current rate limiter statistics
func (rl *rateLimiter) GetStats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := rl.stats
	stats.CurrentDelay = rl.calculateDelay()
	return stats
}

// calculateDelay calculates the delay needed before the next API call
func (rl *rateLimiter) calculateDelay() time.Duration {
	now := time.Now()

	// If rate limit has reset, no delay needed
	if now.After(rl.resetTime) {
		return 0
	}

	var totalDelay time.Duration

	if !rl.lastCall.IsZero() {
		timeSinceLastCall := now.Sub(rl.lastCall)
		if timeSinceLastCall < rl.config.BaseDelay {
			totalDelay = rl.config.BaseDelay - timeSinceLastCall
		}
	}

	if rl.remaining < rl.config.MinRemainingRequests {
		aggressiveDelay := rl.calculateAggressiveDelay()
		if aggressiveDelay > totalDelay {
			totalDelay = aggressiveDelay
		}
	}

	// Less than 10% of the default limit left
	if rl.remaining < 500 {
		backoffMultiplier := math.Pow(rl.config.BackoffFactor, float64(500-rl.remaining)/100)
		backoffDelay := time.Duration(float64(rl.config.BaseDelay) * backoffMultiplier)
		if backoffDelay > totalDelay {
			totalDelay = backoffDelay
		}
	}

	if rl.config.Jitter > 0 && totalDelay > 0 {
		jitterAmount := float64(totalDelay) * rl.config.Jitter
		totalDelay += time.Duration(rl.rand.Float64() * jitterAmount)
	}

	return minDuration(totalDelay, rl.config.MaxDelay)
}

// calculateAggressiveDelay calculates delay when remaining requests are low
func (rl *rateLimiter) calculateAggressiveDelay() time.Duration {
	if rl.remaining <= 0 {
		// No requests remaining, wait until reset
		waitTime := time.Until(rl.resetTime)
		if waitTime > 0 {
			return waitTime
		}
		return 0
	}

	remainingRatio := float64(rl.remaining) / float64(rl.config.MinRemainingRequests)
	if remainingRatio >= 1.0 {
		return 0
	}

	// Fewer remaining requests means a longer delay
	delayMultiplier := 1.0 - remainingRatio
	return time.Duration(float64(rl.config.AggressiveThrottleDelay) * delayMultiplier)
}
