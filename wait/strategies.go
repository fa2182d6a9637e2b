package wait

import (
	"math"
	"math/rand"
	"time"
)

// FixedStrategy waits for a fixed duration between attempts
type FixedStrategy struct {
	duration time.Duration
}

// NewFixedStrategy creates a new fixed wait strategy
func NewFixedStrategy(duration time.Duration) *FixedStrategy {
	return &FixedStrategy{duration: duration}
}

// Next returns the next wait duration
func (s *FixedStrategy) Next() (time.Duration, bool) {
	return s.duration, true
}

// Reset resets the strategy
func (s *FixedStrategy) Reset() {}

// ExponentialBackoffStrategy implements exponential backoff with optional jitter
type ExponentialBackoffStrategy struct {
	initial    time.Duration
	multiplier float64
	max        time.Duration
	jitter     bool
	attempt    int
}

// NewExponentialBackoffStrategy creates a new exponential backoff strategy
func NewExponentialBackoffStrategy(initial time.Duration, multiplier float64, max time.Duration, jitter bool) *ExponentialBackoffStrategy {
	if multiplier < 1 {
		multiplier = 1
	}
	return &ExponentialBackoffStrategy{
		initial:    initial,
		multiplier: multiplier,
		max:        max,
		jitter:     jitter,
	}
}

// Next returns the next wait duration
func (s *ExponentialBackoffStrategy) Next() (time.Duration, bool) {
	duration := time.Duration(float64(s.initial) * math.Pow(s.multiplier, float64(s.attempt)))
	if s.max > 0 && (duration > s.max || duration < 0) {
		duration = s.max
	}

	if s.jitter {
		// ±25% of duration
		jitterRange := float64(duration) * 0.25
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		duration = max(time.Duration(float64(duration)+jitter), 0)
	}

	s.attempt++
	return duration, true
}

// Reset resets the strategy
func (s *ExponentialBackoffStrategy) Reset() {
	s.attempt = 0
}
