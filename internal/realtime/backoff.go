package realtime

import (
	"math"
	"time"
)

// Backoff computes bounded exponential reconnect delays.
// Formula: delay = min(initial * (multiplier ^ (attempt-1)), max)
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

// DefaultBackoff returns the standard client reconnect policy
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  6,
	}
}

// normalized fills zero fields with defaults
func (b Backoff) normalized() Backoff {
	def := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = def.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = def.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = def.Multiplier
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = def.MaxAttempts
	}
	return b
}

// Delay calculates the delay before the given attempt (1-based)
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.normalized()
	if attempt <= 0 {
		return 0
	}

	delay := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	return time.Duration(delay)
}

// Exhausted reports whether the attempt count has exceeded the retry budget
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.normalized().MaxAttempts
}
