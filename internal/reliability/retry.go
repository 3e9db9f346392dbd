// Package reliability provides backoff policies for keeping pollers alive
// through transient store faults.
package reliability

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy computes the delay before the next attempt. Policies here govern
// retrying failed I/O calls (scan recovery); retrying a business message is a
// separate concern owned by the delivery router.
type RetryPolicy interface {
	// NextDelay calculates the delay for the given zero-based attempt
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with optional jitter
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
}

// NewExponentialBackoff creates a new exponential backoff policy
func NewExponentialBackoff(initial, max time.Duration, multiplier float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		Jitter:          true,
	}
}

// NextDelay implements RetryPolicy
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))

	// Cap at max interval
	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	// Add jitter if enabled
	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay // ±15% jitter
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}

// FixedDelay implements a fixed delay retry policy
type FixedDelay struct {
	Delay time.Duration
}

// NewFixedDelay creates a new fixed delay policy
func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{Delay: delay}
}

// NextDelay implements RetryPolicy
func (f *FixedDelay) NextDelay(attempt int) time.Duration {
	return f.Delay
}
