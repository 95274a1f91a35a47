package refresh

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// WaitPolicy holds the configuration for polling a contended refresh lock.
type WaitPolicy struct {
	// MaxAttempts is the maximum number of lock attempts (including the first).
	MaxAttempts int

	// Interval is the wait after the first failed attempt.
	Interval time.Duration

	// MaxInterval caps the wait. Zero means no cap.
	MaxInterval time.Duration

	// Multiplier grows the wait between attempts. 1 keeps it constant.
	Multiplier float64

	// Jitter is the relative randomness applied to each wait (0.2 = ±20%).
	Jitter float64
}

// DefaultWaitPolicy returns the default policy: 20 attempts 50ms apart,
// about twice the default lock TTL.
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		MaxAttempts: 20,
		Interval:    50 * time.Millisecond,
		MaxInterval: 0,
		Multiplier:  1.0,
		Jitter:      0,
	}
}

func (p WaitPolicy) normalize() WaitPolicy {
	def := DefaultWaitPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p WaitPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.Interval) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		d = float64(p.MaxInterval)
	}

	if p.Jitter > 0 {
		d *= 1 - p.Jitter + rand.Float64()*2*p.Jitter
	}
	return time.Duration(d)
}

// Wait sleeps for Backoff(attempt) or until ctx is done.
func (p WaitPolicy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Backoff(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("lock wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
