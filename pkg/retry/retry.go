// Package retry implements bounded exponential backoff for transient
// failures. Only errors classified as transient are retried; everything
// else returns immediately.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/teleclerk/teleclerk/pkg/domain"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy returns a sensible default: three attempts, 500ms base.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Do runs fn up to p.MaxAttempts times, sleeping with jittered exponential
// backoff between attempts. Non-transient errors and context cancellation
// stop the loop immediately.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if !sleepWithContext(ctx, withJitter(expBackoff(attempt-1, p.Backoff, p.MaxBackoff))) {
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !domain.IsTransient(err) {
			return err
		}
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func expBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		return initial
	}
	d := initial << attempt
	if d <= 0 {
		return max
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// +/-20% jitter.
	j := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * j)
}
