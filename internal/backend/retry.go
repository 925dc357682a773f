package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrDeadlineExceeded is returned by Policy.Execute when the overall
// retry deadline elapses before the operation succeeds.
var ErrDeadlineExceeded = errors.New("retry deadline exceeded")

// Policy controls how failed backend calls are retried with exponential
// backoff. Every error is considered transient; the only hard stops are
// the attempt budget, the wall-clock deadline, and context cancellation.
type Policy struct {
	MaxAttempts int
	MaxDuration time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns a Policy tuned for cold-starting backends:
// 10 attempts, 1s base delay doubling up to 5s, 120s overall deadline.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: 10,
		MaxDuration: 120 * time.Second,
		BaseDelay:   1 * time.Second,
		MaxDelay:    5 * time.Second,
	}
}

// Delay returns the backoff delay after the given failed attempt
// (0-indexed): BaseDelay * 2^attempt, capped at MaxDelay.
func (p *Policy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Execute runs op up to MaxAttempts times, sleeping between attempts with
// exponential backoff. Before each attempt the wall-clock deadline is
// checked; once exceeded, ErrDeadlineExceeded is returned without another
// attempt. Cancellation of ctx aborts the wait and returns ctx.Err().
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if time.Since(start) > p.MaxDuration {
			return ErrDeadlineExceeded
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Delay(attempt)
		slog.Warn("backend call failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
