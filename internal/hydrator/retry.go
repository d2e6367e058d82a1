package hydrator

import (
	"context"
	"math/rand"
	"time"

	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// Policy controls retry behavior for upstream fetches. The heartbeat shares
// this type with MaxAttempts=1 so its checks never retry.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Base is the delay before the second attempt; it doubles per attempt.
	Base time.Duration

	// Cap bounds the grown delay.
	Cap time.Duration
}

// DefaultPolicy is the pipeline hydration policy: three attempts with
// exponential backoff between 1s and 8s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Base: time.Second, Cap: 8 * time.Second}
}

// SingleAttempt is the heartbeat policy: one attempt, no retries.
func SingleAttempt() Policy {
	return Policy{MaxAttempts: 1}
}

// Delay returns the backoff before the given retry (attempt is zero-based:
// attempt 0 is the delay before the second try). Jitter of up to 25% is
// added so parallel workers do not retry in lockstep.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	d := p.Base << uint(attempt)
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// Do runs fn up to MaxAttempts times, backing off between attempts. Only
// retryable errors are retried; permanent errors and context cancellation
// return immediately.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCanceled, "retry canceled")
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperrors.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
