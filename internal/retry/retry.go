// Package retry runs fallible operations with exponential backoff. It
// understands the fault taxonomy: invalid faults fail immediately, transient
// faults back off exponentially, and rate-limited faults honor the server's
// requested delay when one was given.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/showdoc/docqa/internal/fault"
)

// Policy controls retry behavior.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first
	// (default 4).
	MaxAttempts int
	// BaseDelay is the delay before the first retry (default 500ms).
	BaseDelay time.Duration
	// MaxDelay caps the backoff (default 30s).
	MaxDelay time.Duration
	// Jitter adds up to this fraction of random extra delay (default 0.2).
	Jitter float64
}

// DefaultPolicy is a reasonable policy for calls to embedding providers and
// the vector store.
var DefaultPolicy = Policy{
	MaxAttempts: 4,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
	Jitter:      0.2,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.Jitter <= 0 {
		p.Jitter = DefaultPolicy.Jitter
	}
	return p
}

// Do runs fn until it succeeds, returns a non-retryable fault, or the policy
// is exhausted. Exhaustion returns the last error wrapped as a fault with
// KindExhausted. Context cancellation interrupts both fn waits and backoff
// sleeps.
func Do(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !fault.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.delay(attempt, lastErr)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fault.Exhausted(op, lastErr)
}

// delay computes the wait before the next attempt. A rate-limit hint from the
// server overrides the exponential schedule.
func (p Policy) delay(attempt int, err error) time.Duration {
	if hint := fault.RetryHint(err); hint > 0 {
		if hint > p.MaxDelay {
			return p.MaxDelay
		}
		return hint
	}

	d := p.BaseDelay << (attempt - 1)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
