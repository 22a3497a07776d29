package daemon

import (
	"context"
	"fmt"
	"time"

	"dictd/internal/logging"
)

// Backoff describes an exponential retry schedule.
type Backoff struct {
	Base     time.Duration
	Factor   float64
	Attempts int
	Max      time.Duration
}

// DefaultBackoff starts at 500ms and doubles, for three attempts.
func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Factor: 2, Attempts: 3, Max: 10 * time.Second}
}

// Delay returns the wait before retry n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.Base)
	for i := 1; i < n; i++ {
		d *= b.Factor
	}
	delay := time.Duration(d)
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Retry runs fn until it succeeds, the attempts are exhausted, ctx is done,
// or permanent reports the error cannot be fixed by trying again.
func Retry(ctx context.Context, b Backoff, what string, log *logging.Logger, permanent func(error) bool, fn func(context.Context) error) error {
	if b.Attempts <= 0 {
		b.Attempts = 1
	}
	if log == nil {
		log = logging.Nop()
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if permanent != nil && permanent(err) {
			return err
		}
		if attempt >= b.Attempts {
			return fmt.Errorf("%s failed after %d attempts: %w", what, attempt, err)
		}

		delay := b.Delay(attempt)
		log.Warn("startup step failed, retrying", "step", what, "attempt", attempt, "retry_in", delay, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(delay):
		}
	}
}
