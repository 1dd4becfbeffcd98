package pipeline

import (
	"context"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
)

// Exponential backoff: start at 200ms, double each retry, cap at 5s.
const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// SleepWithContext waits d on clock, returning false if ctx ends first.
func SleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

// retry calls fn up to attempts times, backing off between failures. It
// returns the last error, or ctx's error if ctx ends first.
func retry(ctx context.Context, clock clockwork.Clock, attempts int, initial, limit time.Duration, fn func(context.Context) error) error {
	backoff := initial
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if !SleepWithContext(ctx, clock, backoff) {
			return ctx.Err()
		}
		backoff = sharedretry.NextBackoff(backoff, limit)
	}
	return err
}
