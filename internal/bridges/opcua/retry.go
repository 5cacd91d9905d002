package opcua

import (
	"context"
	"time"
)

// RetryPolicy bounds the connect attempts of one session within one
// supervisor cycle: a fixed delay between attempts and a capped count.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

// Do calls fn until it succeeds, MaxAttempts calls have failed, or ctx
// ends. onFailure, when set, observes each failed attempt (1-based).
//
// On exhaustion Do returns the last error from fn. On cancellation it
// returns ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error, onFailure func(attempt int, err error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if onFailure != nil {
			onFailure(attempt, last)
		}

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return err
		}
	}
	return last
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
