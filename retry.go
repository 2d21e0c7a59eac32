package capflow

import (
	"context"
	"time"
)

// runWithRetry invokes fn, retrying per policy on failure. The policy's
// MaxAttempts counts additional attempts after the first failure; a
// success at any point short-circuits. On exhaustion the last error is
// returned unmodified so callers can match it against the original.
func runWithRetry(ctx context.Context, policy *RetryPolicy, fn func() (any, error)) (any, error) {
	out, err := fn()
	if err == nil || policy == nil {
		return out, err
	}

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if policy.Delay > 0 {
			if sleepErr := sleepCtx(ctx, policy.Delay); sleepErr != nil {
				return nil, err
			}
		}
		out, err = fn()
		if err == nil {
			return out, nil
		}
	}

	return nil, err
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
