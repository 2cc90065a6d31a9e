package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds a task's execution: attempts, the fixed backoff between
// them, and a per-attempt timeout.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// RunWithRetry executes fn under the policy. Each attempt gets its own
// timeout-bounded context; backoff sleeps are cancellation-aware. The last
// attempt's error is returned when the policy is exhausted.
func RunWithRetry(ctx context.Context, logger *zap.Logger, name string, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Backoff):
			}
		}

		lastErr = runAttempt(ctx, policy.Timeout, fn)
		if lastErr == nil {
			return nil
		}

		logger.Warn("Task attempt failed",
			zap.String("task", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Error(lastErr))
	}

	return fmt.Errorf("task %s failed after %d attempts: %w", name, policy.MaxAttempts, lastErr)
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
