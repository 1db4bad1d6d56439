package service

import (
	"context"
	"time"

	"simoj/internal/common/db"
	appErr "simoj/pkg/errors"
	"simoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// RetryPolicy bounds retries of transient storage and lock failures.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// ComputeBackoff doubles base for every prior retry and caps the result at max.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount <= 0 {
		if max > 0 && base > max {
			return max
		}
		return base
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// isTransient reports whether retrying err may succeed.
func isTransient(err error) bool {
	return db.IsRetryable(err) || appErr.Is(err, appErr.LockFailed)
}

// retry runs fn until it succeeds, fails permanently, runs out of attempts or ctx ends.
func retry(ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !isTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := ComputeBackoff(i, policy.BaseDelay, policy.MaxDelay)
		logger.Warn(ctx, "transient failure, retrying",
			zap.String("op", op),
			zap.Int("retry_count", i+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
