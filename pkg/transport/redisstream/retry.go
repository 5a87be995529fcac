package redisstream

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy retries connection-class errors exactly once after a fixed
// delay. All other errors, context cancellation included, propagate
// unchanged. The long-lived read loops do not use this policy; they recover
// on their own cadence.
type RetryPolicy struct {
	delay   time.Duration
	onRetry func()
}

// NewRetryPolicy creates a policy waiting delay before the single retry.
// onRetry, if non-nil, is invoked once per retried operation.
func NewRetryPolicy(delay time.Duration, onRetry func()) *RetryPolicy {
	return &RetryPolicy{delay: delay, onRetry: onRetry}
}

// Execute runs fn, retrying once on a connection-class error.
func (r *RetryPolicy) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || !isConnectionError(err) || ctx.Err() != nil {
		return err
	}

	slog.Warn("Retrying after connection error",
		"operation", op,
		"delay", r.delay,
		"error", err)
	if r.onRetry != nil {
		r.onRetry()
	}

	timer := time.NewTimer(r.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return fn(ctx)
}

// ExecuteValue is Execute for operations returning a value.
func ExecuteValue[T any](ctx context.Context, r *RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Execute(ctx, op, func(ctx context.Context) error {
		var fnErr error
		out, fnErr = fn(ctx)
		return fnErr
	})
	return out, err
}
