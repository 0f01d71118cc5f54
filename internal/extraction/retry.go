package extraction

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultMaxRetries is used when Policy.MaxRetries is not positive.
const DefaultMaxRetries = 3

// Policy configures Retry.
type Policy struct {
	// MaxRetries is the total number of attempts.
	MaxRetries int
	Logger     *slog.Logger

	// BeforeAttempt runs before every attempt. A non-nil error aborts the
	// loop and is returned as is. Used for cooperative cancellation.
	BeforeAttempt func(ctx context.Context, attempt int) error

	// OnFailure observes every failed attempt that may be retried. Credit
	// limit failures are not reported.
	OnFailure func(attempt int, err error)
}

// Retry runs fn until it succeeds, the attempts are exhausted, or fn reports a
// credit limit error. Credit limit errors are returned immediately without a
// further attempt. After the last attempt the final error is returned wrapped.
func Retry[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if p.BeforeAttempt != nil {
			if err := p.BeforeAttempt(ctx, attempt); err != nil {
				return zero, err
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if IsCreditLimit(err) {
			logger.Error("Credit limit exceeded", "op", op, "attempt", attempt, "error", err)
			return zero, err
		}

		if p.OnFailure != nil {
			p.OnFailure(attempt, err)
		}

		logger.Warn("Attempt failed", "op", op, "attempt", attempt, "max_retries", maxRetries, "error", err)
		lastErr = err
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries, lastErr)
}
