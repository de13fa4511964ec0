package errs

import (
	"context"
	"fmt"
	"time"
)

type RetryOptions struct {
	// Attempts is the total number of calls, including the first. Defaults to 3.
	Attempts int
	// Delay grows linearly: Delay after the first failure, 2*Delay after the second, and so on.
	Delay       time.Duration
	ShouldRetry func(error) bool
	// OnRetry runs before each new attempt. Defaults to an info notification.
	OnRetry func(attempt, max int, err error)
	Context string
	// Silent suppresses the final failure notification.
	Silent bool
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.Attempts < 1 {
		o.Attempts = 3
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = IsRetryable
	}
	return o
}

// RetryFunc wraps fn with retry semantics. The final failure is handled, and
// notified unless Silent, exactly once.
func RetryFunc[T any](h *Handler, opts RetryOptions, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	opts = opts.withDefaults()
	return func(ctx context.Context) (T, error) {
		var zero T
		var lastErr error

	attempts:
		for attempt := 1; attempt <= opts.Attempts; attempt++ {
			val, err := fn(ctx)
			if err == nil {
				return val, nil
			}
			lastErr = err

			if attempt == opts.Attempts || !opts.ShouldRetry(err) {
				break attempts
			}

			if opts.OnRetry != nil {
				opts.OnRetry(attempt, opts.Attempts, err)
			} else if h != nil {
				h.notify(LevelInfo, fmt.Sprintf("正在重试 (%d/%d)...", attempt, opts.Attempts-1))
			}

			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attempts
			case <-time.After(opts.Delay * time.Duration(attempt)):
			}
		}

		if h != nil {
			h.Handle(lastErr, Options{Context: opts.Context, Notify: !opts.Silent})
		}
		return zero, lastErr
	}
}

// Retry runs fn under RetryFunc.
func Retry[T any](ctx context.Context, h *Handler, opts RetryOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	return RetryFunc(h, opts, fn)(ctx)
}
