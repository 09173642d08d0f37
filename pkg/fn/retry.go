package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

// DefaultRetry is used by the outbound clients unless configured otherwise.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     10 * time.Second,
	Jitter:      true,
}

// Retry calls f until it succeeds, returns a non-retryable error or
// MaxAttempts is reached, backing off exponentially between attempts.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = opts.InitialWait
	}
	var result Result[T]
	wait := opts.InitialWait

	for attempt := 1; ; attempt++ {
		result = f(ctx)
		if result.IsOk() || attempt >= opts.MaxAttempts {
			return result
		}
		if opts.Retryable != nil && !opts.Retryable(result.err) {
			return result
		}

		sleep := wait
		if opts.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		sleep = min(sleep, opts.MaxWait)

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
		wait = min(wait*2, opts.MaxWait)
	}
}
