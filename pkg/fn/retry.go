package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Fixed keeps the wait at InitialWait instead of doubling it.
	Fixed bool
	// OnFailure is called after every failed attempt (1-based).
	OnFailure func(attempt int, err error)
}

// DefaultRetry provides sensible retry defaults.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// FixedRetry returns options for n attempts separated by a constant wait.
func FixedRetry(n int, wait time.Duration) RetryOpts {
	return RetryOpts{MaxAttempts: n, InitialWait: wait, MaxWait: wait, Fixed: true}
}

// Retry runs f up to MaxAttempts times. A cancelled context stops further
// attempts and the context error is returned.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = opts.InitialWait
	}

	var result Result[T]
	wait := opts.InitialWait

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Err[T](err)
		}
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		if opts.OnFailure != nil {
			opts.OnFailure(attempt, result.err)
		}
		if attempt == opts.MaxAttempts {
			break
		}

		sleep := wait
		if opts.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if sleep > opts.MaxWait {
			sleep = opts.MaxWait
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}

		if !opts.Fixed {
			wait = min(wait*2, opts.MaxWait)
		}
	}
	return result
}
