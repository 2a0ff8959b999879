package fn

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	// Retries is the number of attempts after the first one.
	Retries int
	// BaseDelay is the wait before the first retry; it doubles each attempt.
	BaseDelay time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
	// OnRetry is called before each wait with the failed attempt number.
	OnRetry func(attempt int, err error, wait time.Duration)
	// Rand supplies jitter in [0,1). Nil uses math/rand.
	Rand func() float64
}

// Jitter bounds, in milliseconds.
const (
	jitterMinMs = 25
	jitterMaxMs = 250
)

// Backoff returns the wait after the given 1-based failed attempt:
// base*2^(attempt-1) plus up to 15% jitter clamped to [25ms, 250ms].
func Backoff(base time.Duration, attempt int, rnd float64) time.Duration {
	ms := float64(base.Milliseconds()) * math.Pow(2, float64(attempt-1))
	spread := math.Min(jitterMaxMs, math.Max(jitterMinMs, ms*0.15))
	return time.Duration(ms+math.Floor(rnd*spread)) * time.Millisecond
}

// Retry calls f at most Retries+1 times, stopping early on success, on a
// non-retryable error, or when ctx is done.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	attempts := max(opts.Retries, 0) + 1

	var result Result[T]
	for attempt := 1; attempt <= attempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		if attempt == attempts || (opts.Retryable != nil && !opts.Retryable(result.err)) {
			break
		}
		wait := Backoff(opts.BaseDelay, attempt, rnd())
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, result.err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Err[T](ctx.Err())
		case <-timer.C:
		}
	}
	return result
}
