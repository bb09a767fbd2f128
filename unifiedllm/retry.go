package unifiedllm

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy replays retryable completion failures with exponential
// backoff. A rate limit that names its own Retry-After is waited out
// exactly, unless that wait exceeds MaxDelay.
type RetryPolicy struct {
	MaxRetries int // attempts after the first
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
	Jitter     bool

	// OnRetry is called before each wait.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy retries twice, starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Factor:     2,
		Jitter:     true,
	}
}

// Delay is the wait before retry n, counting from zero. Jitter scales it
// into [0.5, 1.5) of the nominal value.
func (p RetryPolicy) Delay(n int) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay)
	for i := 0; i < n && d < float64(p.MaxDelay); i++ {
		d *= factor
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// wait returns how long to back off after err on retry n, or false when
// the error must be returned as is.
func (p RetryPolicy) wait(err error, n int) (time.Duration, bool) {
	if !IsRetryable(err) {
		return 0, false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter != nil {
		d := time.Duration(*rl.RetryAfter * float64(time.Second))
		if p.MaxDelay > 0 && d > p.MaxDelay {
			return 0, false
		}
		return d, true
	}
	return p.Delay(n), true
}

// Retry calls fn until it succeeds, fails with a non-retryable error or
// runs out of retries. Cancelling ctx while waiting yields an AbortError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	for n := 0; err != nil && n < policy.MaxRetries; n++ {
		delay, ok := policy.wait(err, n)
		if !ok {
			break
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, n+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
		result, err = fn(ctx)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
