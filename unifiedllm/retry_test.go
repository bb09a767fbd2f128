package unifiedllm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Factor: 2}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, expected := range want {
		assert.Equal(t, expected, policy.Delay(i), "retry %d", i)
	}
}

func TestRetryPolicyDelayWithJitter(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Factor: 2, Jitter: true}
	for range 100 {
		got := policy.Delay(0)
		require.GreaterOrEqual(t, got, 500*time.Millisecond)
		require.Less(t, got, 1500*time.Millisecond)
	}
}

func TestRetryRecoversFromServerErrors(t *testing.T) {
	calls := 0
	var seen []int
	policy := fastPolicy(3)
	policy.OnRetry = func(_ error, attempt int, _ time.Duration) { seen = append(seen, attempt) }

	result, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", ErrorFromStatusCode(503, "overloaded", "openrouter", "", nil, nil)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetryStopsOnAuthFailure(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		return "", ErrorFromStatusCode(401, "bad key", "openrouter", "", nil, nil)
	})
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 1, calls)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), func(ctx context.Context) (string, error) {
		calls++
		return "", &NetworkError{SDKError: SDKError{Message: "connection reset"}}
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	after := 0.01
	calls := 0
	var delays []time.Duration
	policy := fastPolicy(1)
	policy.MaxDelay = time.Second
	policy.OnRetry = func(_ error, _ int, d time.Duration) { delays = append(delays, d) }

	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", ErrorFromStatusCode(429, "slow down", "openrouter", "", nil, &after)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, delays)
}

func TestRetryRetryAfterBeyondMaxDelay(t *testing.T) {
	after := 120.0
	calls := 0
	_, err := Retry(context.Background(), DefaultRetryPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return "", ErrorFromStatusCode(429, "slow down", "openrouter", "", nil, &after)
	})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 1, calls)
}

func TestRetryCancelled(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second, Factor: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Retry(ctx, policy, func(ctx context.Context) (string, error) {
		return "", &NetworkError{SDKError: SDKError{Message: "down"}}
	})
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "abort wraps the context error")
}
