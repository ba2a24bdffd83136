package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-group/scorecard-cli/internal/resilience"
)

// scriptedInvoker fails its first failN calls, then succeeds, recording the
// model of every call in order.
type scriptedInvoker struct {
	failN int
	err   error
	calls []string
}

func (s *scriptedInvoker) Invoke(_ context.Context, model, _ string) (*InvocationResult, error) {
	s.calls = append(s.calls, model)
	if len(s.calls) <= s.failN {
		return nil, s.err
	}
	return &InvocationResult{
		Text:             `{"value": 1}`,
		Model:            model,
		PromptTokens:     100,
		CompletionTokens: 50,
		LatencyMS:        10,
	}, nil
}

func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
}

func newTestClient(inv Invoker, cfg RetryConfig, delays *[]time.Duration, opts ...ClientOption) *RetryingClient {
	c := NewRetryingClient(inv, nil, NewUsageStats(), cfg, opts...)
	c.sleepFunc = noSleep(delays)
	return c
}

func TestRetryingClient_FirstAttemptSucceeds(t *testing.T) {
	inv := &scriptedInvoker{}
	c := newTestClient(inv, RetryConfig{PrimaryModel: "primary", MaxRetries: 3}, nil)

	res, err := c.Invoke(context.Background(), InvocationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Model)
	assert.Equal(t, []string{"primary"}, inv.calls)

	snap := c.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Requests)
	assert.Equal(t, int64(1), snap.Successes)
	assert.Equal(t, int64(0), snap.Failures)
}

func TestRetryingClient_RetriesWithExponentialBackoff(t *testing.T) {
	inv := &scriptedInvoker{failN: 2, err: errors.New("503 overloaded")}
	var delays []time.Duration
	c := newTestClient(inv, RetryConfig{
		PrimaryModel: "primary",
		MaxRetries:   3,
		RetryDelay:   100 * time.Millisecond,
	}, &delays)

	res, err := c.Invoke(context.Background(), InvocationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Model)
	assert.Equal(t, []string{"primary", "primary", "primary"}, inv.calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)

	snap := c.Stats().Snapshot()
	assert.Equal(t, int64(3), snap.Requests)
	assert.Equal(t, int64(2), snap.Failures)
	assert.Equal(t, int64(1), snap.Successes)
}

func TestRetryingClient_FallbackAfterPrimaryExhausted(t *testing.T) {
	inv := &scriptedInvoker{failN: 3, err: errors.New("500 internal")}
	c := newTestClient(inv, RetryConfig{
		PrimaryModel:  "primary",
		FallbackModel: "fallback",
		MaxRetries:    3,
	}, nil)

	res, err := c.Invoke(context.Background(), InvocationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Model)
	assert.Equal(t, []string{"primary", "primary", "primary", "fallback"}, inv.calls)

	snap := c.Stats().Snapshot()
	assert.Equal(t, int64(4), snap.Requests)
	assert.Equal(t, int64(3), snap.Failures)
	assert.Equal(t, int64(1), snap.Successes)
}

func TestRetryingClient_NoFallbackReturnsLastError(t *testing.T) {
	base := errors.New("529 overloaded")
	inv := &scriptedInvoker{failN: 10, err: base}
	c := newTestClient(inv, RetryConfig{PrimaryModel: "primary", MaxRetries: 2}, nil)

	_, err := c.Invoke(context.Background(), InvocationRequest{Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Len(t, inv.calls, 2)
}

func TestRetryingClient_FallbackFailureSurfaces(t *testing.T) {
	inv := &scriptedInvoker{failN: 10, err: errors.New("down")}
	c := newTestClient(inv, RetryConfig{
		PrimaryModel:  "primary",
		FallbackModel: "fallback",
		MaxRetries:    2,
	}, nil)

	_, err := c.Invoke(context.Background(), InvocationRequest{Prompt: "p"})
	require.Error(t, err)
	// Two primary attempts, exactly one fallback attempt.
	assert.Equal(t, []string{"primary", "primary", "fallback"}, inv.calls)
}

func TestRetryingClient_ModelOverride(t *testing.T) {
	inv := &scriptedInvoker{}
	c := newTestClient(inv, RetryConfig{PrimaryModel: "primary", MaxRetries: 3}, nil)

	res, err := c.Invoke(context.Background(), InvocationRequest{
		Prompt:        "p",
		ModelOverride: "special",
	})
	require.NoError(t, err)
	assert.Equal(t, "special", res.Model)
	assert.Equal(t, []string{"special"}, inv.calls)
}

func TestRetryingClient_OpenBreakerSkipsToFallback(t *testing.T) {
	inv := &scriptedInvoker{}
	breakers := resilience.NewModelBreakers(resilience.BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	breakers.Record("primary", errors.New("dead"))

	c := newTestClient(inv, RetryConfig{
		PrimaryModel:  "primary",
		FallbackModel: "fallback",
		MaxRetries:    3,
	}, nil, WithBreakers(breakers))

	res, err := c.Invoke(context.Background(), InvocationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Model)
	assert.Equal(t, []string{"fallback"}, inv.calls)
}

func TestRetryingClient_CancelledContextStopsRetrying(t *testing.T) {
	inv := &scriptedInvoker{failN: 10, err: errors.New("transient")}
	c := NewRetryingClient(inv, nil, NewUsageStats(), RetryConfig{
		PrimaryModel: "primary",
		MaxRetries:   5,
		RetryDelay:   10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	c.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.Invoke(ctx, InvocationRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Len(t, inv.calls, 1)
}
