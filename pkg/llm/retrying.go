package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-group/scorecard-cli/internal/resilience"
)

// RetryConfig controls the retry schedule and fallback routing.
type RetryConfig struct {
	// PrimaryModel is the model used unless the request overrides it.
	PrimaryModel string

	// FallbackModel, when non-empty, is invoked exactly once after the
	// primary's retry budget is exhausted.
	FallbackModel string

	// MaxRetries is the total number of primary attempts (including the
	// first). Default: 3.
	MaxRetries int

	// RetryDelay is the base backoff; attempt i sleeps RetryDelay * 2^i.
	// Default: 1s.
	RetryDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// RetryingClient wraps an Invoker with rate limiting, exponential backoff on
// the primary model, and a single fallback invocation. Every provider attempt
// (primary or fallback, success or failure) updates UsageStats exactly once.
type RetryingClient struct {
	invoker  Invoker
	limiter  *resilience.Window
	breakers *resilience.ModelBreakers // optional; nil disables
	stats    *UsageStats
	cfg      RetryConfig

	// sleepFunc allows test injection of the backoff sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a RetryingClient.
type ClientOption func(*RetryingClient)

// WithBreakers enables per-model circuit breaking: an open primary breaker
// skips the retry schedule and goes straight to the fallback.
func WithBreakers(b *resilience.ModelBreakers) ClientOption {
	return func(c *RetryingClient) { c.breakers = b }
}

// NewRetryingClient assembles the resilient client.
func NewRetryingClient(invoker Invoker, limiter *resilience.Window, stats *UsageStats, cfg RetryConfig, opts ...ClientOption) *RetryingClient {
	c := &RetryingClient{
		invoker:   invoker,
		limiter:   limiter,
		stats:     stats,
		cfg:       cfg.withDefaults(),
		sleepFunc: sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns the usage accumulator shared by this client's attempts.
func (c *RetryingClient) Stats() *UsageStats {
	return c.stats
}

// Invoke runs the full resilience schedule for one request: up to MaxRetries
// primary attempts with exponential backoff, then one fallback attempt if a
// fallback model is configured. The returned error is the last failure.
func (c *RetryingClient) Invoke(ctx context.Context, req InvocationRequest) (*InvocationResult, error) {
	model := c.cfg.PrimaryModel
	if req.ModelOverride != "" {
		model = req.ModelOverride
	}

	var lastErr error
	if c.breakers == nil || c.breakers.Allow(model) {
		for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
			res, err := c.attempt(ctx, model, req.Prompt)
			if err == nil {
				return res, nil
			}
			lastErr = err

			if ctx.Err() != nil {
				return nil, lastErr
			}
			if attempt >= c.cfg.MaxRetries-1 {
				break
			}

			delay := c.cfg.RetryDelay * (1 << attempt)
			zap.L().Warn("llm: attempt failed, backing off",
				zap.String("model", model),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if err := c.sleepFunc(ctx, delay); err != nil {
				return nil, lastErr
			}
		}
	} else {
		lastErr = resilience.ErrModelUnavailable
		zap.L().Warn("llm: primary circuit open, skipping to fallback",
			zap.String("model", model))
	}

	if c.cfg.FallbackModel == "" || c.cfg.FallbackModel == model {
		return nil, eris.Wrap(lastErr, "llm: all attempts exhausted")
	}

	zap.L().Info("llm: falling back",
		zap.String("primary", model),
		zap.String("fallback", c.cfg.FallbackModel),
	)
	res, err := c.attempt(ctx, c.cfg.FallbackModel, req.Prompt)
	if err != nil {
		return nil, eris.Wrap(err, "llm: fallback attempt failed")
	}
	return res, nil
}

// attempt performs one rate-limited provider call and records its outcome.
func (c *RetryingClient) attempt(ctx context.Context, model, prompt string) (*InvocationResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Admit(ctx); err != nil {
			return nil, eris.Wrap(err, "llm: rate limiter")
		}
	}

	res, err := c.invoker.Invoke(ctx, model, prompt)
	if c.breakers != nil {
		c.breakers.Record(model, err)
	}
	if err != nil {
		if c.stats != nil {
			c.stats.RecordFailure()
		}
		return nil, err
	}
	if c.stats != nil {
		c.stats.RecordSuccess(res)
	}
	return res, nil
}

// sleepCtx sleeps for d or until ctx is done, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
