// Package llm wraps the Anthropic SDK behind a minimal single-shot
// invocation interface with per-call telemetry (tokens, estimated cost,
// latency). Retry, rate limiting, and fallback live in RetryingClient.
package llm

import (
	"context"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-group/scorecard-cli/internal/resilience"
)

// Invoker performs a single model invocation. Implementations make exactly
// one provider call per Invoke.
type Invoker interface {
	Invoke(ctx context.Context, model, prompt string) (*InvocationResult, error)
}

// InvocationRequest describes one logical extraction call as seen by
// RetryingClient. ModelOverride, when set, replaces the configured primary.
type InvocationRequest struct {
	Prompt        string
	ModelOverride string
}

// InvocationResult carries the model's text plus telemetry. Token counts and
// cost are zero when the provider does not report usage.
type InvocationResult struct {
	Text             string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
	LatencyMS        float64
}

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	// model → {input $/MTok, output $/MTok}
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-6":            {15.00, 75.00},
}

// EstimateCost computes an estimated cost in USD from token counts and a
// model ID. Returns 0 for unknown models.
func EstimateCost(model string, promptTokens, completionTokens int64) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	inCost := (float64(promptTokens) / 1e6) * pricing[0]
	outCost := (float64(completionTokens) / 1e6) * pricing[1]
	return inCost + outCost
}

// AnthropicInvoker implements Invoker using the official anthropic-sdk-go.
type AnthropicInvoker struct {
	client    sdk.Client
	maxTokens int64
	system    string
}

// AnthropicOption configures an AnthropicInvoker.
type AnthropicOption func(*AnthropicInvoker)

// WithMaxTokens overrides the response token budget (default 4096).
func WithMaxTokens(n int64) AnthropicOption {
	return func(a *AnthropicInvoker) { a.maxTokens = n }
}

// WithSystemPrompt sets a system block sent with every invocation.
func WithSystemPrompt(s string) AnthropicOption {
	return func(a *AnthropicInvoker) { a.system = s }
}

// NewAnthropicInvoker creates an invoker backed by the SDK.
func NewAnthropicInvoker(apiKey string, opts ...AnthropicOption) *AnthropicInvoker {
	a := &AnthropicInvoker{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AnthropicInvoker) Invoke(ctx context.Context, model, prompt string) (*InvocationResult, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: a.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if a.system != "" {
		params.System = []sdk.TextBlockParam{{Text: a.system}}
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, resilience.NewProviderError(
			eris.Wrap(err, "llm: create message"), 0)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	res := &InvocationResult{
		Text:             sb.String(),
		Model:            string(msg.Model),
		PromptTokens:     msg.Usage.InputTokens,
		CompletionTokens: msg.Usage.OutputTokens,
		LatencyMS:        float64(latency.Microseconds()) / 1000.0,
	}
	res.CostUSD = EstimateCost(res.Model, res.PromptTokens, res.CompletionTokens)

	zap.L().Debug("llm: invocation complete",
		zap.String("model", res.Model),
		zap.Int64("input_tokens", res.PromptTokens),
		zap.Int64("output_tokens", res.CompletionTokens),
		zap.Float64("estimated_cost_usd", res.CostUSD),
		zap.Float64("latency_ms", res.LatencyMS),
	)
	return res, nil
}
