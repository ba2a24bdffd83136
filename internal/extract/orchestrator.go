// Package extract implements the extraction pipeline: fingerprint-keyed
// caching, prompt assembly from source documents, one resilient model
// invocation, and parse/validate gating before anything is cached.
package extract

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-group/scorecard-cli/internal/cache"
	"github.com/meridian-group/scorecard-cli/internal/model"
	"github.com/meridian-group/scorecard-cli/pkg/llm"
)

// PromptBuilder renders the model prompt from the country, the combined
// document text, and caller-supplied context values.
type PromptBuilder func(country, combinedDocs string, extra map[string]any) string

// Parser converts raw model text into a structured map, failing on
// malformed input.
type Parser func(rawText, country string) (map[string]any, error)

// Validator checks parsed data against domain rules, returning a message
// when the data is rejected.
type Validator func(parsed map[string]any, country string) (bool, string)

// Client is the resilient invocation surface the orchestrator depends on.
// *llm.RetryingClient satisfies it.
type Client interface {
	Invoke(ctx context.Context, req llm.InvocationRequest) (*llm.InvocationResult, error)
}

// RunRecord is one finished extraction reported to the Recorder.
type RunRecord struct {
	Fingerprint string
	ParameterID string
	Country     string
	Model       string
	Success     bool
	Cached      bool
	Error       string
	CostUSD     float64
	DurationMS  float64
}

// Recorder persists finished extractions for later inspection. Failures to
// record are logged, never propagated.
type Recorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

// Config carries the orchestrator's caching knobs.
type Config struct {
	UseCache bool
	CacheTTL time.Duration
}

// Request is one extraction job. Builder is required; Parser and Validator
// default to ParseObject and accept-everything when nil.
type Request struct {
	ParameterID   string
	Country       string
	Documents     []model.Document
	Context       map[string]any
	ModelOverride string

	Builder   PromptBuilder
	Parser    Parser
	Validator Validator
}

// Orchestrator runs extraction jobs. Concurrent calls with the same
// fingerprint share one model invocation; only the caller that built the
// result observes its cache state, piggybackers see a fresh (uncached)
// result copy.
type Orchestrator struct {
	cache    *cache.ResultCache
	client   Client
	recorder Recorder // optional
	cfg      Config

	inflight singleflight.Group

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates an Orchestrator. recorder may be nil.
func New(c *cache.ResultCache, client Client, recorder Recorder, cfg Config) *Orchestrator {
	return &Orchestrator{
		cache:    c,
		client:   client,
		recorder: recorder,
		cfg:      cfg,
		nowFunc:  time.Now,
	}
}

// Extract runs the pipeline for one request. Every failure is folded into
// ExtractionResult{Success:false}; Extract never panics and never returns a
// raw error to the caller.
func (o *Orchestrator) Extract(ctx context.Context, req Request) *model.ExtractionResult {
	start := time.Now()
	key := Fingerprint(req.ParameterID, req.Country, req.Documents)

	if o.cfg.UseCache {
		if data, ok := o.cache.Get(ctx, key); ok {
			zap.L().Debug("extract: cache hit",
				zap.String("fingerprint", key),
			)
			res := &model.ExtractionResult{
				Success:    true,
				Data:       data,
				Cached:     true,
				DurationMS: msSince(start),
			}
			o.record(ctx, key, req, res)
			return res
		}
	}

	// At most one concurrent build per fingerprint; latecomers share the
	// winner's result. The build runs on a context detached from the
	// initiating caller so one caller's cancellation cannot fail the rest;
	// a cancelled caller stops waiting but the shared build completes.
	buildCtx := context.WithoutCancel(ctx)
	ch := o.inflight.DoChan(key, func() (any, error) {
		return o.build(buildCtx, key, req, start), nil
	})

	select {
	case <-ctx.Done():
		return &model.ExtractionResult{
			Success:    false,
			Error:      ctx.Err().Error(),
			DurationMS: msSince(start),
		}
	case v := <-ch:
		shared := v.Val.(*model.ExtractionResult)

		// Each caller gets its own copy with its own elapsed time.
		res := *shared
		res.DurationMS = msSince(start)
		return &res
	}
}

// build executes BUILD_PROMPT through PERSIST for a cache miss. start is the
// winning caller's entry time; the elapsed time is stamped before the run is
// recorded so the run history carries real durations.
func (o *Orchestrator) build(ctx context.Context, key string, req Request, start time.Time) *model.ExtractionResult {
	prompt := req.Builder(req.Country, combineDocuments(req.Documents), req.Context)

	inv, err := o.client.Invoke(ctx, llm.InvocationRequest{
		Prompt:        prompt,
		ModelOverride: req.ModelOverride,
	})
	if err != nil {
		zap.L().Warn("extract: invocation exhausted",
			zap.String("fingerprint", key),
			zap.String("parameter", req.ParameterID),
			zap.Error(err),
		)
		return o.fail(ctx, key, req, "", err.Error(), start)
	}

	parser := req.Parser
	if parser == nil {
		parser = func(raw, _ string) (map[string]any, error) { return ParseObject(raw) }
	}
	parsed, err := parser(inv.Text, req.Country)
	if err != nil {
		zap.L().Warn("extract: unparseable model output",
			zap.String("fingerprint", key),
			zap.String("model", inv.Model),
			zap.Error(err),
		)
		return o.fail(ctx, key, req, inv.Model, "Invalid JSON in response", start)
	}

	if req.Validator != nil {
		if ok, msg := req.Validator(parsed, req.Country); !ok {
			zap.L().Warn("extract: validation rejected",
				zap.String("fingerprint", key),
				zap.String("reason", msg),
			)
			return o.fail(ctx, key, req, inv.Model, "Validation error: "+msg, start)
		}
	}

	data := o.assemble(parsed, req, inv)
	if o.cfg.UseCache {
		o.cache.Set(ctx, key, data, o.cfg.CacheTTL)
	}

	res := &model.ExtractionResult{Success: true, Data: data, Cached: false, DurationMS: msSince(start)}
	o.recordCost(ctx, key, req, res, inv.Model, inv.CostUSD)
	return res
}

// assemble maps the validated parse output onto ExtractedData: typed value,
// confidence bucket, document attribution, and invocation identity.
func (o *Orchestrator) assemble(parsed map[string]any, req Request, inv *llm.InvocationResult) *model.ExtractedData {
	confidence, _ := toFloat64(parsed["confidence"])
	justification, _ := parsed["justification"].(string)

	data := &model.ExtractedData{
		Value:           valueOf(parsed["value"]),
		Confidence:      confidence,
		ConfidenceLevel: model.BucketConfidence(confidence),
		Justification:   justification,
		Quotes:          toStrings(parsed["quotes"]),
		Sources:         sourceRefs(req.Documents),
		Metadata: map[string]string{
			"model":     inv.Model,
			"parameter": req.ParameterID,
			"country":   req.Country,
		},
		Timestamp: o.nowFunc().UTC(),
	}
	return data
}

func (o *Orchestrator) fail(ctx context.Context, key string, req Request, modelID, msg string, start time.Time) *model.ExtractionResult {
	res := &model.ExtractionResult{Success: false, Error: msg, DurationMS: msSince(start)}
	o.recordCost(ctx, key, req, res, modelID, 0)
	return res
}

func (o *Orchestrator) record(ctx context.Context, key string, req Request, res *model.ExtractionResult) {
	o.recordCost(ctx, key, req, res, "", 0)
}

func (o *Orchestrator) recordCost(ctx context.Context, key string, req Request, res *model.ExtractionResult, modelID string, cost float64) {
	if o.recorder == nil {
		return
	}
	err := o.recorder.RecordRun(ctx, RunRecord{
		Fingerprint: key,
		ParameterID: req.ParameterID,
		Country:     req.Country,
		Model:       modelID,
		Success:     res.Success,
		Cached:      res.Cached,
		Error:       res.Error,
		CostUSD:     cost,
		DurationMS:  res.DurationMS,
	})
	if err != nil {
		zap.L().Warn("extract: run recording failed",
			zap.String("fingerprint", key),
			zap.Error(err),
		)
	}
}

// combineDocuments concatenates document contents under per-document source
// headers.
func combineDocuments(docs []model.Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		source := d.Metadata.Source
		if source == "" {
			source = "unknown"
		}
		parts[i] = "--- " + source + " ---\n" + d.Content
	}
	return strings.Join(parts, "\n\n")
}

func sourceRefs(docs []model.Document) []model.SourceRef {
	if len(docs) == 0 {
		return nil
	}
	refs := make([]model.SourceRef, len(docs))
	for i, d := range docs {
		refs[i] = model.SourceRef{
			Source: d.Metadata.Source,
			Title:  d.Metadata.Title,
			URL:    d.Metadata.URL,
			Type:   d.Metadata.Type,
		}
	}
	return refs
}

// valueOf types the parsed "value" field: numbers stay numeric, "80%" style
// strings become percentages, other strings stay text, anything else is
// carried raw.
func valueOf(v any) model.ScoreValue {
	switch t := v.(type) {
	case float64:
		return model.NumberValue(t)
	case string:
		if n, ok := percentString(t); ok {
			return model.PercentValue(n)
		}
		return model.TextValue(t)
	default:
		return model.RawValue(v)
	}
}

func percentString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
