package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-group/scorecard-cli/internal/cache"
	"github.com/meridian-group/scorecard-cli/internal/model"
	"github.com/meridian-group/scorecard-cli/pkg/llm"
)

// fakeClient returns a fixed response and counts invocations.
type fakeClient struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
	delay time.Duration
}

func (f *fakeClient) Invoke(_ context.Context, _ llm.InvocationRequest) (*llm.InvocationResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.InvocationResult{Text: f.text, Model: "stub-model", CostUSD: 0.01}, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type captureRecorder struct {
	mu   sync.Mutex
	runs []RunRecord
}

func (r *captureRecorder) RecordRun(_ context.Context, run RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func passthroughBuilder(country, combined string, _ map[string]any) string {
	return "Score " + country + " using:\n" + combined
}

func rangeValidator(parsed map[string]any, _ string) (bool, string) {
	conf, ok := toFloat64(parsed["confidence"])
	if !ok || conf < 0 || conf > 1 {
		return false, "confidence out of range"
	}
	return true, ""
}

func germanyRequest() Request {
	return Request{
		ParameterID: "ambition",
		Country:     "Germany",
		Documents: []model.Document{{
			Content: "The national plan targets 80% renewable electricity by 2030.",
			Metadata: model.DocumentMetadata{
				Source: "energiewende-report",
				Title:  "Energiewende Progress Report",
				URL:    "https://example.org/energiewende",
				Type:   "report",
			},
		}},
		Builder:   passthroughBuilder,
		Validator: rangeValidator,
	}
}

func newOrchestrator(client Client, rec Recorder) *Orchestrator {
	return New(cache.New(nil), client, rec, Config{UseCache: true, CacheTTL: time.Hour})
}

func TestExtract_EndToEnd(t *testing.T) {
	client := &fakeClient{text: "```json\n{\"value\": 80, \"confidence\": 0.9, \"justification\": \"Legally binding 80% renewable electricity target for 2030.\"}\n```"}
	o := newOrchestrator(client, nil)

	res := o.Extract(context.Background(), germanyRequest())
	require.True(t, res.Success, "error: %s", res.Error)
	require.NotNil(t, res.Data)
	assert.False(t, res.Cached)

	got, ok := res.Data.Value.Float()
	require.True(t, ok)
	assert.Equal(t, 80.0, got)
	assert.Equal(t, 0.9, res.Data.Confidence)
	assert.Equal(t, model.ConfidenceHigh, res.Data.ConfidenceLevel)
	assert.Contains(t, res.Data.Justification, "80% renewable")

	require.Len(t, res.Data.Sources, 1)
	assert.Equal(t, "energiewende-report", res.Data.Sources[0].Source)
	assert.Equal(t, "https://example.org/energiewende", res.Data.Sources[0].URL)

	assert.Equal(t, "stub-model", res.Data.Metadata["model"])
	assert.Equal(t, "ambition", res.Data.Metadata["parameter"])
	assert.Equal(t, "Germany", res.Data.Metadata["country"])
}

func TestExtract_CachedIdempotence(t *testing.T) {
	client := &fakeClient{text: `{"value": 80, "confidence": 0.9, "justification": "Binding renewable electricity target for 2030."}`}
	o := newOrchestrator(client, nil)
	req := germanyRequest()

	first := o.Extract(context.Background(), req)
	require.True(t, first.Success)
	assert.False(t, first.Cached)

	second := o.Extract(context.Background(), req)
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, client.callCount(), "cache hit must not re-invoke the model")
}

func TestExtract_CacheDisabled(t *testing.T) {
	client := &fakeClient{text: `{"value": 1, "confidence": 0.6, "justification": "A sufficiently long justification here."}`}
	o := New(cache.New(nil), client, nil, Config{UseCache: false})
	req := germanyRequest()

	first := o.Extract(context.Background(), req)
	second := o.Extract(context.Background(), req)
	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.False(t, second.Cached)
	assert.Equal(t, 2, client.callCount())
}

func TestExtract_InvalidJSON(t *testing.T) {
	client := &fakeClient{text: "I cannot find this information in the documents."}
	o := newOrchestrator(client, nil)
	req := germanyRequest()

	res := o.Extract(context.Background(), req)
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid JSON in response", res.Error)
	assert.Nil(t, res.Data)

	// Failures are never cached: the next call invokes again.
	o.Extract(context.Background(), req)
	assert.Equal(t, 2, client.callCount())
}

func TestExtract_ValidationRejected(t *testing.T) {
	client := &fakeClient{text: `{"value": 80, "confidence": 1.5, "justification": "Confidence above the allowed range."}`}
	o := newOrchestrator(client, nil)
	req := germanyRequest()

	res := o.Extract(context.Background(), req)
	assert.False(t, res.Success)
	assert.Equal(t, "Validation error: confidence out of range", res.Error)

	// Rejected results must not poison the cache.
	o.Extract(context.Background(), req)
	assert.Equal(t, 2, client.callCount())
}

func TestExtract_ProviderExhaustion(t *testing.T) {
	client := &fakeClient{err: errors.New("llm: all attempts exhausted: 529 overloaded")}
	o := newOrchestrator(client, nil)

	res := o.Extract(context.Background(), germanyRequest())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "exhausted")
	assert.Nil(t, res.Data)
}

func TestExtract_SharedInflightBuild(t *testing.T) {
	client := &fakeClient{
		text:  `{"value": 80, "confidence": 0.9, "justification": "Binding renewable electricity target for 2030."}`,
		delay: 50 * time.Millisecond,
	}
	o := newOrchestrator(client, nil)
	req := germanyRequest()

	const callers = 8
	results := make([]*model.ExtractionResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Extract(context.Background(), req)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, client.callCount(), "concurrent same-key extracts must share one invocation")
	for _, res := range results {
		require.True(t, res.Success)
		assert.Equal(t, results[0].Data, res.Data)
	}
}

func TestExtract_RecordsRuns(t *testing.T) {
	client := &fakeClient{text: `{"value": 80, "confidence": 0.9, "justification": "Binding renewable electricity target for 2030."}`}
	rec := &captureRecorder{}
	o := newOrchestrator(client, rec)
	req := germanyRequest()

	o.Extract(context.Background(), req)
	o.Extract(context.Background(), req) // cache hit

	require.Len(t, rec.runs, 2)
	built, hit := rec.runs[0], rec.runs[1]
	assert.True(t, built.Success)
	assert.False(t, built.Cached)
	assert.Equal(t, "stub-model", built.Model)
	assert.Equal(t, 0.01, built.CostUSD)
	assert.True(t, hit.Cached)
	assert.Equal(t, "ambition", hit.ParameterID)
	assert.Equal(t, "Germany", hit.Country)
}

func TestExtract_RecordsBuildDuration(t *testing.T) {
	client := &fakeClient{
		text:  `{"value": 80, "confidence": 0.9, "justification": "Binding renewable electricity target for 2030."}`,
		delay: 20 * time.Millisecond,
	}
	rec := &captureRecorder{}
	o := newOrchestrator(client, rec)

	res := o.Extract(context.Background(), germanyRequest())
	require.True(t, res.Success)

	require.Len(t, rec.runs, 1)
	assert.False(t, rec.runs[0].Cached)
	assert.Greater(t, rec.runs[0].DurationMS, 0.0,
		"a built run must carry the real invocation time")
}

func TestExtract_RecordsFailureDuration(t *testing.T) {
	client := &fakeClient{text: "nothing parseable", delay: 20 * time.Millisecond}
	rec := &captureRecorder{}
	o := newOrchestrator(client, rec)

	res := o.Extract(context.Background(), germanyRequest())
	require.False(t, res.Success)

	require.Len(t, rec.runs, 1)
	assert.False(t, rec.runs[0].Success)
	assert.Greater(t, rec.runs[0].DurationMS, 0.0)
}

// blockingClient holds every invocation until released.
type blockingClient struct {
	started chan struct{}
	release chan struct{}
	text    string

	mu    sync.Mutex
	calls int
}

func (b *blockingClient) Invoke(_ context.Context, _ llm.InvocationRequest) (*llm.InvocationResult, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	close(b.started)
	<-b.release
	return &llm.InvocationResult{Text: b.text, Model: "stub-model"}, nil
}

func (b *blockingClient) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestExtract_CancelledCallerDoesNotFailOthers(t *testing.T) {
	client := &blockingClient{
		started: make(chan struct{}),
		release: make(chan struct{}),
		text:    `{"value": 80, "confidence": 0.9, "justification": "Binding renewable electricity target for 2030."}`,
	}
	o := newOrchestrator(client, nil)
	req := germanyRequest()

	ctxA, cancelA := context.WithCancel(context.Background())
	resA := make(chan *model.ExtractionResult, 1)
	go func() { resA <- o.Extract(ctxA, req) }()
	<-client.started

	resB := make(chan *model.ExtractionResult, 1)
	go func() { resB <- o.Extract(context.Background(), req) }()
	time.Sleep(20 * time.Millisecond) // let the second caller join the in-flight build

	// Cancelling the first caller stops its wait but not the shared build.
	cancelA()
	a := <-resA
	assert.False(t, a.Success)
	assert.Contains(t, a.Error, "context canceled")

	close(client.release)
	b := <-resB
	require.True(t, b.Success, "error: %s", b.Error)
	assert.Equal(t, 1, client.callCount())
}

func TestExtract_PercentStringValue(t *testing.T) {
	client := &fakeClient{text: `{"value": "80%", "confidence": 0.8, "justification": "Share of renewables stated as a percentage."}`}
	o := newOrchestrator(client, nil)

	res := o.Extract(context.Background(), germanyRequest())
	require.True(t, res.Success)
	assert.Equal(t, model.ValuePercent, res.Data.Value.Kind)
	n, ok := res.Data.Value.Float()
	require.True(t, ok)
	assert.Equal(t, 80.0, n)
}
