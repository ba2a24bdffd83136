package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-group/scorecard-cli/internal/cache"
	"github.com/meridian-group/scorecard-cli/internal/extract"
	"github.com/meridian-group/scorecard-cli/internal/model"
	"github.com/meridian-group/scorecard-cli/internal/params"
	"github.com/meridian-group/scorecard-cli/internal/store"
	"github.com/meridian-group/scorecard-cli/pkg/llm"
)

// stubClient returns a fixed model response for every invocation.
type stubClient struct {
	text string
}

func (s *stubClient) Invoke(_ context.Context, req llm.InvocationRequest) (*llm.InvocationResult, error) {
	return &llm.InvocationResult{Text: s.text, Model: "stub-model"}, nil
}

// newTestEnv builds a pipelineEnv with a temp sqlite store and a stub model
// client, the same wiring as initPipeline without provider credentials.
func newTestEnv(t *testing.T, responseText string) *pipelineEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	resultCache := cache.New(nil)
	orch := extract.New(resultCache, &stubClient{text: responseText}, store.NewRunRecorder(st), extract.Config{
		UseCache: true,
		CacheTTL: time.Hour,
	})

	return &pipelineEnv{
		Store:        st,
		Cache:        resultCache,
		Stats:        llm.NewUsageStats(),
		Orchestrator: orch,
		Registry:     params.LoadDefault(),
	}
}

const validResponse = `{"value": 80, "confidence": 0.9, "justification": "Legislated 2030 emissions reduction target of 65 percent."}`

func TestServe_Health(t *testing.T) {
	router := newRouter(newTestEnv(t, validResponse), 100)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServe_Extract_Valid(t *testing.T) {
	router := newRouter(newTestEnv(t, validResponse), 100)

	payload := map[string]any{
		"parameter": "ambition",
		"country":   "Germany",
		"documents": []map[string]string{
			{"source": "ndc.txt", "content": "Germany targets 65% emissions reduction by 2030."},
		},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/extract", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var result model.ExtractionResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.True(t, result.Success)
	require.NotNil(t, result.Data)
	assert.Equal(t, model.ConfidenceHigh, result.Data.ConfidenceLevel)
}

func TestServe_Extract_UnknownParameter(t *testing.T) {
	router := newRouter(newTestEnv(t, validResponse), 100)

	payload := map[string]any{
		"parameter": "nonexistent",
		"country":   "Germany",
		"documents": []map[string]string{{"source": "a.txt", "content": "text"}},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/extract", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServe_Extract_MissingFields(t *testing.T) {
	router := newRouter(newTestEnv(t, validResponse), 100)

	req := httptest.NewRequest(http.MethodPost, "/extract", bytes.NewReader([]byte(`{"parameter":"ambition"}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServe_Extract_InvalidModelOutput(t *testing.T) {
	router := newRouter(newTestEnv(t, "not json at all"), 100)

	payload := map[string]any{
		"parameter": "ambition",
		"country":   "Germany",
		"documents": []map[string]string{{"source": "a.txt", "content": "text"}},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/extract", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var result model.ExtractionResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, "Invalid JSON in response", result.Error)
}

func TestServe_Runs(t *testing.T) {
	env := newTestEnv(t, validResponse)
	router := newRouter(env, 100)

	require.NoError(t, env.Store.RecordRun(context.Background(), store.ExtractionRun{
		Fingerprint: "f1", ParameterID: "ambition", Country: "Germany", Success: true,
	}))

	req := httptest.NewRequest(http.MethodGet, "/runs?country=Germany", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Runs []store.ExtractionRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "ambition", body.Runs[0].ParameterID)
}

func TestServe_Stats(t *testing.T) {
	router := newRouter(newTestEnv(t, validResponse), 100)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body, "usage")
	assert.Contains(t, body, "cache")
}

func TestServe_RateLimit(t *testing.T) {
	// Burst of 2 at 1 rps; the third immediate request is rejected.
	router := newRouter(newTestEnv(t, validResponse), 1)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		last = rr.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
