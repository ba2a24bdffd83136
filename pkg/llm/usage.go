package llm

import "sync"

// UsageStats accumulates invocation telemetry across a process lifetime.
// Safe for concurrent use.
type UsageStats struct {
	mu sync.Mutex

	requests       int64
	successes      int64
	failures       int64
	promptTokens   int64
	responseTokens int64
	costUSD        float64
	latencyMS      float64 // sum over successful calls
}

// UsageSnapshot is a point-in-time copy of the accumulated stats.
type UsageSnapshot struct {
	Requests       int64   `json:"requests"`
	Successes      int64   `json:"successes"`
	Failures       int64   `json:"failures"`
	PromptTokens   int64   `json:"prompt_tokens"`
	ResponseTokens int64   `json:"response_tokens"`
	CostUSD        float64 `json:"cost_usd"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
}

// NewUsageStats returns an empty accumulator.
func NewUsageStats() *UsageStats {
	return &UsageStats{}
}

// RecordSuccess adds one successful invocation's telemetry.
func (s *UsageStats) RecordSuccess(res *InvocationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	s.successes++
	s.promptTokens += res.PromptTokens
	s.responseTokens += res.CompletionTokens
	s.costUSD += res.CostUSD
	s.latencyMS += res.LatencyMS
}

// RecordFailure adds one failed invocation attempt.
func (s *UsageStats) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	s.failures++
}

// Snapshot returns the current totals. Average latency is computed over
// successful calls only.
func (s *UsageStats) Snapshot() UsageSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := UsageSnapshot{
		Requests:       s.requests,
		Successes:      s.successes,
		Failures:       s.failures,
		PromptTokens:   s.promptTokens,
		ResponseTokens: s.responseTokens,
		CostUSD:        s.costUSD,
	}
	if s.successes > 0 {
		snap.AvgLatencyMS = s.latencyMS / float64(s.successes)
	}
	return snap
}
