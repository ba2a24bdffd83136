// Package store persists the durable cache tier, extraction run history,
// and usage snapshots behind one Store interface with sqlite and Postgres
// implementations.
package store

import (
	"context"
	"time"

	"github.com/meridian-group/scorecard-cli/internal/cache"
	"github.com/meridian-group/scorecard-cli/pkg/llm"
)

// ExtractionRun is one recorded extraction outcome.
type ExtractionRun struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	ParameterID string    `json:"parameter_id"`
	Country     string    `json:"country"`
	Model       string    `json:"model,omitempty"`
	Success     bool      `json:"success"`
	Cached      bool      `json:"cached"`
	Error       string    `json:"error,omitempty"`
	CostUSD     float64   `json:"cost_usd"`
	DurationMS  float64   `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunFilter specifies criteria for listing extraction runs.
type RunFilter struct {
	ParameterID string `json:"parameter_id,omitempty"`
	Country     string `json:"country,omitempty"`
	FailedOnly  bool   `json:"failed_only,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the scorecard pipeline.
type Store interface {
	// Durable cache tier
	GetEntry(ctx context.Context, key string) (*cache.Entry, error)
	SetEntry(ctx context.Context, key string, e cache.Entry) error
	DeleteEntry(ctx context.Context, key string) error
	ClearEntries(ctx context.Context) error
	SweepExpired(ctx context.Context) (int, error)

	// Run history
	RecordRun(ctx context.Context, run ExtractionRun) error
	ListRuns(ctx context.Context, filter RunFilter) ([]ExtractionRun, error)

	// Usage snapshots
	RecordUsage(ctx context.Context, snap llm.UsageSnapshot) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
