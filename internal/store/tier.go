package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-group/scorecard-cli/internal/cache"
	"github.com/meridian-group/scorecard-cli/internal/extract"
)

// CacheTier adapts a Store to the result cache's durable tier interface,
// letting the sqlite or Postgres backend serve as the second cache level.
type CacheTier struct {
	store Store
}

// NewCacheTier wraps a store as a cache.DurableTier.
func NewCacheTier(s Store) *CacheTier {
	return &CacheTier{store: s}
}

func (t *CacheTier) Get(ctx context.Context, key string) (*cache.Entry, error) {
	return t.store.GetEntry(ctx, key)
}

func (t *CacheTier) Set(ctx context.Context, key string, e cache.Entry) error {
	return t.store.SetEntry(ctx, key, e)
}

func (t *CacheTier) Delete(ctx context.Context, key string) error {
	return t.store.DeleteEntry(ctx, key)
}

func (t *CacheTier) Clear(ctx context.Context) error {
	return t.store.ClearEntries(ctx)
}

func (t *CacheTier) SweepExpired(ctx context.Context) (int, error) {
	return t.store.SweepExpired(ctx)
}

// RunRecorder adapts a Store to the orchestrator's Recorder interface.
type RunRecorder struct {
	store Store
}

// NewRunRecorder wraps a store as an extract.Recorder.
func NewRunRecorder(s Store) *RunRecorder {
	return &RunRecorder{store: s}
}

func (r *RunRecorder) RecordRun(ctx context.Context, run extract.RunRecord) error {
	return r.store.RecordRun(ctx, ExtractionRun{
		ID:          uuid.New().String(),
		Fingerprint: run.Fingerprint,
		ParameterID: run.ParameterID,
		Country:     run.Country,
		Model:       run.Model,
		Success:     run.Success,
		Cached:      run.Cached,
		Error:       run.Error,
		CostUSD:     run.CostUSD,
		DurationMS:  run.DurationMS,
		CreatedAt:   time.Now(),
	})
}
