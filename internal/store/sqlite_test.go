package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-group/scorecard-cli/internal/cache"
	"github.com/meridian-group/scorecard-cli/internal/model"
	"github.com/meridian-group/scorecard-cli/pkg/llm"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testEntry(ttl time.Duration) cache.Entry {
	now := time.Now().UTC().Truncate(time.Second)
	return cache.Entry{
		Value: &model.ExtractedData{
			Value:           model.NumberValue(80),
			Confidence:      0.9,
			ConfidenceLevel: model.ConfidenceHigh,
			Justification:   "Binding renewable electricity target for 2030.",
			Timestamp:       now,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// --- Cache entries ---

func TestSQLite_Entry_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := testEntry(time.Hour)
	require.NoError(t, st.SetEntry(ctx, "ambition:germany:abc", e))

	got, err := st.GetEntry(ctx, "ambition:germany:abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.Value, got.Value)
	assert.True(t, e.ExpiresAt.Equal(got.ExpiresAt))
}

func TestSQLite_Entry_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetEntry(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_Entry_Expired(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetEntry(ctx, "stale", testEntry(-time.Hour)))

	got, err := st.GetEntry(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, got) // Should not be returned (expired)
}

func TestSQLite_Entry_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetEntry(ctx, "k", testEntry(time.Hour)))

	fresh := testEntry(2 * time.Hour)
	fresh.Value.Value = model.NumberValue(55)
	require.NoError(t, st.SetEntry(ctx, "k", fresh))

	got, err := st.GetEntry(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	n, _ := got.Value.Value.Float()
	assert.Equal(t, 55.0, n)
}

func TestSQLite_Entry_DeleteAndClear(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetEntry(ctx, "a", testEntry(time.Hour)))
	require.NoError(t, st.SetEntry(ctx, "b", testEntry(time.Hour)))

	require.NoError(t, st.DeleteEntry(ctx, "a"))
	got, err := st.GetEntry(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, st.ClearEntries(ctx))
	got, err = st.GetEntry(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_SweepExpired(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetEntry(ctx, "live", testEntry(time.Hour)))
	require.NoError(t, st.SetEntry(ctx, "dead1", testEntry(-time.Minute)))
	require.NoError(t, st.SetEntry(ctx, "dead2", testEntry(-time.Hour)))

	n, err := st.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := st.GetEntry(ctx, "live")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

// --- Run history ---

func TestSQLite_RecordAndListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	runs := []ExtractionRun{
		{Fingerprint: "f1", ParameterID: "ambition", Country: "Germany", Model: "sonnet", Success: true, CostUSD: 0.01, DurationMS: 1200, CreatedAt: base.Add(-2 * time.Minute)},
		{Fingerprint: "f2", ParameterID: "ambition", Country: "France", Success: false, Error: "Invalid JSON in response", CreatedAt: base.Add(-time.Minute)},
		{Fingerprint: "f3", ParameterID: "transparency", Country: "Germany", Success: true, Cached: true, CreatedAt: base},
	}
	for _, r := range runs {
		require.NoError(t, st.RecordRun(ctx, r))
	}

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "f3", all[0].Fingerprint)
	assert.NotEmpty(t, all[0].ID)

	germany, err := st.ListRuns(ctx, RunFilter{Country: "Germany"})
	require.NoError(t, err)
	assert.Len(t, germany, 2)

	ambition, err := st.ListRuns(ctx, RunFilter{ParameterID: "ambition", Country: "Germany"})
	require.NoError(t, err)
	require.Len(t, ambition, 1)
	assert.Equal(t, "f1", ambition[0].Fingerprint)
	assert.Equal(t, 0.01, ambition[0].CostUSD)

	failed, err := st.ListRuns(ctx, RunFilter{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "Invalid JSON in response", failed[0].Error)
}

func TestSQLite_ListRuns_Pagination(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.RecordRun(ctx, ExtractionRun{
			Fingerprint: "f", ParameterID: "ambition", Country: "Chile",
			Success:   true,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := st.ListRuns(ctx, RunFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestSQLite_RecordUsage(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.RecordUsage(context.Background(), llm.UsageSnapshot{
		Requests:       10,
		Successes:      8,
		Failures:       2,
		PromptTokens:   5000,
		ResponseTokens: 900,
		CostUSD:        0.42,
		AvgLatencyMS:   850,
	})
	require.NoError(t, err)
}

// --- Adapters ---

func TestSQLite_AsDurableTier(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := cache.New(NewCacheTier(st))
	data := testEntry(time.Hour).Value
	c.Set(ctx, "key", data, time.Hour)

	// A second cache over the same store warms from the durable tier.
	c2 := cache.New(NewCacheTier(st))
	got, ok := c2.Get(ctx, "key")
	require.True(t, ok)
	assert.Equal(t, data, got)
}
