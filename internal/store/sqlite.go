package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/meridian-group/scorecard-cli/internal/cache"
	"github.com/meridian-group/scorecard-cli/internal/model"
	"github.com/meridian-group/scorecard-cli/pkg/llm"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

// Timestamps are stored as RFC3339 UTC strings so expiry comparisons work
// lexicographically in SQL.
const sqliteTimeLayout = time.RFC3339

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS extraction_runs (
	id           TEXT PRIMARY KEY,
	fingerprint  TEXT NOT NULL,
	parameter_id TEXT NOT NULL,
	country      TEXT NOT NULL,
	model        TEXT,
	success      INTEGER NOT NULL,
	cached       INTEGER NOT NULL,
	error        TEXT,
	cost_usd     REAL NOT NULL DEFAULT 0,
	duration_ms  REAL NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_log (
	id              TEXT PRIMARY KEY,
	requests        INTEGER NOT NULL,
	successes       INTEGER NOT NULL,
	failures        INTEGER NOT NULL,
	prompt_tokens   INTEGER NOT NULL,
	response_tokens INTEGER NOT NULL,
	cost_usd        REAL NOT NULL,
	avg_latency_ms  REAL NOT NULL,
	recorded_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_fingerprint ON extraction_runs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_param_country ON extraction_runs(parameter_id, country);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_created_at ON extraction_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetEntry(ctx context.Context, key string) (*cache.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value, created_at, expires_at FROM cache_entries WHERE key = ?`,
		key,
	)

	var valueJSON, createdAt, expiresAt string
	if err := row.Scan(&valueJSON, &createdAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get entry %s", key)
	}

	e, err := entryFromRow(valueJSON, createdAt, expiresAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode entry %s", key)
	}
	if e.Expired(s.nowFunc()) {
		return nil, nil
	}
	return e, nil
}

func (s *SQLiteStore) SetEntry(ctx context.Context, key string, e cache.Entry) error {
	valueJSON, err := json.Marshal(e.Value)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal entry value")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, string(valueJSON),
		e.CreatedAt.UTC().Format(sqliteTimeLayout),
		e.ExpiresAt.UTC().Format(sqliteTimeLayout),
	)
	return eris.Wrapf(err, "sqlite: set entry %s", key)
}

func (s *SQLiteStore) DeleteEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return eris.Wrapf(err, "sqlite: delete entry %s", key)
}

func (s *SQLiteStore) ClearEntries(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return eris.Wrap(err, "sqlite: clear entries")
}

func (s *SQLiteStore) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`,
		s.nowFunc().UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep expired")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run ExtractionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.nowFunc()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_runs
			(id, fingerprint, parameter_id, country, model, success, cached, error, cost_usd, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Fingerprint, run.ParameterID, run.Country, run.Model,
		boolInt(run.Success), boolInt(run.Cached), run.Error,
		run.CostUSD, run.DurationMS,
		run.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	return eris.Wrapf(err, "sqlite: record run %s", run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]ExtractionRun, error) {
	query := `SELECT id, fingerprint, parameter_id, country, model, success, cached, error, cost_usd, duration_ms, created_at
		FROM extraction_runs WHERE 1=1`
	var args []any

	if filter.ParameterID != "" {
		query += ` AND parameter_id = ?`
		args = append(args, filter.ParameterID)
	}
	if filter.Country != "" {
		query += ` AND country = ?`
		args = append(args, filter.Country)
	}
	if filter.FailedOnly {
		query += ` AND success = 0`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []ExtractionRun
	for rows.Next() {
		var (
			r               ExtractionRun
			success, cached int
			createdAt       string
		)
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.ParameterID, &r.Country,
			&r.Model, &success, &cached, &r.Error, &r.CostUSD, &r.DurationMS, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Success = success != 0
		r.Cached = cached != 0
		if r.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse run timestamp %q", createdAt)
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, snap llm.UsageSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log
			(id, requests, successes, failures, prompt_tokens, response_tokens, cost_usd, avg_latency_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), snap.Requests, snap.Successes, snap.Failures,
		snap.PromptTokens, snap.ResponseTokens, snap.CostUSD, snap.AvgLatencyMS,
		s.nowFunc().UTC().Format(sqliteTimeLayout),
	)
	return eris.Wrap(err, "sqlite: record usage")
}

func entryFromRow(valueJSON, createdAt, expiresAt string) (*cache.Entry, error) {
	var value model.ExtractedData
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		return nil, eris.Wrap(err, "decode value")
	}
	created, err := time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "parse created_at %q", createdAt)
	}
	expires, err := time.Parse(sqliteTimeLayout, expiresAt)
	if err != nil {
		return nil, eris.Wrapf(err, "parse expires_at %q", expiresAt)
	}
	return &cache.Entry{Value: &value, CreatedAt: created, ExpiresAt: expires}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
