package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/meridian-group/scorecard-cli/internal/cache"
	"github.com/meridian-group/scorecard-cli/internal/model"
	"github.com/meridian-group/scorecard-cli/pkg/llm"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (or mock) without dialing.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS extraction_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	fingerprint  TEXT NOT NULL,
	parameter_id TEXT NOT NULL,
	country      TEXT NOT NULL,
	model        TEXT,
	success      BOOLEAN NOT NULL,
	cached       BOOLEAN NOT NULL,
	error        TEXT,
	cost_usd     DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_ms  DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_log (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	requests        BIGINT NOT NULL,
	successes       BIGINT NOT NULL,
	failures        BIGINT NOT NULL,
	prompt_tokens   BIGINT NOT NULL,
	response_tokens BIGINT NOT NULL,
	cost_usd        DOUBLE PRECISION NOT NULL,
	avg_latency_ms  DOUBLE PRECISION NOT NULL,
	recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_fingerprint ON extraction_runs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_param_country ON extraction_runs(parameter_id, country);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_created_at ON extraction_runs(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, key string) (*cache.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT value, created_at, expires_at FROM cache_entries WHERE key = $1 AND expires_at > now()`,
		key,
	)

	var (
		valueJSON          []byte
		createdAt, expires time.Time
	)
	if err := row.Scan(&valueJSON, &createdAt, &expires); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get entry %s", key)
	}

	var value model.ExtractedData
	if err := json.Unmarshal(valueJSON, &value); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode entry %s", key)
	}
	return &cache.Entry{Value: &value, CreatedAt: createdAt, ExpiresAt: expires}, nil
}

func (s *PostgresStore) SetEntry(ctx context.Context, key string, e cache.Entry) error {
	valueJSON, err := json.Marshal(e.Value)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal entry value")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO cache_entries (key, value, created_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value,
			created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		key, valueJSON, e.CreatedAt.UTC(), e.ExpiresAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: set entry %s", key)
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, key)
	return eris.Wrapf(err, "postgres: delete entry %s", key)
}

func (s *PostgresStore) ClearEntries(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cache_entries`)
	return eris.Wrap(err, "postgres: clear entries")
}

func (s *PostgresStore) SweepExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sweep expired")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, run ExtractionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO extraction_runs
			(id, fingerprint, parameter_id, country, model, success, cached, error, cost_usd, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Fingerprint, run.ParameterID, run.Country, run.Model,
		run.Success, run.Cached, run.Error, run.CostUSD, run.DurationMS,
		run.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record run %s", run.ID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]ExtractionRun, error) {
	query := `SELECT id, fingerprint, parameter_id, country, model, success, cached, error, cost_usd, duration_ms, created_at
		FROM extraction_runs WHERE 1=1`
	var args []any

	if filter.ParameterID != "" {
		args = append(args, filter.ParameterID)
		query += ` AND parameter_id = $` + strconv.Itoa(len(args))
	}
	if filter.Country != "" {
		args = append(args, filter.Country)
		query += ` AND country = $` + strconv.Itoa(len(args))
	}
	if filter.FailedOnly {
		query += ` AND NOT success`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []ExtractionRun
	for rows.Next() {
		var r ExtractionRun
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.ParameterID, &r.Country,
			&r.Model, &r.Success, &r.Cached, &r.Error, &r.CostUSD, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RecordUsage(ctx context.Context, snap llm.UsageSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_log
			(id, requests, successes, failures, prompt_tokens, response_tokens, cost_usd, avg_latency_ms, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		uuid.New().String(), snap.Requests, snap.Successes, snap.Failures,
		snap.PromptTokens, snap.ResponseTokens, snap.CostUSD, snap.AvgLatencyMS,
	)
	return eris.Wrap(err, "postgres: record usage")
}
