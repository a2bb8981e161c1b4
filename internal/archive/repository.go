package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/settle/internal/settlement"
)

// ErrRunNotFound is returned when no archived run matches the lookup
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one archived settlement run
type RunRecord struct {
	ID             int64     `json:"id"`
	Provider       string    `json:"provider"`
	SourceID       string    `json:"source_id"`
	WindowStartMs  int64     `json:"window_start_ms"`
	WindowEndMs    int64     `json:"window_end_ms"`
	StepMs         int64     `json:"step_ms"`
	Method         string    `json:"method"`
	RoundingRule   string    `json:"rounding_rule"`
	Scalar         string    `json:"scalar"`
	RoundedInteger int64     `json:"rounded_integer"`
	Complete       bool      `json:"complete"`
	Contiguous     bool      `json:"contiguous"`
	ObservedCount  int       `json:"observed_count"`
	ExpectedCount  int       `json:"expected_count"`
	Endpoint       string    `json:"endpoint"`
	ComputedAt     time.Time `json:"computed_at"`

	// Result holds the full serialized result object
	Result json.RawMessage `json:"result,omitempty"`
}

// RunRepository archives settlement runs and their raw upstream pages
type RunRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository creates a new run repository
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// EnsureSchema creates the archive tables when they do not exist yet
func (r *RunRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS settle`,
		`CREATE TABLE IF NOT EXISTS settle.runs (
			id               BIGSERIAL PRIMARY KEY,
			provider         TEXT NOT NULL,
			source_id        TEXT NOT NULL,
			window_start_ms  BIGINT NOT NULL,
			window_end_ms    BIGINT NOT NULL,
			step_ms          BIGINT NOT NULL,
			method           TEXT NOT NULL,
			rounding_rule    TEXT NOT NULL,
			scalar           NUMERIC NOT NULL,
			rounded_integer  BIGINT NOT NULL,
			complete         BOOLEAN NOT NULL,
			contiguous       BOOLEAN NOT NULL,
			observed_count   INTEGER NOT NULL,
			expected_count   INTEGER NOT NULL,
			endpoint         TEXT NOT NULL,
			computed_at      TIMESTAMPTZ NOT NULL,
			result           JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS runs_source_window_idx
			ON settle.runs (provider, source_id, window_start_ms, window_end_ms)`,
		`CREATE TABLE IF NOT EXISTS settle.raw_pages (
			run_id   BIGINT NOT NULL REFERENCES settle.runs(id) ON DELETE CASCADE,
			page_no  INTEGER NOT NULL,
			payload  JSONB NOT NULL,
			PRIMARY KEY (run_id, page_no)
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure archive schema failed: %w", err)
		}
	}
	return nil
}

// SaveRun archives one settlement result together with the raw pages it
// consumed. The run and its pages commit atomically.
func (r *RunRepository) SaveRun(ctx context.Context, result *settlement.Result) (int64, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("marshal result failed: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO settle.runs (
			provider, source_id, window_start_ms, window_end_ms, step_ms,
			method, rounding_rule, scalar, rounded_integer,
			complete, contiguous, observed_count, expected_count,
			endpoint, computed_at, result
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`

	var id int64
	err = tx.QueryRow(ctx, query,
		result.Source.Provider,
		result.Source.SourceID,
		result.Window.Start,
		result.Window.End,
		result.Window.StepMillis,
		string(result.Aggregation.Method),
		string(result.Aggregation.RoundingRule),
		result.Aggregation.Scalar.String(),
		result.Aggregation.RoundedInteger,
		result.Aggregation.Complete,
		result.Aggregation.Contiguous,
		result.Aggregation.ObservedCount,
		result.Aggregation.ExpectedCount,
		result.Source.Endpoint,
		time.UnixMilli(result.ComputedAtMillis).UTC(),
		resultJSON,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	for i, page := range result.RawPages {
		_, err = tx.Exec(ctx,
			`INSERT INTO settle.raw_pages (run_id, page_no, payload) VALUES ($1, $2, $3)`,
			id, i, page,
		)
		if err != nil {
			return 0, err
		}
	}

	return id, tx.Commit(ctx)
}

// GetRun retrieves one archived run by id
func (r *RunRepository) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	query := `
		SELECT id, provider, source_id, window_start_ms, window_end_ms, step_ms,
		       method, rounding_rule, scalar::text, rounded_integer,
		       complete, contiguous, observed_count, expected_count,
		       endpoint, computed_at, result
		FROM settle.runs
		WHERE id = $1
	`

	var rec RunRecord
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Provider, &rec.SourceID,
		&rec.WindowStartMs, &rec.WindowEndMs, &rec.StepMs,
		&rec.Method, &rec.RoundingRule, &rec.Scalar, &rec.RoundedInteger,
		&rec.Complete, &rec.Contiguous, &rec.ObservedCount, &rec.ExpectedCount,
		&rec.Endpoint, &rec.ComputedAt, &rec.Result,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns retrieves recent runs, newest first, optionally filtered by
// source identifier
func (r *RunRepository) ListRuns(ctx context.Context, sourceID string, limit int) ([]RunRecord, error) {
	query := `
		SELECT id, provider, source_id, window_start_ms, window_end_ms, step_ms,
		       method, rounding_rule, scalar::text, rounded_integer,
		       complete, contiguous, observed_count, expected_count,
		       endpoint, computed_at
		FROM settle.runs
		WHERE ($1 = '' OR source_id = $1)
		ORDER BY computed_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(
			&rec.ID, &rec.Provider, &rec.SourceID,
			&rec.WindowStartMs, &rec.WindowEndMs, &rec.StepMs,
			&rec.Method, &rec.RoundingRule, &rec.Scalar, &rec.RoundedInteger,
			&rec.Complete, &rec.Contiguous, &rec.ObservedCount, &rec.ExpectedCount,
			&rec.Endpoint, &rec.ComputedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestRawPages retrieves the raw pages of the most recent run for the
// same provider, source and window. Used as a fallback when the
// upstream is unavailable and an earlier run already captured the data.
func (r *RunRepository) LatestRawPages(ctx context.Context, provider, sourceID string, windowStartMs, windowEndMs int64) ([]json.RawMessage, error) {
	query := `
		SELECT rp.payload
		FROM settle.raw_pages rp
		JOIN settle.runs ru ON ru.id = rp.run_id
		WHERE ru.provider = $1 AND ru.source_id = $2
		  AND ru.window_start_ms = $3 AND ru.window_end_ms = $4
		  AND ru.id = (
			SELECT MAX(id) FROM settle.runs
			WHERE provider = $1 AND source_id = $2
			  AND window_start_ms = $3 AND window_end_ms = $4
		  )
		ORDER BY rp.page_no ASC
	`

	rows, err := r.pool.Query(ctx, query, provider, sourceID, windowStartMs, windowEndMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []json.RawMessage
	for rows.Next() {
		var payload json.RawMessage
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		pages = append(pages, payload)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no archived pages for %s/%s window [%d, %d)",
			ErrRunNotFound, provider, sourceID, windowStartMs, windowEndMs)
	}
	return pages, rows.Err()
}
