package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tnixon/many-model-forecasting/internal/api"
	"github.com/tnixon/many-model-forecasting/internal/eval"
)

// PostgresStore persists runs in Postgres. Rewriting a run is idempotent:
// forecast rows and metric records upsert on (run_id, entity_key).
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS forecasts (
	run_id     TEXT NOT NULL,
	entity_key TEXT NOT NULL,
	timestamps JSONB NOT NULL,
	"values"   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, entity_key)
);

CREATE TABLE IF NOT EXISTS metric_records (
	run_id       TEXT NOT NULL,
	entity_key   TEXT NOT NULL,
	eval_date    TIMESTAMPTZ NOT NULL,
	metric_name  TEXT NOT NULL,
	metric_value DOUBLE PRECISION NOT NULL,
	actuals      JSONB NOT NULL,
	forecast     JSONB NOT NULL,
	blob         BYTEA,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, entity_key)
);
`

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// SaveForecasts upserts every row of the result table in one transaction,
// so a run is never partially visible.
func (s *PostgresStore) SaveForecasts(ctx context.Context, runID string, table *api.ResultTable) error {
	if table == nil {
		return fmt.Errorf("table is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range table.Rows {
		row := &table.Rows[i]
		timestamps, err := json.Marshal(row.Timestamps)
		if err != nil {
			return fmt.Errorf("failed to encode timestamps for %s: %w", row.Key, err)
		}
		values, err := json.Marshal(row.Values)
		if err != nil {
			return fmt.Errorf("failed to encode values for %s: %w", row.Key, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO forecasts (run_id, entity_key, timestamps, "values")
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (run_id, entity_key)
			DO UPDATE SET timestamps = EXCLUDED.timestamps, "values" = EXCLUDED."values"
		`, runID, row.Key, timestamps, values)
		if err != nil {
			return fmt.Errorf("failed to upsert forecast for %s: %w", row.Key, err)
		}
	}

	return tx.Commit(ctx)
}

// SaveMetrics upserts every metric record in one transaction.
func (s *PostgresStore) SaveMetrics(ctx context.Context, runID string, records []eval.MetricRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range records {
		rec := &records[i]
		actuals, err := json.Marshal(rec.Actuals)
		if err != nil {
			return fmt.Errorf("failed to encode actuals for %s: %w", rec.Key, err)
		}
		forecast, err := json.Marshal(rec.Forecast)
		if err != nil {
			return fmt.Errorf("failed to encode forecast for %s: %w", rec.Key, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO metric_records
				(run_id, entity_key, eval_date, metric_name, metric_value, actuals, forecast, blob)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (run_id, entity_key)
			DO UPDATE SET
				eval_date = EXCLUDED.eval_date,
				metric_name = EXCLUDED.metric_name,
				metric_value = EXCLUDED.metric_value,
				actuals = EXCLUDED.actuals,
				forecast = EXCLUDED.forecast,
				blob = EXCLUDED.blob
		`, runID, rec.Key, rec.EvalDate, rec.MetricName, rec.MetricValue, actuals, forecast, rec.Blob)
		if err != nil {
			return fmt.Errorf("failed to upsert metric record for %s: %w", rec.Key, err)
		}
	}

	return tx.Commit(ctx)
}

// GetForecast returns one entity's forecast row from a saved run.
func (s *PostgresStore) GetForecast(ctx context.Context, runID, key string) (*api.EntityForecast, error) {
	var timestamps, values []byte
	err := s.pool.QueryRow(ctx, `
		SELECT timestamps, "values" FROM forecasts
		WHERE run_id = $1 AND entity_key = $2
	`, runID, key).Scan(&timestamps, &values)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query forecast: %w", err)
	}

	row := &api.EntityForecast{Key: key}
	if err := json.Unmarshal(timestamps, &row.Timestamps); err != nil {
		return nil, fmt.Errorf("failed to decode timestamps: %w", err)
	}
	if err := json.Unmarshal(values, &row.Values); err != nil {
		return nil, fmt.Errorf("failed to decode values: %w", err)
	}
	return row, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
