// Package store persists forecast runs and their evaluation records.
// Backends: in-memory (with optional JSON snapshot), Postgres, Redis.
package store

import (
	"context"
	"errors"

	"github.com/tnixon/many-model-forecasting/internal/api"
	"github.com/tnixon/many-model-forecasting/internal/eval"
)

// ErrNotFound is returned when a requested forecast does not exist.
var ErrNotFound = errors.New("forecast not found")

// Store persists forecast result tables and metric records, keyed by run.
type Store interface {
	// SaveForecasts persists a run's full result table.
	SaveForecasts(ctx context.Context, runID string, table *api.ResultTable) error

	// SaveMetrics persists a run's per-entity metric records.
	SaveMetrics(ctx context.Context, runID string, records []eval.MetricRecord) error

	// GetForecast returns one entity's forecast row from a saved run,
	// or ErrNotFound.
	GetForecast(ctx context.Context, runID, key string) (*api.EntityForecast, error)

	// Close releases backend resources.
	Close() error
}
