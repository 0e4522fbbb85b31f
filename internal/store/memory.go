package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tnixon/many-model-forecasting/internal/api"
	"github.com/tnixon/many-model-forecasting/internal/eval"
)

// MemoryStore keeps runs in process memory, optionally snapshotting to a
// JSON file so runs survive restarts. Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	forecasts   map[string]*api.ResultTable    // runID -> table
	metrics     map[string][]eval.MetricRecord // runID -> records
	persistPath string
}

type memorySnapshot struct {
	Forecasts map[string]*api.ResultTable    `json:"forecasts"`
	Metrics   map[string][]eval.MetricRecord `json:"metrics"`
}

// NewMemoryStore creates an in-memory store. If persistPath is non-empty,
// existing state is loaded from it and every mutation rewrites it.
func NewMemoryStore(persistPath string) (*MemoryStore, error) {
	s := &MemoryStore{
		forecasts:   make(map[string]*api.ResultTable),
		metrics:     make(map[string][]eval.MetricRecord),
		persistPath: persistPath,
	}
	if persistPath != "" {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
	}
	return s, nil
}

func (s *MemoryStore) load() error {
	data, err := os.ReadFile(s.persistPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Forecasts != nil {
		s.forecasts = snap.Forecasts
	}
	if snap.Metrics != nil {
		s.metrics = snap.Metrics
	}
	return nil
}

// save writes the snapshot. Caller holds the lock.
func (s *MemoryStore) save() error {
	if s.persistPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(memorySnapshot{
		Forecasts: s.forecasts,
		Metrics:   s.metrics,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.persistPath, data, 0644)
}

// SaveForecasts stores a run's result table, replacing any prior table for
// the same run.
func (s *MemoryStore) SaveForecasts(ctx context.Context, runID string, table *api.ResultTable) error {
	if table == nil {
		return fmt.Errorf("table is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forecasts[runID] = table
	return s.save()
}

// SaveMetrics stores a run's metric records, replacing any prior records.
func (s *MemoryStore) SaveMetrics(ctx context.Context, runID string, records []eval.MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics[runID] = records
	return s.save()
}

// GetForecast returns one entity's forecast row from a saved run.
func (s *MemoryStore) GetForecast(ctx context.Context, runID, key string) (*api.EntityForecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.forecasts[runID]
	if !ok {
		return nil, ErrNotFound
	}
	row := table.Row(key)
	if row == nil {
		return nil, ErrNotFound
	}
	out := *row
	return &out, nil
}

// GetMetrics returns a run's metric records, or nil if the run is unknown.
func (s *MemoryStore) GetMetrics(ctx context.Context, runID string) []eval.MetricRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics[runID]
}

// Close snapshots any pending state.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}
