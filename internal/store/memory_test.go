package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tnixon/many-model-forecasting/internal/api"
	"github.com/tnixon/many-model-forecasting/internal/eval"
)

func sampleTable() *api.ResultTable {
	return &api.ResultTable{
		GroupIDCol: "unique_id",
		DateCol:    "ds",
		TargetCol:  "y",
		Rows: []api.EntityForecast{
			{
				Key:        "a",
				Timestamps: []time.Time{time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)},
				Values:     []float64{42},
			},
		},
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.SaveForecasts(ctx, "run-1", sampleTable()); err != nil {
		t.Fatalf("SaveForecasts failed: %v", err)
	}

	row, err := s.GetForecast(ctx, "run-1", "a")
	if err != nil {
		t.Fatalf("GetForecast failed: %v", err)
	}
	if row.Values[0] != 42 {
		t.Errorf("got %v, want 42", row.Values[0])
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	s, _ := NewMemoryStore("")
	defer s.Close()

	ctx := context.Background()
	if _, err := s.GetForecast(ctx, "missing-run", "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}

	s.SaveForecasts(ctx, "run-1", sampleTable())
	if _, err := s.GetForecast(ctx, "run-1", "missing-key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSnapshotPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	ctx := context.Background()

	s, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	if err := s.SaveForecasts(ctx, "run-1", sampleTable()); err != nil {
		t.Fatalf("SaveForecasts failed: %v", err)
	}
	records := []eval.MetricRecord{{
		Key:         "a",
		EvalDate:    time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC),
		MetricName:  "smape",
		MetricValue: 0.05,
	}}
	if err := s.SaveMetrics(ctx, "run-1", records); err != nil {
		t.Fatalf("SaveMetrics failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh store over the same snapshot sees the saved run.
	reopened, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	row, err := reopened.GetForecast(ctx, "run-1", "a")
	if err != nil {
		t.Fatalf("GetForecast after reopen failed: %v", err)
	}
	if row.Values[0] != 42 {
		t.Errorf("got %v, want 42", row.Values[0])
	}

	got := reopened.GetMetrics(ctx, "run-1")
	if len(got) != 1 || got[0].MetricValue != 0.05 {
		t.Errorf("metrics after reopen = %+v, want one smape record", got)
	}
}
