package forecast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tnixon/many-model-forecasting/internal/api"
	"github.com/tnixon/many-model-forecasting/internal/cache"
	"github.com/tnixon/many-model-forecasting/internal/freq"
	"github.com/tnixon/many-model-forecasting/internal/runtime"
	"github.com/tnixon/many-model-forecasting/internal/series"
)

// fakeForecaster returns the series' last value repeated across the horizon,
// so joined rows can be traced back to their input series.
type fakeForecaster struct {
	horizon int
	calls   int64
	failKey string
}

func (f *fakeForecaster) Name() string { return "fake" }

func (f *fakeForecaster) Horizon() int { return f.horizon }

func (f *fakeForecaster) Forecast(ctx context.Context, s series.Series) ([]float64, error) {
	atomic.AddInt64(&f.calls, 1)
	if s.Key == f.failKey {
		return nil, errors.New("inference blew up")
	}
	out := make([]float64, f.horizon)
	last := s.Values[len(s.Values)-1]
	for i := range out {
		out[i] = last
	}
	return out, nil
}

func (f *fakeForecaster) Close() error { return nil }

func dailySeries(key string, startDay, n int, value float64) series.Series {
	s := series.Series{Key: key}
	for i := 0; i < n; i++ {
		s.Timestamps = append(s.Timestamps, dayTS(startDay+i))
		s.Values = append(s.Values, value)
	}
	return s
}

func newTestExecutor(t *testing.T, f Forecaster, partitions int) *Executor {
	t.Helper()
	off, err := freq.Parse("D")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	e, err := NewExecutor(ExecutorConfig{Forecaster: f, Offset: off, Partitions: partitions})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}
	return e
}

func TestExecutorJoinsByKey(t *testing.T) {
	f := &fakeForecaster{horizon: 3}
	e := newTestExecutor(t, f, 4)

	grouped := []series.Series{
		dailySeries("a", 1, 5, 1.0),
		dailySeries("b", 1, 7, 2.0),
		dailySeries("c", 1, 3, 3.0),
	}

	params := api.DefaultParams()
	params.Freq = "D"
	table, err := e.Run(context.Background(), grouped, params)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(table.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(table.Rows))
	}
	if table.GroupIDCol != params.GroupID || table.DateCol != params.DateCol || table.TargetCol != params.Target {
		t.Errorf("column names not carried through: %+v", table)
	}

	// Rows keep first-seen key order and values match their own series, not
	// a positional neighbor.
	wantValues := map[string]float64{"a": 1.0, "b": 2.0, "c": 3.0}
	for i, key := range []string{"a", "b", "c"} {
		row := table.Rows[i]
		if row.Key != key {
			t.Fatalf("row %d key = %s, want %s", i, row.Key, key)
		}
		for _, v := range row.Values {
			if v != wantValues[key] {
				t.Errorf("row %s values = %v, want all %v", key, row.Values, wantValues[key])
			}
		}
		if len(row.Timestamps) != f.horizon {
			t.Errorf("row %s has %d timestamps, want %d", key, len(row.Timestamps), f.horizon)
		}
	}

	// Each series' timestamps start one step past its own last observation.
	wantFirst := map[string]time.Time{
		"a": dayTS(6), "b": dayTS(8), "c": dayTS(4),
	}
	for _, row := range table.Rows {
		if !row.Timestamps[0].Equal(wantFirst[row.Key]) {
			t.Errorf("row %s first timestamp = %v, want %v",
				row.Key, row.Timestamps[0], wantFirst[row.Key])
		}
	}
}

func TestExecutorAbortsOnFailure(t *testing.T) {
	f := &fakeForecaster{horizon: 2, failKey: "bad"}
	e := newTestExecutor(t, f, 2)

	grouped := []series.Series{
		dailySeries("good-1", 1, 4, 1),
		dailySeries("bad", 1, 4, 2),
		dailySeries("good-2", 1, 4, 3),
	}

	table, err := e.Run(context.Background(), grouped, api.DefaultParams())
	if err == nil {
		t.Fatal("expected run to fail, got nil error")
	}
	if table != nil {
		t.Fatalf("expected no partial output, got %d rows", len(table.Rows))
	}
}

func TestExecutorManySeriesManyPartitions(t *testing.T) {
	f := &fakeForecaster{horizon: 1}
	e := newTestExecutor(t, f, 4)

	var grouped []series.Series
	for i := 0; i < 40; i++ {
		grouped = append(grouped, dailySeries(fmt.Sprintf("s-%02d", i), 1, 3, float64(i)))
	}

	table, err := e.Run(context.Background(), grouped, api.DefaultParams())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(table.Rows) != 40 {
		t.Fatalf("got %d rows, want 40", len(table.Rows))
	}
	if got := atomic.LoadInt64(&f.calls); got != 40 {
		t.Errorf("forecaster called %d times, want 40", got)
	}
	for i, row := range table.Rows {
		if want := float64(i); row.Values[0] != want {
			t.Errorf("row %s value = %v, want %v", row.Key, row.Values[0], want)
		}
	}
}

func TestExecutorEmptyInput(t *testing.T) {
	f := &fakeForecaster{horizon: 2}
	e := newTestExecutor(t, f, 4)

	table, err := e.Run(context.Background(), nil, api.DefaultParams())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(table.Rows) != 0 {
		t.Errorf("got %d rows for empty input, want 0", len(table.Rows))
	}
}

func TestExecutorRejectsEmptySeries(t *testing.T) {
	f := &fakeForecaster{horizon: 2}
	e := newTestExecutor(t, f, 1)

	grouped := []series.Series{{Key: "empty"}}
	if _, err := e.Run(context.Background(), grouped, api.DefaultParams()); err == nil {
		t.Fatal("expected error for empty series, got nil")
	}
}

func TestExecutorSurfacesTimestampErrorOverCancellation(t *testing.T) {
	// A zero horizon fails timestamp generation while the value forecasts
	// themselves succeed; the run error must name the cause, not the
	// cancellation it triggered in the workers.
	f := &fakeForecaster{horizon: 0}
	e := newTestExecutor(t, f, 2)

	grouped := []series.Series{
		dailySeries("a", 1, 4, 1),
		dailySeries("b", 1, 4, 2),
	}

	_, err := e.Run(context.Background(), grouped, api.DefaultParams())
	if err == nil {
		t.Fatal("expected run to fail, got nil error")
	}
	if errors.Is(err, context.Canceled) && !strings.Contains(err.Error(), "horizon") {
		t.Fatalf("got bare cancellation %q, want the horizon error", err)
	}
	if !strings.Contains(err.Error(), "horizon") {
		t.Errorf("error %q does not name the failing horizon", err)
	}
}

func TestExecutorLoadsModelOnce(t *testing.T) {
	rt := &stubRuntime{
		predict: func(req *runtime.InferenceRequest) (*runtime.InferenceResponse, error) {
			return &runtime.InferenceResponse{
				Samples: constantSamples(req.NumSamples, make([]float64, req.PredictionLength)),
			}, nil
		},
	}

	params := api.DefaultParams()
	f, err := NewMoiraiSmall(rt, params)
	if err != nil {
		t.Fatalf("NewMoiraiSmall failed: %v", err)
	}
	e := newTestExecutor(t, f, 4)

	var grouped []series.Series
	for i := 0; i < 20; i++ {
		grouped = append(grouped, dailySeries(fmt.Sprintf("s-%02d", i), 1, 5, float64(i)))
	}

	if _, err := e.Run(context.Background(), grouped, params); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := rt.loadCount(); got != 1 {
		t.Errorf("model loaded %d times across 20 series, want 1", got)
	}
}

func TestExecutorUsesCache(t *testing.T) {
	f := &fakeForecaster{horizon: 2}
	off, _ := freq.Parse("D")
	fc, err := cache.New(16, 0)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	e, err := NewExecutor(ExecutorConfig{Forecaster: f, Offset: off, Partitions: 1, Cache: fc})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}

	grouped := []series.Series{dailySeries("a", 1, 4, 7)}
	params := api.DefaultParams()

	if _, err := e.Run(context.Background(), grouped, params); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := e.Run(context.Background(), grouped, params); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if got := atomic.LoadInt64(&f.calls); got != 1 {
		t.Errorf("forecaster called %d times across two identical runs, want 1", got)
	}
}
