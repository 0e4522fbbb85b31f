package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tnixon/many-model-forecasting/internal/api"
	"github.com/tnixon/many-model-forecasting/internal/cache"
	"github.com/tnixon/many-model-forecasting/internal/freq"
	"github.com/tnixon/many-model-forecasting/internal/metrics"
	"github.com/tnixon/many-model-forecasting/internal/series"
	obs "github.com/tnixon/many-model-forecasting/pkg/otel"
)

// DefaultPartitions matches the upstream repartition width.
const DefaultPartitions = 4

// ExecutorConfig configures a batch forecast run.
type ExecutorConfig struct {
	Forecaster Forecaster
	Offset     freq.Offset
	// Partitions is the number of parallel workers. Default: 4.
	Partitions int
	// Cache memoizes per-series forecasts (optional).
	Cache *cache.ForecastCache
	// Metrics records run counters (optional).
	Metrics *metrics.Metrics
}

// Executor runs a forecaster over grouped series, partition-parallel.
//
// Grouped series are split across partitions; each partition is processed
// strictly sequentially by its own worker, with no cross-partition shared
// mutable state. Horizon timestamps are generated independently of, and
// concurrently with, the value forecasts; the two result sets are joined by
// entity key, never by position. A single series' inference failure aborts
// the whole run with no partial output.
type Executor struct {
	forecaster Forecaster
	offset     freq.Offset
	partitions int
	cache      *cache.ForecastCache
	metrics    *metrics.Metrics
}

// NewExecutor creates an executor.
func NewExecutor(config ExecutorConfig) (*Executor, error) {
	if config.Forecaster == nil {
		return nil, fmt.Errorf("Forecaster is required")
	}
	if config.Offset == nil {
		return nil, fmt.Errorf("Offset is required")
	}
	if config.Partitions == 0 {
		config.Partitions = DefaultPartitions
	}
	if config.Partitions < 0 {
		return nil, fmt.Errorf("Partitions must be positive, got %d", config.Partitions)
	}

	return &Executor{
		forecaster: config.Forecaster,
		offset:     config.Offset,
		partitions: config.Partitions,
		cache:      config.Cache,
		metrics:    config.Metrics,
	}, nil
}

type partitionResult struct {
	forecasts []api.EntityForecast
	err       error
}

// Run forecasts every grouped series and returns the joined result table
// with the caller's configured column names.
func (e *Executor) Run(ctx context.Context, grouped []series.Series, params api.Params) (*api.ResultTable, error) {
	table := &api.ResultTable{
		GroupIDCol: params.GroupID,
		DateCol:    params.DateCol,
		TargetCol:  params.Target,
	}
	if len(grouped) == 0 {
		return table, nil
	}

	if e.metrics != nil {
		e.metrics.RunsTotal.Inc()
	}

	for i := range grouped {
		if err := grouped[i].Validate(); err != nil {
			return nil, e.fail(fmt.Errorf("malformed input: %w", err))
		}
		if grouped[i].Len() == 0 {
			return nil, e.fail(fmt.Errorf("series %s is empty", grouped[i].Key))
		}
	}

	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	horizon := e.forecaster.Horizon()

	ctx, span := obs.StartSpan(ctx, "forecast", "forecast.run",
		obs.RunAttributes(runID, e.offset.String(), horizon, len(grouped), e.partitions)...)
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Horizon timestamps run independently of the value forecasts.
	timestamps := make(map[string][]time.Time, len(grouped))
	tsErrCh := make(chan error, 1)
	go func() {
		for i := range grouped {
			last, err := grouped[i].MaxTimestamp()
			if err != nil {
				tsErrCh <- err
				cancel()
				return
			}
			hts, err := freq.HorizonTimestamps(last, horizon, e.offset)
			if err != nil {
				tsErrCh <- fmt.Errorf("series %s: %w", grouped[i].Key, err)
				cancel()
				return
			}
			timestamps[grouped[i].Key] = hts
		}
		tsErrCh <- nil
	}()

	// Value forecasts, partition-parallel: sequential within a partition.
	parts := partition(grouped, e.partitions)
	resCh := make(chan partitionResult, len(parts))
	var wg sync.WaitGroup
	for _, part := range parts {
		wg.Add(1)
		go func(part []series.Series) {
			defer wg.Done()
			out := make([]api.EntityForecast, 0, len(part))
			for i := range part {
				select {
				case <-ctx.Done():
					resCh <- partitionResult{err: ctx.Err()}
					return
				default:
				}
				values, err := e.forecastSeries(ctx, part[i])
				if err != nil {
					cancel()
					resCh <- partitionResult{err: fmt.Errorf("series %s: %w", part[i].Key, err)}
					return
				}
				out = append(out, api.EntityForecast{Key: part[i].Key, Values: values})
			}
			resCh <- partitionResult{forecasts: out}
		}(part)
	}
	wg.Wait()
	close(resCh)

	forecasts := make(map[string][]float64, len(grouped))
	var runErr error
	for res := range resCh {
		if res.err != nil {
			if runErr == nil || errors.Is(runErr, context.Canceled) {
				runErr = res.err
			}
			continue
		}
		for _, ef := range res.forecasts {
			forecasts[ef.Key] = ef.Values
		}
	}

	// A timestamp failure cancels the workers; their bare cancellation must
	// not shadow the cause.
	tsErr := <-tsErrCh
	if tsErr != nil && (runErr == nil || errors.Is(runErr, context.Canceled)) {
		runErr = tsErr
	}
	if runErr != nil {
		obs.RecordError(span, runErr, "forecast run aborted")
		return nil, e.fail(runErr)
	}

	// Join by entity key. Partition completion order is irrelevant; rows
	// come out in the grouped input's first-seen key order.
	for i := range grouped {
		key := grouped[i].Key
		values, ok := forecasts[key]
		if !ok {
			return nil, e.fail(fmt.Errorf("no forecast produced for %s", key))
		}
		table.Rows = append(table.Rows, api.EntityForecast{
			Key:        key,
			Timestamps: timestamps[key],
			Values:     values,
		})
	}

	return table, nil
}

// forecastSeries produces the point forecast for one series, consulting the
// cache first when one is configured.
func (e *Executor) forecastSeries(ctx context.Context, s series.Series) ([]float64, error) {
	var cacheKey string
	if e.cache != nil {
		cacheKey = cache.Key(e.forecaster.Name(), s.Key, s.Values, e.forecaster.Horizon())
		if values, ok := e.cache.Get(cacheKey); ok {
			if e.metrics != nil {
				e.metrics.CacheHits.Inc()
			}
			return values, nil
		}
	}

	start := time.Now()
	values, err := e.forecaster.Forecast(ctx, s)
	if err != nil {
		if e.metrics != nil {
			e.metrics.InferenceErrorsByModel.WithLabelValues(e.forecaster.Name()).Inc()
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.SeriesForecastedByModel.WithLabelValues(e.forecaster.Name()).Inc()
		e.metrics.InferenceSeconds.WithLabelValues(e.forecaster.Name()).Observe(time.Since(start).Seconds())
	}
	if e.cache != nil {
		e.cache.Set(cacheKey, values)
	}
	return values, nil
}

func (e *Executor) fail(err error) error {
	if e.metrics != nil {
		e.metrics.RunErrors.Inc()
	}
	return err
}

// partition splits grouped series round-robin across at most n partitions.
func partition(grouped []series.Series, n int) [][]series.Series {
	if n > len(grouped) {
		n = len(grouped)
	}
	parts := make([][]series.Series, n)
	for i := range grouped {
		parts[i%n] = append(parts[i%n], grouped[i])
	}
	return parts
}
