// Package forecast contains the batch forecast executors: per-series input
// tensor construction for the supported pretrained model families, and the
// partition-parallel executor that runs them over grouped series.
package forecast

import (
	"context"
	"sort"

	"github.com/tnixon/many-model-forecasting/internal/series"
)

// Forecaster produces a point forecast for a single entity series. The
// point-forecast sequence length always equals the configured prediction
// horizon.
//
// Implementations own their loaded model handle for their lifetime. Loading
// happens at most once per forecaster; re-loading per series is disallowed.
type Forecaster interface {
	// Name identifies the model variant (e.g. "moirai-small").
	Name() string
	// Horizon returns the configured prediction length.
	Horizon() int
	// Forecast runs inference for one series and reduces the model output
	// to a point forecast of Horizon() values.
	Forecast(ctx context.Context, s series.Series) ([]float64, error)
	// Close releases the loaded model handle.
	Close() error
}

// medianAcrossSamples reduces sample paths to a point forecast: for each
// horizon step, the median across the sample dimension.
func medianAcrossSamples(samples [][]float64) []float64 {
	if len(samples) == 0 {
		return nil
	}
	horizon := len(samples[0])
	out := make([]float64, horizon)
	column := make([]float64, len(samples))

	for j := 0; j < horizon; j++ {
		for i, path := range samples {
			column[i] = path[j]
		}
		sort.Float64s(column)
		n := len(column)
		if n%2 == 0 {
			out[j] = (column[n/2-1] + column[n/2]) / 2
		} else {
			out[j] = column[n/2]
		}
	}
	return out
}
