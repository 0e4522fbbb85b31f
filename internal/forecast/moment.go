package forecast

import (
	"context"
	"fmt"

	"github.com/tnixon/many-model-forecasting/internal/api"
	"github.com/tnixon/many-model-forecasting/internal/runtime"
	"github.com/tnixon/many-model-forecasting/internal/series"
)

// Moment1LargeRepo is the pretrained weight repository for the fixed-context
// regression-head family.
const Moment1LargeRepo = "AutonLab/MOMENT-1-large"

// MomentContextLength is the fixed context buffer size the model expects.
const MomentContextLength = 512

// MomentForecaster is the fixed-context variant: every series is packed
// into a 512-step context buffer (right zero-padded, or truncated to the
// most recent 512 observations) with a 1/0 input mask. The model's
// forecasting head is deterministic, so its output is the point forecast
// directly with no sampling step.
//
// The model instance is constructed once per forecaster and reused across
// the entire batch.
type MomentForecaster struct {
	name    string
	horizon int
	handle  runtime.Handle
}

// NewMoment1Large loads the MOMENT-1-large checkpoint configured for the
// forecasting task and returns a forecaster bound to it. Loading happens
// here, at construction, and the handle serves every subsequent series.
func NewMoment1Large(ctx context.Context, rt runtime.Runtime, params api.Params) (*MomentForecaster, error) {
	if rt == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if params.PredictionLength <= 0 {
		return nil, fmt.Errorf("prediction_length must be positive, got %d", params.PredictionLength)
	}

	handle, err := rt.Load(ctx, runtime.ModelSpec{
		Repo:   Moment1LargeRepo,
		Family: runtime.FamilyMoment,
		Kwargs: map[string]interface{}{
			"task_name":        "forecasting",
			"forecast_horizon": params.PredictionLength,
			"head_dropout":     0.1,
			"weight_decay":     0,
			"freeze_encoder":   true,
			"freeze_embedder":  true,
			"freeze_head":      false,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", Moment1LargeRepo, err)
	}

	return &MomentForecaster{
		name:    "moment-1-large",
		horizon: params.PredictionLength,
		handle:  handle,
	}, nil
}

func (f *MomentForecaster) Name() string { return f.name }

func (f *MomentForecaster) Horizon() int { return f.horizon }

// PackContext builds the fixed-length context buffer and input mask for a
// raw series.
//
// Shorter series keep their values at the front of the buffer with zeros
// padded on the right, and the mask carries a 1 for each real value and a 0
// for each padding slot. Series at or beyond the buffer size contribute
// only their most recent 512 observations, with an all-ones mask.
func PackContext(values []float64) (buf []float64, mask []float64) {
	buf = make([]float64, MomentContextLength)
	mask = make([]float64, MomentContextLength)

	if len(values) < MomentContextLength {
		copy(buf, values)
		for i := range values {
			mask[i] = 1
		}
		return buf, mask
	}

	copy(buf, values[len(values)-MomentContextLength:])
	for i := range mask {
		mask[i] = 1
	}
	return buf, mask
}

// Forecast runs one series through the shared model instance.
func (f *MomentForecaster) Forecast(ctx context.Context, s series.Series) ([]float64, error) {
	if s.Len() == 0 {
		return nil, fmt.Errorf("series %s is empty", s.Key)
	}

	buf, mask := PackContext(s.Values)

	// Tensor layout: context (batch=1, channels=1, time=512),
	// input mask (1, 512).
	req := &runtime.InferenceRequest{
		Context:   runtime.Tensor3{{buf}},
		InputMask: runtime.Tensor2{mask},
	}

	resp, err := f.handle.Predict(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Forecast) != f.horizon {
		return nil, fmt.Errorf("series %s: forecast head returned %d values, want %d",
			s.Key, len(resp.Forecast), f.horizon)
	}

	return resp.Forecast, nil
}

// Close releases the loaded model handle.
func (f *MomentForecaster) Close() error {
	if f.handle == nil {
		return nil
	}
	err := f.handle.Close()
	f.handle = nil
	return err
}
