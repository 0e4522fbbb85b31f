package forecast

import (
	"context"
	"fmt"
	"sync"

	"github.com/tnixon/many-model-forecasting/internal/api"
	"github.com/tnixon/many-model-forecasting/internal/runtime"
	"github.com/tnixon/many-model-forecasting/internal/series"
)

// Pretrained weight repositories for the variable-context family.
const (
	MoiraiSmallRepo = "Salesforce/moirai-1.0-R-small"
	MoiraiBaseRepo  = "Salesforce/moirai-1.0-R-base"
	// The large variant pins the base repository upstream; preserved as-is.
	MoiraiLargeRepo = "Salesforce/moirai-1.0-R-base"
)

// MoiraiConfig configures the variable-context probabilistic forecaster.
type MoiraiConfig struct {
	Repo             string
	PredictionLength int
	PatchSize        int
	NumSamples       int
}

// MoiraiForecaster is the variable-context variant: every series gets an
// immutable inference request with context_length equal to the series
// length, evaluated against a single module handle shared across the whole
// batch. The model emits NumSamples sample paths per horizon step; the
// point forecast is the element-wise median across samples.
type MoiraiForecaster struct {
	name    string
	rt      runtime.Runtime
	config  MoiraiConfig
	mu      sync.Mutex
	handle  runtime.Handle
	loadErr error
}

// NewMoiraiForecaster creates a forecaster for the given repository.
// The module handle is loaded lazily on the first Forecast call and reused
// for every series after that.
func NewMoiraiForecaster(rt runtime.Runtime, name string, config MoiraiConfig) (*MoiraiForecaster, error) {
	if rt == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if config.Repo == "" {
		return nil, fmt.Errorf("model repo is required")
	}
	if config.PredictionLength <= 0 {
		return nil, fmt.Errorf("prediction_length must be positive, got %d", config.PredictionLength)
	}
	if config.PatchSize <= 0 {
		return nil, fmt.Errorf("patch_size must be positive, got %d", config.PatchSize)
	}
	if config.NumSamples <= 0 {
		return nil, fmt.Errorf("num_samples must be positive, got %d", config.NumSamples)
	}
	return &MoiraiForecaster{name: name, rt: rt, config: config}, nil
}

// NewMoiraiSmall creates a forecaster pinned to the small checkpoint.
func NewMoiraiSmall(rt runtime.Runtime, params api.Params) (*MoiraiForecaster, error) {
	return NewMoiraiForecaster(rt, "moirai-small", MoiraiConfig{
		Repo:             MoiraiSmallRepo,
		PredictionLength: params.PredictionLength,
		PatchSize:        params.PatchSize,
		NumSamples:       params.NumSamples,
	})
}

// NewMoiraiBase creates a forecaster pinned to the base checkpoint.
func NewMoiraiBase(rt runtime.Runtime, params api.Params) (*MoiraiForecaster, error) {
	return NewMoiraiForecaster(rt, "moirai-base", MoiraiConfig{
		Repo:             MoiraiBaseRepo,
		PredictionLength: params.PredictionLength,
		PatchSize:        params.PatchSize,
		NumSamples:       params.NumSamples,
	})
}

// NewMoiraiLarge creates a forecaster pinned to the large checkpoint.
func NewMoiraiLarge(rt runtime.Runtime, params api.Params) (*MoiraiForecaster, error) {
	return NewMoiraiForecaster(rt, "moirai-large", MoiraiConfig{
		Repo:             MoiraiLargeRepo,
		PredictionLength: params.PredictionLength,
		PatchSize:        params.PatchSize,
		NumSamples:       params.NumSamples,
	})
}

func (f *MoiraiForecaster) Name() string { return f.name }

func (f *MoiraiForecaster) Horizon() int { return f.config.PredictionLength }

// loadHandle loads the pretrained module once and caches the handle.
// A failed load stays failed: the batch cannot proceed without the model.
func (f *MoiraiForecaster) loadHandle(ctx context.Context) (runtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.handle != nil {
		return f.handle, nil
	}

	handle, err := f.rt.Load(ctx, runtime.ModelSpec{
		Repo:   f.config.Repo,
		Family: runtime.FamilyMoirai,
	})
	if err != nil {
		f.loadErr = fmt.Errorf("failed to load %s: %w", f.config.Repo, err)
		return nil, f.loadErr
	}
	f.handle = handle
	return handle, nil
}

// BuildMoiraiRequest constructs the immutable per-series inference input.
//
// Tensor layout: past_target (1, t, 1) holds the raw series; the observed
// mask is all true (every value is a real observation); the padding
// indicator (1, t) is all false. context_length is the series length.
func BuildMoiraiRequest(values []float64, config MoiraiConfig) *runtime.InferenceRequest {
	t := len(values)

	pastTarget := make(runtime.Tensor3, 1)
	pastTarget[0] = make([][]float64, t)
	observed := make(runtime.BoolTensor3, 1)
	observed[0] = make([][]bool, t)
	isPad := make(runtime.BoolTensor2, 1)
	isPad[0] = make([]bool, t)

	for i, v := range values {
		pastTarget[0][i] = []float64{v}
		observed[0][i] = []bool{true}
	}

	return &runtime.InferenceRequest{
		PastTarget:         pastTarget,
		PastObservedTarget: observed,
		PastIsPad:          isPad,
		ContextLength:      t,
		PredictionLength:   config.PredictionLength,
		PatchSize:          config.PatchSize,
		NumSamples:         config.NumSamples,
		TargetDim:          1,
		FeatDynamicRealDim: 0,
		PastFeatDynRealDim: 0,
	}
}

// Forecast runs one series through the shared module handle.
func (f *MoiraiForecaster) Forecast(ctx context.Context, s series.Series) ([]float64, error) {
	if s.Len() == 0 {
		return nil, fmt.Errorf("series %s is empty", s.Key)
	}

	handle, err := f.loadHandle(ctx)
	if err != nil {
		return nil, err
	}

	req := BuildMoiraiRequest(s.Values, f.config)
	resp, err := handle.Predict(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Samples) == 0 {
		return nil, fmt.Errorf("series %s: model returned no sample paths", s.Key)
	}
	for i, path := range resp.Samples {
		if len(path) != f.config.PredictionLength {
			return nil, fmt.Errorf("series %s: sample path %d has length %d, want %d",
				s.Key, i, len(path), f.config.PredictionLength)
		}
	}

	return medianAcrossSamples(resp.Samples), nil
}

// Close releases the loaded handle if one was acquired.
func (f *MoiraiForecaster) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handle == nil {
		return nil
	}
	err := f.handle.Close()
	f.handle = nil
	return err
}
