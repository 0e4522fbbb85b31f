package forecast

import (
	"context"
	"sync"
	"time"

	"github.com/tnixon/many-model-forecasting/internal/runtime"
)

func dayTS(day int) time.Time {
	return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day-1)
}

// stubRuntime counts model loads and hands out stubHandles driven by a
// caller-supplied predict function.
type stubRuntime struct {
	mu      sync.Mutex
	loads   int
	specs   []runtime.ModelSpec
	predict func(req *runtime.InferenceRequest) (*runtime.InferenceResponse, error)
	loadErr error
}

func (r *stubRuntime) Load(ctx context.Context, spec runtime.ModelSpec) (runtime.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	r.loads++
	r.specs = append(r.specs, spec)
	return &stubHandle{spec: spec, predict: r.predict}, nil
}

func (r *stubRuntime) Close() error { return nil }

func (r *stubRuntime) loadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

type stubHandle struct {
	mu       sync.Mutex
	spec     runtime.ModelSpec
	predict  func(req *runtime.InferenceRequest) (*runtime.InferenceResponse, error)
	predicts int
	closed   bool
}

func (h *stubHandle) Predict(ctx context.Context, req *runtime.InferenceRequest) (*runtime.InferenceResponse, error) {
	h.mu.Lock()
	h.predicts++
	h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.predict(req)
}

func (h *stubHandle) Spec() runtime.ModelSpec { return h.spec }

func (h *stubHandle) Device() string { return "cpu" }

func (h *stubHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// constantSamples returns num identical sample paths of the given values.
func constantSamples(num int, values []float64) [][]float64 {
	out := make([][]float64, num)
	for i := range out {
		path := make([]float64, len(values))
		copy(path, values)
		out[i] = path
	}
	return out
}
