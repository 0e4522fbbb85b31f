package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	obs "github.com/tnixon/many-model-forecasting/pkg/otel"
)

// HTTPRuntime reaches a model-runtime service over HTTP/JSON. The service
// owns the loaded weights and their device placement; this client owns the
// request shaping and backpressure.
type HTTPRuntime struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// HTTPRuntimeConfig configures the runtime client.
type HTTPRuntimeConfig struct {
	BaseURL string
	// Timeout bounds a single load or predict call. Default: 120s (model
	// loads pull pretrained weights on first use).
	Timeout time.Duration
	// PredictRate caps inference calls per second, 0 disables limiting.
	PredictRate int
}

// NewHTTPRuntime creates a runtime client.
func NewHTTPRuntime(config HTTPRuntimeConfig) (*HTTPRuntime, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}

	var limiter *rate.Limiter
	if config.PredictRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.PredictRate), config.PredictRate)
	}

	return &HTTPRuntime{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: limiter,
	}, nil
}

type loadResponse struct {
	ModelID      string `json:"model_id"`
	Device       string `json:"device"`
	ModelVersion string `json:"model_version,omitempty"`
}

// Load asks the runtime service to load the pretrained weights and returns
// a handle bound to the resulting model instance.
func (r *HTTPRuntime) Load(ctx context.Context, spec ModelSpec) (Handle, error) {
	if spec.Repo == "" {
		return nil, fmt.Errorf("model repo is required")
	}
	if spec.Family != FamilyMoirai && spec.Family != FamilyMoment {
		return nil, fmt.Errorf("unknown model family: %s", spec.Family)
	}

	var resp loadResponse
	if err := r.post(ctx, "/v1/models/load", spec, &resp); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", spec.Repo, err)
	}

	return &httpHandle{
		runtime: r,
		spec:    spec,
		modelID: resp.ModelID,
		device:  resp.Device,
		version: resp.ModelVersion,
	}, nil
}

// Close releases client resources.
func (r *HTTPRuntime) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *HTTPRuntime) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return fmt.Errorf("runtime returned %d: %s", httpResp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// httpHandle is a loaded model on the runtime service.
type httpHandle struct {
	runtime *HTTPRuntime
	spec    ModelSpec
	modelID string
	device  string
	version string
}

func (h *httpHandle) Predict(ctx context.Context, req *InferenceRequest) (*InferenceResponse, error) {
	if h.runtime.limiter != nil {
		if err := h.runtime.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, span := obs.StartSpan(ctx, "runtime", "model.predict",
		obs.AttrModelRepo.String(h.spec.Repo),
		obs.AttrModelFamily.String(h.spec.Family),
		obs.AttrDevice.String(h.device),
	)
	defer span.End()

	start := time.Now()
	var resp InferenceResponse
	if err := h.runtime.post(ctx, "/v1/models/"+h.modelID+"/predict", req, &resp); err != nil {
		obs.RecordError(span, err, "inference call failed")
		return nil, fmt.Errorf("predict on %s failed: %w", h.spec.Repo, err)
	}
	span.SetAttributes(attribute.Int64("inference.elapsed_ms", time.Since(start).Milliseconds()))

	if resp.Metadata.Device == "" {
		resp.Metadata.Device = h.device
	}
	if resp.Metadata.ModelVersion == "" {
		resp.Metadata.ModelVersion = h.version
	}
	return &resp, nil
}

func (h *httpHandle) Spec() ModelSpec { return h.spec }

func (h *httpHandle) Device() string { return h.device }

func (h *httpHandle) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.runtime.post(ctx, "/v1/models/"+h.modelID+"/unload", struct{}{}, nil)
}
