// Package runtime provides access to pretrained foundation models hosted by
// a model-runtime service. The orchestration layer builds per-series input
// tensors and sends them through a loaded model Handle; the model internals
// (tokenization, attention, decoding) stay inside the external runtime.
package runtime

import (
	"context"
	"time"
)

// Model families served by the runtime.
const (
	FamilyMoirai = "moirai"
	FamilyMoment = "moment"
)

// Pinned source packages for the hosted model families.
const (
	UniTSPackage  = "git+https://github.com/SalesforceAIResearch/uni2ts.git"
	MomentPackage = "git+https://github.com/moment-timeseries-foundation-model/moment.git"
)

// Tensor3 is a rank-3 float tensor, outermost dimension first.
type Tensor3 [][][]float64

// Tensor2 is a rank-2 float tensor.
type Tensor2 [][]float64

// BoolTensor3 is a rank-3 boolean tensor.
type BoolTensor3 [][][]bool

// BoolTensor2 is a rank-2 boolean tensor.
type BoolTensor2 [][]bool

// ModelSpec identifies a pretrained model to load.
type ModelSpec struct {
	// Repo is the pretrained weight repository, e.g. "Salesforce/moirai-1.0-R-small".
	Repo string `json:"repo"`
	// Family selects the inference head: FamilyMoirai or FamilyMoment.
	Family string `json:"family"`
	// Kwargs are model-construction keyword arguments passed through to the
	// runtime (Moment: task name, forecast horizon, freeze flags).
	Kwargs map[string]interface{} `json:"kwargs,omitempty"`
}

// InferenceRequest is an immutable per-series inference input. Exactly one
// head's tensor group is populated, matching the model family.
type InferenceRequest struct {
	// Sampling head (variable-context family). Shapes:
	// PastTarget (batch=1, time=context_length, variate=1),
	// PastObservedTarget same shape, PastIsPad (1, context_length).
	PastTarget         Tensor3     `json:"past_target,omitempty"`
	PastObservedTarget BoolTensor3 `json:"past_observed_target,omitempty"`
	PastIsPad          BoolTensor2 `json:"past_is_pad,omitempty"`
	ContextLength      int         `json:"context_length,omitempty"`
	PredictionLength   int         `json:"prediction_length,omitempty"`
	PatchSize          int         `json:"patch_size,omitempty"`
	NumSamples         int         `json:"num_samples,omitempty"`
	TargetDim          int         `json:"target_dim,omitempty"`
	FeatDynamicRealDim int         `json:"feat_dynamic_real_dim"`
	PastFeatDynRealDim int         `json:"past_feat_dynamic_real_dim"`

	// Regression head (fixed-context family). Shapes:
	// Context (batch=1, channels=1, time=512), InputMask (1, 512).
	Context   Tensor3 `json:"context,omitempty"`
	InputMask Tensor2 `json:"input_mask,omitempty"`
}

// InferenceMetadata reports how the inference was executed.
type InferenceMetadata struct {
	InferenceTime time.Duration `json:"inference_time"`
	Device        string        `json:"device,omitempty"`
	ModelVersion  string        `json:"model_version,omitempty"`
}

// InferenceResponse carries the model output. The sampling head fills
// Samples (num_samples sample paths, each of horizon length); the regression
// head fills Forecast directly.
type InferenceResponse struct {
	Samples  [][]float64       `json:"samples,omitempty"`
	Forecast []float64         `json:"forecast,omitempty"`
	Metadata InferenceMetadata `json:"metadata"`
}

// Handle is a loaded model owned by the process that loaded it. Predict is
// stateless with respect to the request: the handle bundles the loaded
// module reference and its device placement, so no per-series wrapper
// objects are reconstructed in the hot loop.
type Handle interface {
	Predict(ctx context.Context, req *InferenceRequest) (*InferenceResponse, error)
	Spec() ModelSpec
	Device() string
	Close() error
}

// Runtime loads pretrained models. Loading is expected once per worker
// process lifetime; handles are reused across the whole batch.
type Runtime interface {
	Load(ctx context.Context, spec ModelSpec) (Handle, error)
	Close() error
}
