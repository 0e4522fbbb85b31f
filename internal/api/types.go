package api

import (
	"fmt"
	"time"
)

// Params holds the caller-facing forecasting configuration.
//
// The recognized keys mirror the external configuration contract: column
// bindings for the input table, the calendar frequency, the prediction
// horizon, and the sampling parameters consumed by the variable-context
// model family.
type Params struct {
	GroupID          string `json:"group_id"`
	DateCol          string `json:"date_col"`
	Target           string `json:"target"`
	Freq             string `json:"freq"`
	PredictionLength int    `json:"prediction_length"`
	PatchSize        int    `json:"patch_size,omitempty"`
	NumSamples       int    `json:"num_samples,omitempty"`
	Metric           string `json:"metric,omitempty"`
}

// MetricSMAPE is the only supported metric kind.
const MetricSMAPE = "smape"

// DefaultParams returns the parameter defaults used by the demo driver.
func DefaultParams() Params {
	return Params{
		GroupID:          "unique_id",
		DateCol:          "ds",
		Target:           "y",
		Freq:             "M",
		PredictionLength: 10,
		PatchSize:        32,
		NumSamples:       100,
		Metric:           MetricSMAPE,
	}
}

// Validate performs basic structural validation of the configuration.
func (p *Params) Validate() error {
	if p.GroupID == "" {
		return fmt.Errorf("group_id is required")
	}
	if p.DateCol == "" {
		return fmt.Errorf("date_col is required")
	}
	if p.Target == "" {
		return fmt.Errorf("target is required")
	}
	if p.Freq == "" {
		return fmt.Errorf("freq is required")
	}
	if p.PredictionLength <= 0 {
		return fmt.Errorf("prediction_length must be positive, got %d", p.PredictionLength)
	}
	if p.PatchSize < 0 {
		return fmt.Errorf("patch_size must be non-negative, got %d", p.PatchSize)
	}
	if p.NumSamples < 0 {
		return fmt.Errorf("num_samples must be non-negative, got %d", p.NumSamples)
	}
	return nil
}

// ValidateMetric checks the metric kind before any per-entity work starts.
func (p *Params) ValidateMetric() error {
	if p.Metric != MetricSMAPE {
		return fmt.Errorf("metric %q not supported", p.Metric)
	}
	return nil
}

// EntityForecast is the per-entity forecast output: one future timestamp
// per horizon step and the aligned point-forecast values.
type EntityForecast struct {
	Key        string      `json:"key"`
	Timestamps []time.Time `json:"timestamps"`
	Values     []float64   `json:"values"`
}

// ResultTable is the row-oriented forecast output keyed by entity, with the
// sequence columns renamed to the caller's configured column names.
type ResultTable struct {
	GroupIDCol string           `json:"group_id_col"`
	DateCol    string           `json:"date_col"`
	TargetCol  string           `json:"target_col"`
	Rows       []EntityForecast `json:"rows"`
}

// Row returns the forecast row for an entity key, or nil if absent.
func (t *ResultTable) Row(key string) *EntityForecast {
	for i := range t.Rows {
		if t.Rows[i].Key == key {
			return &t.Rows[i]
		}
	}
	return nil
}
