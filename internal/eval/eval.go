// Package eval scores point forecasts against actuals, one record per
// entity, using symmetric mean absolute percentage error.
package eval

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/tnixon/many-model-forecasting/internal/api"
)

// MetricRecord is one scored entity: the metric value plus the actual and
// forecast windows it was computed over. Blob carries the forecast window
// serialized for storage backends that persist it opaquely.
type MetricRecord struct {
	Key         string    `json:"key"`
	EvalDate    time.Time `json:"eval_date"`
	MetricName  string    `json:"metric_name"`
	MetricValue float64   `json:"metric_value"`
	Actuals     []float64 `json:"actuals"`
	Forecast    []float64 `json:"forecast"`
	Blob        []byte    `json:"blob,omitempty"`
}

// Outcome reports what happened to one entity during evaluation. Entities
// whose metric computation failed produce no MetricRecord, but the failure
// is surfaced here rather than swallowed.
type Outcome struct {
	Key string
	Err error
}

// Failed reports whether the entity's evaluation failed.
func (o Outcome) Failed() bool { return o.Err != nil }

// EntityWindow pairs an entity's held-out actuals with its forecast for the
// same horizon, anchored at the evaluation date.
type EntityWindow struct {
	Key      string
	EvalDate time.Time
	Actuals  []float64
	Forecast []float64
}

// Evaluator scores entity windows with a fixed metric.
type Evaluator struct {
	metricName string
}

// NewEvaluator creates an evaluator for the named metric. The metric name
// is checked here, before any entity data is touched, so a misconfigured
// metric fails the whole run rather than each entity individually.
func NewEvaluator(metricName string) (*Evaluator, error) {
	if metricName != api.MetricSMAPE {
		return nil, fmt.Errorf("metric %q not supported", metricName)
	}
	return &Evaluator{metricName: metricName}, nil
}

// MetricName returns the configured metric name.
func (e *Evaluator) MetricName() string { return e.metricName }

// Evaluate scores every window. The returned records hold only the entities
// that scored successfully; the outcomes cover every input entity, carrying
// the error for those that did not.
func (e *Evaluator) Evaluate(windows []EntityWindow) ([]MetricRecord, []Outcome) {
	records := make([]MetricRecord, 0, len(windows))
	outcomes := make([]Outcome, 0, len(windows))

	for _, w := range windows {
		rec, err := e.evaluateOne(w)
		outcomes = append(outcomes, Outcome{Key: w.Key, Err: err})
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, outcomes
}

func (e *Evaluator) evaluateOne(w EntityWindow) (MetricRecord, error) {
	value, err := SMAPE(w.Actuals, w.Forecast)
	if err != nil {
		return MetricRecord{}, err
	}

	blob, err := json.Marshal(w.Forecast)
	if err != nil {
		return MetricRecord{}, fmt.Errorf("failed to serialize forecast: %w", err)
	}

	return MetricRecord{
		Key:         w.Key,
		EvalDate:    w.EvalDate,
		MetricName:  e.metricName,
		MetricValue: value,
		Actuals:     w.Actuals,
		Forecast:    w.Forecast,
		Blob:        blob,
	}, nil
}

// SMAPE computes the symmetric mean absolute percentage error:
// mean over steps of 2|a-f| / (|a|+|f|). A step where both the actual and
// the forecast are zero has no defined ratio and fails the computation.
func SMAPE(actuals, forecast []float64) (float64, error) {
	if len(actuals) == 0 {
		return 0, fmt.Errorf("no actuals to score against")
	}
	if len(actuals) != len(forecast) {
		return 0, fmt.Errorf("length mismatch: %d actuals vs %d forecast values",
			len(actuals), len(forecast))
	}

	sum := 0.0
	for i := range actuals {
		denom := math.Abs(actuals[i]) + math.Abs(forecast[i])
		if denom == 0 {
			return 0, fmt.Errorf("undefined ratio at step %d: actual and forecast both zero", i)
		}
		sum += 2 * math.Abs(actuals[i]-forecast[i]) / denom
	}
	return sum / float64(len(actuals)), nil
}
