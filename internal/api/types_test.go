package api

import "testing"

func TestDefaultParamsValid(t *testing.T) {
	p := DefaultParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
	if err := p.ValidateMetric(); err != nil {
		t.Fatalf("default metric invalid: %v", err)
	}
}

func TestValidateRejectsBadParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"empty group_id", func(p *Params) { p.GroupID = "" }},
		{"empty date_col", func(p *Params) { p.DateCol = "" }},
		{"empty target", func(p *Params) { p.Target = "" }},
		{"empty freq", func(p *Params) { p.Freq = "" }},
		{"zero horizon", func(p *Params) { p.PredictionLength = 0 }},
		{"negative patch size", func(p *Params) { p.PatchSize = -1 }},
		{"negative num samples", func(p *Params) { p.NumSamples = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateMetricRejectsUnknown(t *testing.T) {
	p := DefaultParams()
	p.Metric = "mape"
	if err := p.ValidateMetric(); err == nil {
		t.Fatal("expected error for unsupported metric, got nil")
	}
}

func TestResultTableRow(t *testing.T) {
	table := ResultTable{
		Rows: []EntityForecast{{Key: "a", Values: []float64{1}}},
	}
	if row := table.Row("a"); row == nil || row.Values[0] != 1 {
		t.Errorf("Row(a) = %+v, want the stored row", row)
	}
	if row := table.Row("missing"); row != nil {
		t.Errorf("Row(missing) = %+v, want nil", row)
	}
}
