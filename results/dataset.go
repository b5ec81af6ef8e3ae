package results

import (
	"strconv"

	"github.com/sergev/stim/trial"
)

// Calibration is the baseline/threshold pair fixed before relative trials.
type Calibration struct {
	BaselineMeasure    float64 `json:"baseline_measure"`
	ThresholdAmplitude int     `json:"threshold_amplitude"`
	ThresholdMeasure   float64 `json:"threshold_measure"`
}

// Row is one recorded trial with its administered amplitude.
type Row struct {
	Spec      trial.Spec `json:"spec"`
	Amplitude int        `json:"amplitude"`
	Values    []float64  `json:"values"`
}

// Dataset is everything persisted at session end.
type Dataset struct {
	Identity    Identity           `json:"identity"`
	Calibration *Calibration       `json:"calibration,omitempty"`
	Summary     map[string]float64 `json:"summary,omitempty"`
	Rows        []Row              `json:"rows"`

	// Plan is the full trial set in canonical order. Layouts that list
	// every planned stimulus use it; it may be empty.
	Plan []trial.Spec `json:"plan,omitempty"`
}

// NewDataset assembles a dataset from sequencer records, which must be in
// canonical order. Relative amplitudes are derived from the calibration
// threshold.
func NewDataset(id Identity, cal *Calibration, summary map[string]float64, records []trial.Record) Dataset {
	threshold := 0
	if cal != nil {
		threshold = cal.ThresholdAmplitude
	}
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = Row{
			Spec:      r.Spec,
			Amplitude: r.Spec.AmplitudeFor(threshold),
			Values:    r.Values,
		}
	}
	ds := Dataset{Identity: id, Calibration: cal, Rows: rows}
	if len(summary) > 0 {
		ds.Summary = make(map[string]float64, len(summary))
		for k, v := range summary {
			ds.Summary[k] = v
		}
	}
	return ds
}

// formatValue prints a measurement with the shortest exact representation.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatDecimal prints v with at least one fractional digit, e.g. 1.0 or 0.25.
func formatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	for _, c := range s {
		if c == '.' || c == 'e' || c == 'N' || c == 'I' {
			return s
		}
	}
	return s + ".0"
}
