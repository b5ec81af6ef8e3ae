package results

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sergev/stim/waveform"
)

// Variant is the persisted layout of one experiment flavour.
type Variant interface {
	// Name is the configuration key of the variant.
	Name() string

	// Fields lists the measurement values recorded per trial.
	Fields() []string

	// Summary lists values recorded once per session.
	Summary() []string

	// Encode writes the dataset.
	Encode(w io.Writer, ds Dataset) error
}

const (
	AmplitudeVariant   = "amplitude"
	CalibrationVariant = "calibration"
	ThresholdVariant   = "threshold"
)

// Lookup returns the variant registered under name.
func Lookup(name string) (Variant, error) {
	switch strings.ToLower(name) {
	case AmplitudeVariant, "":
		return Amplitude{}, nil
	case CalibrationVariant:
		return Calibrated{}, nil
	case ThresholdVariant:
		return Threshold{}, nil
	}
	return nil, fmt.Errorf("unknown result variant %q", name)
}

const sep = ", "

type lineWriter struct {
	w   *bufio.Writer
	err error
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{w: bufio.NewWriter(w)}
}

func (lw *lineWriter) row(cells ...string) {
	if lw.err != nil {
		return
	}
	_, lw.err = lw.w.WriteString(strings.Join(cells, sep) + "\n")
}

func (lw *lineWriter) blank() {
	if lw.err != nil {
		return
	}
	_, lw.err = lw.w.WriteString("\n")
}

func (lw *lineWriter) flush() error {
	if lw.err != nil {
		return lw.err
	}
	return lw.w.Flush()
}

func identityRows(lw *lineWriter, id Identity) {
	lw.row("Participant", "Session", "Age", "Sex")
	lw.row(id.Participant, id.Session, id.ageText(), id.Sex)
	lw.blank()
}

func firstValue(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	return formatValue(values[0])
}

func summaryValue(ds Dataset, name string) string {
	v, ok := ds.Summary[name]
	if !ok {
		return ""
	}
	return formatValue(v)
}

// Amplitude is the generic amplitude/measurement layout.
type Amplitude struct{}

func (Amplitude) Name() string      { return AmplitudeVariant }
func (Amplitude) Fields() []string  { return []string{"Measurement"} }
func (Amplitude) Summary() []string { return []string{"Discomfort", "Pain"} }

func (a Amplitude) Encode(w io.Writer, ds Dataset) error {
	lw := newLineWriter(w)
	identityRows(lw, ds.Identity)
	lw.row(a.Summary()...)
	lw.row(summaryValue(ds, "Discomfort"), summaryValue(ds, "Pain"))
	lw.blank()
	lw.row("Amplitude", "Measurement")
	for _, r := range ds.Rows {
		lw.row(fmt.Sprint(r.Amplitude), firstValue(r.Values))
	}
	return lw.flush()
}

// Calibrated is the threshold-relative layout: a baseline row, the
// calibration point, then one row per trial.
type Calibrated struct{}

func (Calibrated) Name() string      { return CalibrationVariant }
func (Calibrated) Fields() []string  { return []string{"measure"} }
func (Calibrated) Summary() []string { return nil }

func (Calibrated) Encode(w io.Writer, ds Dataset) error {
	cal := Calibration{}
	if ds.Calibration != nil {
		cal = *ds.Calibration
	}
	lw := newLineWriter(w)
	identityRows(lw, ds.Identity)
	lw.row("Amplitude", "multiplier", "measure")
	lw.row("0", "0.0", formatValue(cal.BaselineMeasure))
	lw.row(fmt.Sprint(cal.ThresholdAmplitude), "1.0", formatValue(cal.ThresholdMeasure))
	for _, r := range ds.Rows {
		lw.row(fmt.Sprint(r.Amplitude), formatDecimal(r.Spec.Multiplier), firstValue(r.Values))
	}
	return lw.flush()
}

// Threshold is the multi-threshold layout with one row per waveform kind.
type Threshold struct{}

var thresholdFields = []string{
	"Perception", "Sensory", "Motor", "Discomfort", "Pain",
	"Pain Score", "Electrode Pain", "Paraesthesia Pain", "Motor Pain",
}

func (Threshold) Name() string      { return ThresholdVariant }
func (Threshold) Fields() []string  { return append([]string(nil), thresholdFields...) }
func (Threshold) Summary() []string { return nil }

// Encode averages repeated trials of the same waveform. Every planned kind
// gets a row, in order of its first canonical index, with blank cells when
// nothing was recorded for it.
func (Threshold) Encode(w io.Writer, ds Dataset) error {
	type acc struct {
		sum   []float64
		count []int
	}
	var kinds []waveform.Kind
	byKind := make(map[waveform.Kind]*acc)
	kind := func(k waveform.Kind) *acc {
		a, ok := byKind[k]
		if !ok {
			a = &acc{sum: make([]float64, len(thresholdFields)), count: make([]int, len(thresholdFields))}
			byKind[k] = a
			kinds = append(kinds, k)
		}
		return a
	}
	for _, spec := range ds.Plan {
		kind(spec.Waveform)
	}
	for _, r := range ds.Rows {
		a := kind(r.Spec.Waveform)
		for i, v := range r.Values {
			if i >= len(thresholdFields) {
				break
			}
			a.sum[i] += v
			a.count[i]++
		}
	}

	lw := newLineWriter(w)
	lw.row(append([]string{"Waveform"}, thresholdFields...)...)
	for _, k := range kinds {
		a := byKind[k]
		cells := []string{string(k)}
		for i := range thresholdFields {
			if a.count[i] == 0 {
				cells = append(cells, "")
				continue
			}
			cells = append(cells, formatValue(a.sum[i]/float64(a.count[i])))
		}
		lw.row(cells...)
	}
	return lw.flush()
}
