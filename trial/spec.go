// Package trial describes the administrable stimuli of an experiment and
// sequences them in randomized order.
package trial

import (
	"fmt"
	"math"

	"github.com/sergev/stim/waveform"
)

// Template is one configured stimulus before repetition.
type Template struct {
	Waveform   waveform.Kind
	Frequency  float64 // Hz; zero keeps the waveform default
	Amplitude  int     // mA, used when Relative is false
	Multiplier float64 // fraction of the calibrated threshold, used when Relative is true
	Relative   bool
}

// Spec is an immutable administrable stimulus with its canonical index.
type Spec struct {
	Template
	Index int
}

// AmplitudeFor returns the stimulus amplitude given a calibrated threshold.
// Relative amplitudes are truncated toward negative infinity.
func (s Spec) AmplitudeFor(threshold int) int {
	if !s.Relative {
		return s.Amplitude
	}
	return int(math.Floor(float64(threshold) * s.Multiplier))
}

func (s Spec) String() string {
	if s.Relative {
		return fmt.Sprintf("#%d %s ×%g", s.Index, s.Waveform, s.Multiplier)
	}
	return fmt.Sprintf("#%d %s %d mA", s.Index, s.Waveform, s.Amplitude)
}

// Expand tiles templates repeats times. Canonical index r*N+i is
// repetition r of template i.
func Expand(templates []Template, repeats int) []Spec {
	if repeats < 1 {
		repeats = 1
	}
	specs := make([]Spec, 0, len(templates)*repeats)
	for r := 0; r < repeats; r++ {
		for _, t := range templates {
			specs = append(specs, Spec{Template: t, Index: len(specs)})
		}
	}
	return specs
}
