// Package waveform names the stimulation waveforms and holds their default
// generation parameters. Sample synthesis sits behind the Synthesizer
// interface; Basic is a plain reference implementation of it.
package waveform

import (
	"fmt"
	"strings"
)

// Kind identifies a waveform shape.
type Kind string

const (
	Tonic             Kind = "Tonic"
	NevroHF           Kind = "Nevro HF"
	AbbottBurst       Kind = "Abbott Burst"
	BostonBurst       Kind = "Boston Burst"
	Sinusoidal        Kind = "Sinusoidal"
	Russian           Kind = "Russian"
	Wavelet           Kind = "Wavelet"
	OffsetWavelet     Kind = "Offset wavelet"
	SawtoothModulated Kind = "Sawtooth modulated"
)

// Kinds lists every known waveform in display order.
var Kinds = []Kind{
	Tonic, NevroHF, AbbottBurst, BostonBurst, Sinusoidal,
	Russian, Wavelet, OffsetWavelet, SawtoothModulated,
}

// Params are the generation parameters of one waveform.
// Zero fields are left to the synthesizer.
type Params struct {
	Amplitude      float64 // mA
	Frequency      float64 // Hz, carrier or pulse rate
	PulseWidth     float64 // us
	Biphasic       bool
	Cycles         int
	InterBurst     float64 // Hz
	PulsesPerBurst int
	Modulation     float64 // Hz
	StdDev         float64 // us, wavelet envelope
	Window         float64 // us, Russian carrier window
}

var defaults = map[Kind]Params{
	Tonic:             {Frequency: 40, PulseWidth: 100, Biphasic: true},
	NevroHF:           {Frequency: 10000, PulseWidth: 30, Biphasic: true},
	AbbottBurst:       {Frequency: 500, InterBurst: 40, PulseWidth: 1000, PulsesPerBurst: 5},
	BostonBurst:       {Frequency: 500, InterBurst: 40, PulseWidth: 1000, PulsesPerBurst: 5, Biphasic: true},
	Sinusoidal:        {Frequency: 2000, Cycles: 1},
	Russian:           {Frequency: 2000, Modulation: 40, Window: 10000},
	Wavelet:           {Frequency: 2000, Modulation: 40, StdDev: 4000},
	OffsetWavelet:     {Frequency: 2000, Modulation: 40, StdDev: 4000},
	SawtoothModulated: {Frequency: 2000, Modulation: 20},
}

// Defaults returns the default parameters for kind.
func Defaults(kind Kind) (Params, bool) {
	p, ok := defaults[kind]
	return p, ok
}

// Parse looks up a kind by name, ignoring case.
func Parse(name string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(string(k), strings.TrimSpace(name)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown waveform %q", name)
}

// Synthesizer turns a waveform description into device samples.
type Synthesizer interface {
	Synthesize(kind Kind, p Params) ([]float64, error)
}
