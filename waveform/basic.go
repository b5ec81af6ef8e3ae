package waveform

import (
	"fmt"
	"math"
)

// DefaultSampleRate is the output rate of Basic, in samples per second.
const DefaultSampleRate = 100000

// Basic synthesizes one repetition period of each waveform at a fixed
// sample rate. Parameters are used as given.
type Basic struct {
	SampleRate float64
}

func (b Basic) rate() float64 {
	if b.SampleRate > 0 {
		return b.SampleRate
	}
	return DefaultSampleRate
}

// samples returns the number of samples spanning seconds, at least one.
func (b Basic) samples(seconds float64) int {
	n := int(math.Round(seconds * b.rate()))
	if n < 1 {
		n = 1
	}
	return n
}

func (b Basic) Synthesize(kind Kind, p Params) ([]float64, error) {
	if p.Frequency <= 0 {
		return nil, fmt.Errorf("%s: frequency must be positive", kind)
	}
	switch kind {
	case Tonic, NevroHF:
		return b.pulses(p, 1/p.Frequency, 1), nil
	case BostonBurst, AbbottBurst:
		if p.InterBurst <= 0 {
			return nil, fmt.Errorf("%s: burst rate must be positive", kind)
		}
		out := b.pulses(p, 1/p.InterBurst, max(p.PulsesPerBurst, 1))
		if kind == AbbottBurst {
			b.recharge(out)
		}
		return out, nil
	case Sinusoidal:
		cycles := max(p.Cycles, 1)
		out := make([]float64, b.samples(float64(cycles)/p.Frequency))
		for i := range out {
			out[i] = p.Amplitude * math.Sin(2*math.Pi*p.Frequency*b.t(i))
		}
		return out, nil
	case Russian, Wavelet, OffsetWavelet, SawtoothModulated:
		if p.Modulation <= 0 {
			return nil, fmt.Errorf("%s: modulation frequency must be positive", kind)
		}
		return b.modulated(kind, p), nil
	}
	return nil, fmt.Errorf("unsupported waveform %q", kind)
}

func (b Basic) t(i int) float64 { return float64(i) / b.rate() }

// pulses lays out count rectangular pulses at p.Frequency inside one period.
func (b Basic) pulses(p Params, period float64, count int) []float64 {
	out := make([]float64, b.samples(period))
	width := b.samples(p.PulseWidth * 1e-6)
	spacing := b.samples(1 / p.Frequency)
	for k := 0; k < count; k++ {
		start := k * spacing
		for i := 0; i < width && start+i < len(out); i++ {
			out[start+i] = p.Amplitude
		}
		if !p.Biphasic {
			continue
		}
		for i := 0; i < width && start+width+i < len(out); i++ {
			out[start+width+i] = -p.Amplitude
		}
	}
	return out
}

// recharge balances the net charge of out over its idle tail.
func (b Basic) recharge(out []float64) {
	var charge float64
	last := 0
	for i, v := range out {
		charge += v
		if v != 0 {
			last = i
		}
	}
	tail := len(out) - last - 1
	if tail <= 0 || charge == 0 {
		return
	}
	level := -charge / float64(tail)
	for i := last + 1; i < len(out); i++ {
		out[i] = level
	}
}

func (b Basic) modulated(kind Kind, p Params) []float64 {
	period := 1 / p.Modulation
	out := make([]float64, b.samples(period))
	center := period / 2
	sigma := p.StdDev * 1e-6
	for i := range out {
		t := b.t(i)
		carrier := math.Sin(2 * math.Pi * p.Frequency * t)
		switch kind {
		case Russian:
			if t < p.Window*1e-6 {
				out[i] = p.Amplitude * carrier
			}
		case Wavelet, OffsetWavelet:
			env := 1.0
			if sigma > 0 {
				env = math.Exp(-(t - center) * (t - center) / (2 * sigma * sigma))
			}
			if kind == OffsetWavelet {
				carrier = (carrier + 1) / 2
			}
			out[i] = p.Amplitude * env * carrier
		case SawtoothModulated:
			out[i] = p.Amplitude * (t / period) * carrier
		}
	}
	return out
}
