// Package simulator emulates a stimulator in process, so that sessions
// can be run and tested without hardware attached.
package simulator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/sergev/stim/device"
)

// PortName selects the simulator instead of a serial device.
const PortName = "MOCK"

// Greeting is the line sent after connect.
const Greeting = "Hello"

func init() {
	device.RegisterPort(PortName, func(_ string, s device.Settings) (device.Facade, error) {
		if s.ReadTimeout > 0 {
			return New(WithReadTimeout(s.ReadTimeout)), nil
		}
		return New(), nil
	})
}

// Device is an in-memory stimulator. Outbound commands are answered on the
// line stream the same way the firmware answers them: a greeting after
// connect, the peak amplitude after a waveform upload, and On/Off around
// stimulation.
type Device struct {
	readTimeout time.Duration
	lines       chan []byte

	mu          sync.Mutex
	connected   bool
	stimulating bool
	waveforms   [][]float64
	starts      int
	stops       int
	connectErr  error
	sendErr     error
}

// Option configures a Device.
type Option func(*Device)

// WithReadTimeout bounds each ReadLine call.
func WithReadTimeout(d time.Duration) Option { return func(s *Device) { s.readTimeout = d } }

// WithConnectError makes Connect fail with err.
func WithConnectError(err error) Option { return func(s *Device) { s.connectErr = err } }

// New creates a disconnected simulator.
func New(opts ...Option) *Device {
	s := &Device{
		readTimeout: 50 * time.Millisecond,
		lines:       make(chan []byte, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailSends makes every later SendWaveform fail with err; nil clears it.
func (s *Device) FailSends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Inject queues a raw inbound line, as if the firmware had sent it.
func (s *Device) Inject(line string) {
	s.emit(line)
}

func (s *Device) emit(line string) {
	select {
	case s.lines <- []byte(line):
	default:
		// Drop when nobody is listening, like a serial FIFO overrun.
	}
}

func (s *Device) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	if !s.connected {
		s.connected = true
		s.emit(Greeting)
	}
	return nil
}

func (s *Device) SendWaveform(samples []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return device.ErrNotConnected
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	if len(samples) == 0 {
		return errors.New("waveform has no samples")
	}
	w := make([]float64, len(samples))
	copy(w, samples)
	s.waveforms = append(s.waveforms, w)

	peak := 0.0
	for _, v := range samples {
		peak = math.Max(peak, math.Abs(v))
	}
	s.emit(strconv.Itoa(int(math.Floor(peak))))
	return nil
}

func (s *Device) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return device.ErrNotConnected
	}
	s.starts++
	s.stimulating = true
	s.emit("On")
	return nil
}

func (s *Device) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return device.ErrNotConnected
	}
	s.stops++
	s.stimulating = false
	s.emit("Off")
	return nil
}

// ReadLine waits up to the read timeout for a queued line.
func (s *Device) ReadLine() ([]byte, error) {
	select {
	case line := <-s.lines:
		return line, nil
	case <-time.After(s.readTimeout):
		return nil, nil
	}
}

func (s *Device) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Describe identifies the simulator.
func (s *Device) Describe() string {
	return fmt.Sprintf("simulated stimulator (%s)", PortName)
}

// Waveforms returns the uploaded waveforms, oldest first.
func (s *Device) Waveforms() [][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float64, len(s.waveforms))
	copy(out, s.waveforms)
	return out
}

// Counts returns the number of Start and Stop commands received.
func (s *Device) Counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

// Stimulating reports whether the simulated output is on.
func (s *Device) Stimulating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stimulating
}
