// Package telemetry turns the asynchronous status lines of a stimulator
// into typed events and keeps the latest reported device state.
package telemetry

import "sync/atomic"

// State is the device status observed on the telemetry stream.
// The Listener is its only writer apart from Reset; readers on any
// goroutine see a consistent value per field without blocking.
type State struct {
	amplitude     atomic.Int64
	amplitudeSeen atomic.Bool
	stimulating   atomic.Bool
	switches      atomic.Uint64
	handshake     atomic.Bool
	lines         atomic.Uint64
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	Amplitude     int    `json:"amplitude"`
	AmplitudeSeen bool   `json:"amplitude_seen"`
	Stimulating   bool   `json:"stimulating"`
	HandshakeSeen bool   `json:"handshake_seen"`
	Lines         uint64 `json:"lines"`
}

// Amplitude returns the last amplitude feedback and whether any was seen.
func (s *State) Amplitude() (int, bool) {
	return int(s.amplitude.Load()), s.amplitudeSeen.Load()
}

// Stimulating reports the last On/Off status.
func (s *State) Stimulating() bool { return s.stimulating.Load() }

// Stimulation returns the last On/Off status together with the number of
// On/Off lines seen so far, which only grows.
func (s *State) Stimulation() (on bool, switches uint64) {
	return s.stimulating.Load(), s.switches.Load()
}

// HandshakeSeen reports whether the greeting has been received.
func (s *State) HandshakeSeen() bool { return s.handshake.Load() }

// Snapshot copies every field.
func (s *State) Snapshot() Snapshot {
	amp, seen := s.Amplitude()
	return Snapshot{
		Amplitude:     amp,
		AmplitudeSeen: seen,
		Stimulating:   s.Stimulating(),
		HandshakeSeen: s.HandshakeSeen(),
		Lines:         s.lines.Load(),
	}
}

// Reset clears the observed state at the end of a session. The On/Off
// count is kept.
func (s *State) Reset() {
	s.amplitude.Store(0)
	s.amplitudeSeen.Store(false)
	s.stimulating.Store(false)
	s.handshake.Store(false)
}

// Apply records an event. Ignored events only count the line.
func (s *State) Apply(ev Event) {
	s.lines.Add(1)
	switch ev.Kind {
	case Greeting:
		s.handshake.Store(true)
	case StimulationOn:
		s.stimulating.Store(true)
		s.switches.Add(1)
	case StimulationOff:
		s.stimulating.Store(false)
		s.switches.Add(1)
	case Amplitude:
		s.amplitude.Store(int64(ev.Amplitude))
		s.amplitudeSeen.Store(true)
	}
}
