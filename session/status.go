package session

import (
	"slices"

	"github.com/sergev/stim/telemetry"
	"github.com/sergev/stim/waveform"
)

// Overall status lines.
const (
	StatusReady            = "Ready to connect"
	StatusConnected        = "Device connected"
	StatusConnectFailed    = "Connection failed"
	StatusSessionStarted   = "Session started"
	StatusCalibrated       = "Calibration done"
	StatusWaveformSent     = "Waveform sent"
	StatusStimulating      = "Stimulating"
	StatusStopped          = "Stimulation stopped"
	StatusRecorded         = "Measurement recorded"
	StatusSessionComplete  = "Session complete"
	StatusTransmitFailed   = "Transmission failed"
	StatusSynthesisFailed  = "Synthesis failed"
	StatusSaveFailed       = "Save failed"
	StatusFileExists       = "File already exists"
	StatusEnterParticipant = "Enter participant ID"
	StatusEnterSession     = "Enter session ID"
	StatusEnterAge         = "Enter age"
	StatusSelectSession    = "Select session"
)

// Waveform describes what is loaded on the device.
type Waveform struct {
	Kind      waveform.Kind `json:"kind"`
	Frequency float64       `json:"frequency"`
	Amplitude int           `json:"amplitude"`
	Trial     int           `json:"trial"` // canonical index, -1 during calibration
}

// Status is what the presentation layer displays.
type Status struct {
	State          State              `json:"state"`
	Device         string             `json:"device"`
	Session        string             `json:"session"`
	Stimulation    string             `json:"stimulation"`
	Overall        string             `json:"overall"`
	Participant    string             `json:"participant,omitempty"`
	SessionID      string             `json:"session_id,omitempty"`
	Waveform       *Waveform          `json:"waveform,omitempty"`
	Amplitude      int                `json:"amplitude"`
	Recorded       int                `json:"recorded"`
	Planned        int                `json:"planned"`
	IdentityInputs bool               `json:"identity_inputs"`
	Enabled        []Command          `json:"enabled"`
	Telemetry      telemetry.Snapshot `json:"telemetry"`
}

// Has reports whether cmd is enabled in s.
func (s Status) Has(cmd Command) bool {
	return slices.Contains(s.Enabled, cmd)
}

func deviceText(s State) string {
	if s == Disconnected {
		return "Not connected"
	}
	return "Connected"
}

func sessionText(s State, complete bool) string {
	switch {
	case s == Calibrating:
		return "Calibrating"
	case s == SessionActive && complete:
		return "Complete"
	case s == SessionActive:
		return "Started"
	}
	return "Not started"
}

func stimulationText(on bool) string {
	if on {
		return "On"
	}
	return "Off"
}
