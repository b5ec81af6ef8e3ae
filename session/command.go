// Package session implements the operator protocol of an experiment: which
// commands are legal in which state, and what each command does to the
// device, the trial sequence and the result dataset.
package session

import (
	"fmt"
)

// State is the protocol state of a Machine.
type State int

const (
	Disconnected State = iota
	Connected
	Calibrating
	SessionActive
)

var stateNames = [...]string{
	Disconnected:  "Disconnected",
	Connected:     "Connected",
	Calibrating:   "Calibrating",
	SessionActive: "SessionActive",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Command is an operator action at the presentation boundary.
type Command int

const (
	Connect Command = iota
	StartSession
	EndSession
	SendWaveform
	StartStimulation
	StopStimulation
	TimedStimulate
	RecordMeasurement
	DoneCalibration
	Annotate
)

// Commands lists every command in display order.
var Commands = []Command{
	Connect, StartSession, EndSession, SendWaveform, StartStimulation,
	StopStimulation, TimedStimulate, RecordMeasurement, DoneCalibration, Annotate,
}

var commandNames = [...]string{
	Connect:           "Connect",
	StartSession:      "StartSession",
	EndSession:        "EndSession",
	SendWaveform:      "SendWaveform",
	StartStimulation:  "StartStimulation",
	StopStimulation:   "StopStimulation",
	TimedStimulate:    "TimedStimulate",
	RecordMeasurement: "RecordMeasurement",
	DoneCalibration:   "DoneCalibration",
	Annotate:          "Annotate",
}

func (c Command) String() string {
	if c < 0 || int(c) >= len(commandNames) {
		return fmt.Sprintf("Command(%d)", int(c))
	}
	return commandNames[c]
}

// MarshalText encodes the command by name.
func (c Command) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
