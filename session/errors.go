package session

import (
	"errors"
	"fmt"
)

var (
	// ErrStimulating is returned for commands refused while the device stimulates.
	ErrStimulating = errors.New("stimulation in progress")

	// ErrNoWaveform is returned when stimulation is requested before a waveform is sent.
	ErrNoWaveform = errors.New("no waveform loaded")
)

// ValidationError reports operator input that blocks a command. Message is
// the status line shown to the operator.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InvalidTransitionError reports a command the current state does not accept.
type InvalidTransitionError struct {
	State   State
	Command Command
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("command %s is not allowed in state %s", e.Command, e.State)
}
