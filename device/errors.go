package device

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by link operations before Connect succeeds.
	ErrNotConnected = errors.New("device not connected")

	// ErrTimeout is wrapped into a TransmissionError when a command
	// does not complete within its deadline.
	ErrTimeout = errors.New("command timed out")
)

// ConnectionError reports that the device could not be reached at connect time.
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("failed to connect to device: %v", e.Err)
	}
	return fmt.Sprintf("failed to connect to device on %s: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransmissionError reports a failed waveform upload or start/stop command.
type TransmissionError struct {
	Op  string
	Err error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }
