// Package device defines the command surface of a stimulation device and
// the registry used to find one on the USB serial bus.
package device

// Facade is the set of primitives the session controller needs from a
// stimulator. Implementations must allow ReadLine to run on one goroutine
// while the other methods are called from another.
type Facade interface {
	// Connect opens the link. It is safe to call on an open link.
	Connect() error

	// SendWaveform uploads one period of stimulation samples.
	SendWaveform(samples []float64) error

	// Start begins stimulation with the last uploaded waveform.
	Start() error

	// Stop ends stimulation.
	Stop() error

	// ReadLine returns one inbound line without its terminator.
	// A nil line with a nil error means no data arrived within the read timeout.
	ReadLine() ([]byte, error)

	// Close releases the link.
	Close() error
}

// Describer is implemented by devices that can report identifying details.
type Describer interface {
	Describe() string
}
