// Package wavewriter drives the WaveWriter stimulator over its USB serial link.
package wavewriter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sergev/stim/device"

	"go.bug.st/serial"
)

const (
	VendorID  = 0x16c0 // Van Ooijen Technische Informatica
	ProductID = 0x0483 // Teensyduino serial
)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 100 * time.Millisecond
)

// Command bytes understood by the firmware.
const (
	CMD_WAVEFORM = 'W' // followed by uint32 sample count and float32 samples, little-endian
	CMD_START    = 'S'
	CMD_STOP     = 'X'
)

// Maximum number of samples the firmware buffer accepts.
const MaxSamples = 65536

// Client wraps a serial port connection to a WaveWriter device.
type Client struct {
	portName    string
	baudRate    int
	readTimeout time.Duration

	mu      sync.Mutex // guards port
	writeMu sync.Mutex // serializes outbound commands
	port    serial.Port

	// Owned by the ReadLine caller.
	pending []byte
	buf     []byte
}

// Option configures a Client.
type Option func(*Client)

// WithBaudRate overrides the link speed.
func WithBaudRate(baud int) Option { return func(c *Client) { c.baudRate = baud } }

// WithReadTimeout bounds each ReadLine call.
func WithReadTimeout(d time.Duration) Option { return func(c *Client) { c.readTimeout = d } }

func init() {
	device.Register("WaveWriter", VendorID, ProductID, func(portName string, s device.Settings) (device.Facade, error) {
		var opts []Option
		if s.BaudRate > 0 {
			opts = append(opts, WithBaudRate(s.BaudRate))
		}
		if s.ReadTimeout > 0 {
			opts = append(opts, WithReadTimeout(s.ReadTimeout))
		}
		return New(portName, opts...), nil
	})
}

// New creates a client for the named serial port. The port is opened by Connect.
func New(portName string, opts ...Option) *Client {
	c := &Client{
		portName:    portName,
		baudRate:    DefaultBaudRate,
		readTimeout: DefaultReadTimeout,
		buf:         make([]byte, 256),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the serial port and configures the read timeout.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: c.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(c.portName, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", c.portName, err)
	}
	if err := port.SetReadTimeout(c.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return fmt.Errorf("failed to reset input buffer: %w", err)
	}
	c.port = port
	return nil
}

// Close releases the serial port.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}

// Describe returns the port name of the device.
func (c *Client) Describe() string {
	return fmt.Sprintf("WaveWriter on %s", c.portName)
}

func (c *Client) currentPort() (serial.Port, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil, device.ErrNotConnected
	}
	return c.port, nil
}

// doCommand writes a complete command packet.
func (c *Client) doCommand(packet []byte) error {
	port, err := c.currentPort()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for len(packet) > 0 {
		n, err := port.Write(packet)
		if err != nil {
			return fmt.Errorf("failed to write command: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("failed to write command: port accepted no data")
		}
		packet = packet[n:]
	}
	return nil
}

// SendWaveform uploads stimulation samples to the device buffer.
func (c *Client) SendWaveform(samples []float64) error {
	packet, err := EncodeWaveform(samples)
	if err != nil {
		return err
	}
	return c.doCommand(packet)
}

// Start begins stimulation.
func (c *Client) Start() error {
	return c.doCommand([]byte{CMD_START, '\n'})
}

// Stop ends stimulation.
func (c *Client) Stop() error {
	return c.doCommand([]byte{CMD_STOP, '\n'})
}

// ReadLine reads from the port until a newline or the read timeout.
// Partial lines are kept for the next call. Only one goroutine may read.
func (c *Client) ReadLine() ([]byte, error) {
	if line, ok := c.takeLine(); ok {
		return line, nil
	}
	port, err := c.currentPort()
	if err != nil {
		return nil, err
	}
	n, err := port.Read(c.buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read from %s: %w", c.portName, err)
	}
	if n == 0 {
		return nil, nil // timeout, no data
	}
	c.pending = append(c.pending, c.buf[:n]...)
	if line, ok := c.takeLine(); ok {
		return line, nil
	}
	return nil, nil
}

func (c *Client) takeLine() ([]byte, bool) {
	i := bytes.IndexByte(c.pending, '\n')
	if i < 0 {
		return nil, false
	}
	line := make([]byte, i)
	copy(line, c.pending[:i])
	c.pending = c.pending[i+1:]
	return bytes.TrimRight(line, "\r"), true
}

// EncodeWaveform builds the waveform upload packet:
// [CMD_WAVEFORM][count uint32 LE][count × float32 LE].
func EncodeWaveform(samples []float64) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("waveform has no samples")
	}
	if len(samples) > MaxSamples {
		return nil, fmt.Errorf("waveform has %d samples, device accepts at most %d", len(samples), MaxSamples)
	}
	packet := make([]byte, 5+4*len(samples))
	packet[0] = CMD_WAVEFORM
	binary.LittleEndian.PutUint32(packet[1:5], uint32(len(samples)))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(packet[5+4*i:], math.Float32bits(float32(v)))
	}
	return packet, nil
}
