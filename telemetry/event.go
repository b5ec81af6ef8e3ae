package telemetry

import (
	"strconv"
	"strings"
)

// Default inbound tokens.
const (
	DefaultGreeting = "Hello"
	OnToken         = "On"
	OffToken        = "Off"
)

// Kind classifies one telemetry line.
type Kind int

const (
	Ignored Kind = iota
	Greeting
	StimulationOn
	StimulationOff
	Amplitude
)

func (k Kind) String() string {
	switch k {
	case Greeting:
		return "greeting"
	case StimulationOn:
		return "on"
	case StimulationOff:
		return "off"
	case Amplitude:
		return "amplitude"
	}
	return "ignored"
}

// Event is the typed form of a telemetry line.
type Event struct {
	Kind      Kind
	Amplitude int
	Line      string
}

// Classify interprets a raw line. Padding NULs and surrounding whitespace
// are stripped first. Lines that match no rule come back as Ignored.
func Classify(raw []byte, greeting string) Event {
	line := strings.TrimSpace(strings.Trim(string(raw), "\x00"))
	ev := Event{Line: line}
	switch {
	case line == "":
		ev.Kind = Ignored
	case line == greeting:
		ev.Kind = Greeting
	case strings.Contains(line, OnToken):
		ev.Kind = StimulationOn
	case strings.Contains(line, OffToken):
		ev.Kind = StimulationOff
	default:
		n, err := strconv.Atoi(line)
		if err != nil {
			ev.Kind = Ignored
			break
		}
		ev.Kind = Amplitude
		ev.Amplitude = n
	}
	return ev
}
