package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		kind Kind
		amp  int
	}{
		{"Hello", Greeting, 0},
		{"Hello\r\n", Greeting, 0},
		{"\x00\x00Hello\x00", Greeting, 0},
		{"On", StimulationOn, 0},
		{"Stim On\r\n", StimulationOn, 0},
		{"Off", StimulationOff, 0},
		{"42", Amplitude, 42},
		{" 7 \r\n", Amplitude, 7},
		{"-3", Amplitude, -3},
		{"", Ignored, 0},
		{"\x00", Ignored, 0},
		{"garbage", Ignored, 0},
		{"12.5", Ignored, 0},
		{"Hello there", Ignored, 0},
	}
	for _, tt := range tests {
		ev := Classify([]byte(tt.line), DefaultGreeting)
		if ev.Kind != tt.kind {
			t.Errorf("Classify(%q).Kind = %v, expected %v", tt.line, ev.Kind, tt.kind)
		}
		if ev.Amplitude != tt.amp {
			t.Errorf("Classify(%q).Amplitude = %d, expected %d", tt.line, ev.Amplitude, tt.amp)
		}
	}
}

func TestHandleReportsIgnored(t *testing.T) {
	state := &State{}
	l := NewListener(nil, state)

	if ev := l.Handle([]byte("bogus")); ev.Kind != Ignored {
		t.Errorf("Handle(bogus).Kind = %v, expected Ignored", ev.Kind)
	}
	if _, seen := state.Amplitude(); seen {
		t.Errorf("ignored line changed amplitude")
	}
	if state.Snapshot().Lines != 1 {
		t.Errorf("Lines = %d, expected 1", state.Snapshot().Lines)
	}
}

func TestStateApplyAndReset(t *testing.T) {
	state := &State{}
	l := NewListener(nil, state)
	for _, line := range []string{"Hello", "On", "25"} {
		l.Handle([]byte(line))
	}

	snap := state.Snapshot()
	if !snap.HandshakeSeen || !snap.Stimulating || snap.Amplitude != 25 || !snap.AmplitudeSeen {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	state.Reset()
	snap = state.Snapshot()
	if snap.HandshakeSeen || snap.Stimulating || snap.AmplitudeSeen || snap.Amplitude != 0 {
		t.Errorf("Reset() left state %+v", snap)
	}
}

func TestStimulationCountsSwitches(t *testing.T) {
	state := &State{}
	l := NewListener(nil, state)
	for _, line := range []string{"On", "25", "26", "Off"} {
		l.Handle([]byte(line))
	}
	on, switches := state.Stimulation()
	if on || switches != 2 {
		t.Errorf("Stimulation() = %v, %d, expected false, 2", on, switches)
	}

	state.Reset()
	if _, switches = state.Stimulation(); switches != 2 {
		t.Errorf("Reset() changed the switch count to %d", switches)
	}
}

// scriptedReader returns queued lines, then nothing.
type scriptedReader struct {
	mu    sync.Mutex
	lines []string
	errs  int
}

func (r *scriptedReader) ReadLine() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errs > 0 {
		r.errs--
		return nil, errors.New("port closed")
	}
	if len(r.lines) == 0 {
		return nil, nil
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return []byte(line), nil
}

func (r *scriptedReader) push(lines ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, lines...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestListenerTogglesStimulation(t *testing.T) {
	src := &scriptedReader{errs: 2}
	state := &State{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	events := make(chan Event, 8)
	l := NewListener(src, state, WithIdle(time.Millisecond), WithMetrics(metrics), WithNotify(events))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	src.push("On")
	waitFor(t, "stimulation on", state.Stimulating)
	src.push("junk", "Off")
	waitFor(t, "stimulation off", func() bool { return !state.Stimulating() && state.Snapshot().Lines == 3 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned %v, expected context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not stop after cancel")
	}

	if got := (<-events).Kind; got != StimulationOn {
		t.Errorf("first event = %v, expected on", got)
	}
	if got := (<-events).Kind; got != StimulationOff {
		t.Errorf("second event = %v, expected off", got)
	}
	if n := testutil.ToFloat64(metrics.events.WithLabelValues("ignored")); n != 1 {
		t.Errorf("ignored count = %v, expected 1", n)
	}
	if n := testutil.ToFloat64(metrics.readErrors); n != 2 {
		t.Errorf("read error count = %v, expected 2", n)
	}
}

func TestListenerStopsWhenCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewListener(&scriptedReader{}, &State{})
	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() returned %v, expected context.Canceled", err)
	}
}
