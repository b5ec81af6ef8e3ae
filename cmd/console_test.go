package cmd

import (
	"bytes"
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergev/stim/device"
	"github.com/sergev/stim/results"
	"github.com/sergev/stim/session"
	"github.com/sergev/stim/simulator"
	"github.com/sergev/stim/trial"
	"github.com/sergev/stim/waveform"
)

func newTestConsole(t *testing.T) (*console, *simulator.Device, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	sim := simulator.New()
	variant, err := results.Lookup(results.AmplitudeVariant)
	require.NoError(t, err)
	m := session.New(session.Options{
		Device:      sim,
		Port:        simulator.PortName,
		Synthesizer: waveform.Basic{},
		Experiment: session.Experiment{
			Name: "small",
			Trials: []trial.Template{
				{Waveform: waveform.Tonic, Frequency: 40, Amplitude: 10},
				{Waveform: waveform.Tonic, Frequency: 40, Amplitude: 20},
			},
			Repeats: 1,
		},
		Recorder: results.NewRecorder(dir, variant),
		Rand:     rand.New(rand.NewPCG(7, 7)),
	})
	var out bytes.Buffer
	return newConsole(m, &out, time.Second, variant), sim, &out, dir
}

func runScript(c *console, script ...string) {
	lines := make(chan string, len(script))
	for _, l := range script {
		lines <- l
	}
	close(lines)
	c.run(context.Background(), lines, nil)
}

func TestConsoleSession(t *testing.T) {
	c, sim, out, dir := newTestConsole(t)

	runScript(c,
		"connect",
		"start P1 S1 30 F",
		"send", "on", "off", "record 5",
		"send", "on", "off", "record 7",
		"note Discomfort 3",
		"note pain 4",
		"end",
	)

	assert.Contains(t, out.String(), session.StatusSessionComplete)
	assert.Equal(t, session.Disconnected, c.m.State())
	starts, stops := sim.Counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, stops)
	assert.Len(t, sim.Waveforms(), 2)

	data, err := os.ReadFile(filepath.Join(dir, "P1_S1.csv"))
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "Participant, Session, Age, Sex\nP1, S1, 30, F\n"))
	assert.Contains(t, text, "Discomfort, Pain\n3, 4\n")
	assert.Contains(t, text, "Amplitude, Measurement\n")
	assert.Contains(t, text, "10, ")
	assert.Contains(t, text, "20, ")
}

func TestConsoleRejections(t *testing.T) {
	c, _, out, _ := newTestConsole(t)

	runScript(c, "frobnicate", "start P1 S1 30", "connect", "start P1", "record x")

	text := out.String()
	assert.Contains(t, text, `Unknown command "frobnicate"`)
	assert.Contains(t, text, "Error: ")
	assert.Contains(t, text, session.StatusEnterSession)
	assert.Contains(t, text, `invalid number "x"`)
	assert.Equal(t, session.Connected, c.m.State())
}

func TestConsoleQuit(t *testing.T) {
	c, sim, _, _ := newTestConsole(t)

	runScript(c, "quit", "connect")

	assert.Equal(t, session.Disconnected, c.m.State())
	assert.Empty(t, sim.Waveforms())
}

func TestConsoleHelpMarksEnabled(t *testing.T) {
	c, _, out, _ := newTestConsole(t)

	runScript(c, "help")

	text := out.String()
	assert.Contains(t, text, "* connect")
	assert.Contains(t, text, "  end")
	assert.Contains(t, text, "Measurement fields: Measurement")
	assert.Contains(t, text, "Session values: Discomfort, Pain")
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = parseDuration("250ms")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = parseDuration("soon")
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "simulated stimulator (MOCK)", describe(simulator.New(), simulator.PortName))
	assert.Equal(t, "/dev/ttyACM0", describe(struct{ device.Facade }{simulator.New()}, "/dev/ttyACM0"))
}

func TestReadLines(t *testing.T) {
	var got []string
	for line := range readLines(strings.NewReader("connect\nstatus\n")) {
		got = append(got, line)
	}
	assert.Equal(t, []string{"connect", "status"}, got)
}
