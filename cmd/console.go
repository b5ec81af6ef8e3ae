package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sergev/stim/results"
	"github.com/sergev/stim/session"
	"github.com/sergev/stim/telemetry"
)

// console is the operator's line-oriented control surface. It runs on the
// control goroutine and is the only caller of machine commands.
type console struct {
	m        *session.Machine
	out      io.Writer
	duration time.Duration
	fields   []string
	summary  []string
}

func newConsole(m *session.Machine, out io.Writer, duration time.Duration, variant results.Variant) *console {
	return &console{
		m:        m,
		out:      out,
		duration: duration,
		fields:   variant.Fields(),
		summary:  variant.Summary(),
	}
}

// readLines forwards lines from r until EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// run executes operator lines and mirrors telemetry until quit, EOF or
// cancellation.
func (c *console) run(ctx context.Context, lines <-chan string, events <-chan telemetry.Event) {
	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			before := c.m.Status().Stimulation
			c.m.Observe(ev)
			if after := c.m.Status().Stimulation; after != before {
				fmt.Fprintf(c.out, "\nStimulation: %s\n", after)
				c.prompt()
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			if c.exec(ctx, line) {
				return
			}
			c.prompt()
		}
	}
}

func (c *console) prompt() {
	fmt.Fprintf(c.out, "%s> ", c.m.State())
}

// exec runs one command line and reports whether the console should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}
	var err error
	switch strings.ToLower(args[0]) {
	case "quit", "exit":
		return true
	case "help", "?":
		c.help()
		return false
	case "status":
		c.status()
		return false
	case "connect":
		err = c.m.Connect(ctx)
	case "start":
		err = c.start(ctx, args[1:])
	case "calibrate":
		err = c.calibrate(ctx, args[1:])
	case "send":
		err = c.m.AdministerTrial(ctx)
	case "on":
		err = c.m.StartStimulation(ctx)
	case "off":
		err = c.m.StopStimulation(ctx)
	case "stim":
		err = c.stimulate(ctx, args[1:])
	case "record":
		err = c.record(ctx, args[1:])
	case "note":
		err = c.note(args[1:])
	case "end":
		err = c.m.EndSession(ctx)
	default:
		fmt.Fprintf(c.out, "Unknown command %q, type help for a list\n", args[0])
		return false
	}
	c.report(err)
	return false
}

func (c *console) report(err error) {
	st := c.m.Status()
	if err != nil {
		var ve *session.ValidationError
		if !errors.As(err, &ve) {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
	fmt.Fprintf(c.out, "%s\n", st.Overall)
	if st.Waveform != nil && err == nil {
		w := st.Waveform
		if w.Trial >= 0 {
			fmt.Fprintf(c.out, "Trial %d/%d: %s %g Hz, %d mA\n", st.Recorded+1, st.Planned, w.Kind, w.Frequency, w.Amplitude)
		} else {
			fmt.Fprintf(c.out, "Calibration: %s %g Hz, %d mA\n", w.Kind, w.Frequency, w.Amplitude)
		}
	}
}

func (c *console) start(ctx context.Context, args []string) error {
	var id results.Identity
	if len(args) > 0 {
		id.Participant = args[0]
	}
	if len(args) > 1 {
		id.Session = args[1]
	}
	if len(args) > 2 {
		id.Age, _ = strconv.Atoi(args[2])
	}
	if len(args) > 3 {
		id.Sex = strings.Join(args[3:], " ")
	}
	return c.m.StartSession(ctx, id)
}

func (c *console) calibrate(ctx context.Context, args []string) error {
	values, err := parseNumbers(args)
	if err != nil {
		return err
	}
	if len(values) != 3 {
		return fmt.Errorf("usage: calibrate BASELINE THRESHOLD_MA THRESHOLD_MEASURE")
	}
	return c.m.DoneCalibration(ctx, results.Calibration{
		BaselineMeasure:    values[0],
		ThresholdAmplitude: int(values[1]),
		ThresholdMeasure:   values[2],
	})
}

func (c *console) stimulate(ctx context.Context, args []string) error {
	d := c.duration
	if len(args) > 0 {
		var err error
		if d, err = parseDuration(args[0]); err != nil {
			return err
		}
	}
	return c.m.RunStimulation(ctx, d)
}

func (c *console) record(ctx context.Context, args []string) error {
	values, err := parseNumbers(args)
	if err != nil {
		return err
	}
	return c.m.RecordMeasurement(ctx, values...)
}

func (c *console) note(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: note NAME VALUE")
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", args[1])
	}
	return c.m.Annotate(args[0], v)
}

// parseDuration accepts plain seconds or a Go duration string.
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func parseNumbers(args []string) ([]float64, error) {
	values := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(strings.TrimSuffix(a, ","), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		values[i] = v
	}
	return values, nil
}

func (c *console) status() {
	st := c.m.Status()
	fmt.Fprintf(c.out, "Device:      %s\n", st.Device)
	fmt.Fprintf(c.out, "Session:     %s", st.Session)
	if st.Participant != "" {
		fmt.Fprintf(c.out, " (%s, %s)", st.Participant, st.SessionID)
	}
	fmt.Fprintf(c.out, "\n")
	fmt.Fprintf(c.out, "Stimulation: %s\n", st.Stimulation)
	if st.Waveform != nil {
		fmt.Fprintf(c.out, "Waveform:    %s %g Hz\n", st.Waveform.Kind, st.Waveform.Frequency)
	}
	fmt.Fprintf(c.out, "Amplitude:   %d mA\n", st.Amplitude)
	if st.Planned > 0 {
		fmt.Fprintf(c.out, "Progress:    %d/%d\n", st.Recorded, st.Planned)
	}
	fmt.Fprintf(c.out, "Status:      %s\n", st.Overall)
}

var helpLines = []struct {
	cmd   session.Command
	usage string
}{
	{session.Connect, "connect                         connect to the stimulator"},
	{session.StartSession, "start PARTICIPANT SESSION AGE [SEX]"},
	{session.DoneCalibration, "calibrate BASELINE MA MEASURE   finish calibration"},
	{session.SendWaveform, "send                            load the next waveform"},
	{session.StartStimulation, "on                              start stimulation"},
	{session.StopStimulation, "off                             stop stimulation"},
	{session.TimedStimulate, "stim [SECONDS]                  stimulate for a duration"},
	{session.RecordMeasurement, "record VALUE...                 record the trial measurement"},
	{session.Annotate, "note NAME VALUE                 record a session value"},
	{session.EndSession, "end                             save results and end the session"},
}

func (c *console) help() {
	for _, h := range helpLines {
		mark := " "
		if c.m.Enabled(h.cmd) {
			mark = "*"
		}
		fmt.Fprintf(c.out, "%s %s\n", mark, h.usage)
	}
	fmt.Fprintf(c.out, "  status                          show device and session status\n")
	fmt.Fprintf(c.out, "  quit                            leave the console\n")
	fmt.Fprintf(c.out, "Commands marked * are available now.\n")
	if len(c.fields) > 0 {
		fmt.Fprintf(c.out, "Measurement fields: %s\n", strings.Join(c.fields, ", "))
	}
	if len(c.summary) > 0 {
		fmt.Fprintf(c.out, "Session values: %s\n", strings.Join(c.summary, ", "))
	}
}
