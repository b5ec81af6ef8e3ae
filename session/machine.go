package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sergev/stim/device"
	"github.com/sergev/stim/logging"
	"github.com/sergev/stim/results"
	"github.com/sergev/stim/telemetry"
	"github.com/sergev/stim/trial"
	"github.com/sergev/stim/waveform"
)

// Experiment is the trial plan a Machine runs.
type Experiment struct {
	Name          string
	Trials        []trial.Template
	Repeats       int
	Calibration   bool     // insert the calibration sub-phase
	Sessions      []string // allowed session IDs, empty allows any
	BaseAmplitude int      // mA sent during calibration before any feedback
}

// Options configures a Machine. Device, Synthesizer, Recorder and
// Telemetry are required.
type Options struct {
	Device         device.Facade
	Port           string
	Synthesizer    waveform.Synthesizer
	Experiment     Experiment
	Recorder       *results.Recorder
	Journal        *results.Journal
	Telemetry      *telemetry.State
	Rand           *rand.Rand
	Logger         *slog.Logger
	Metrics        *Metrics
	CommandTimeout time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Machine is the session state machine. Commands are meant to be issued
// from one control goroutine; Status may be read from any goroutine.
type Machine struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	hadSession  bool
	identity    results.Identity
	seq         *trial.Sequencer
	calibration *results.Calibration
	summary     map[string]float64
	loaded      bool
	stimulating bool
	switches    uint64 // telemetry On/Off count last mirrored
	current     *Waveform
	overall     string

	status atomic.Pointer[Status]
}

// New creates a machine in the Disconnected state.
func New(opts Options) *Machine {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = &telemetry.State{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Experiment.Repeats < 1 {
		opts.Experiment.Repeats = 1
	}
	m := &Machine{
		opts:    opts,
		logger:  opts.Logger,
		state:   Disconnected,
		overall: StatusReady,
	}
	m.publish()
	return m
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current protocol state.
func (m *Machine) State() State {
	return m.Status().State
}

// Status returns the latest published status with live telemetry.
func (m *Machine) Status() Status {
	s := *m.status.Load()
	s.Enabled = slices.Clone(s.Enabled)
	if s.Waveform != nil {
		w := *s.Waveform
		s.Waveform = &w
	}
	s.Telemetry = m.opts.Telemetry.Snapshot()
	if s.Telemetry.AmplitudeSeen && s.State != Disconnected {
		s.Amplitude = s.Telemetry.Amplitude
	}
	return s
}

// Enabled reports whether cmd would currently be accepted.
func (m *Machine) Enabled(cmd Command) bool {
	return m.status.Load().Has(cmd)
}

// EnabledCommands lists the commands currently accepted.
func (m *Machine) EnabledCommands() []Command {
	return slices.Clone(m.status.Load().Enabled)
}

// Progress returns the number of recorded and planned trials.
func (m *Machine) Progress() (recorded, planned int) {
	s := m.status.Load()
	return s.Recorded, s.Planned
}

// publish rebuilds the status snapshot. Callers hold m.mu, except New.
func (m *Machine) publish() {
	s := &Status{
		State:          m.state,
		Device:         deviceText(m.state),
		Stimulation:    stimulationText(m.stimulating),
		Overall:        m.overall,
		IdentityInputs: m.state == Connected || (m.state == Disconnected && m.hadSession),
	}
	complete := false
	if m.seq != nil {
		s.Recorded, s.Planned = m.seq.Cursor(), m.seq.Len()
		complete = m.seq.Done()
	}
	s.Session = sessionText(m.state, complete)
	if m.state == Calibrating || m.state == SessionActive {
		s.Participant = m.identity.Participant
		s.SessionID = m.identity.Session
	}
	if m.current != nil {
		w := *m.current
		s.Waveform = &w
		s.Amplitude = w.Amplitude
	}
	for _, cmd := range Commands {
		if m.check(cmd) == nil {
			s.Enabled = append(s.Enabled, cmd)
		}
	}
	m.status.Store(s)
	m.opts.Metrics.progress(s.Recorded, s.Planned)
}

// check reports why cmd would be refused now, or nil.
func (m *Machine) check(cmd Command) error {
	if _, ok := lookup(m.state, cmd); !ok {
		return &InvalidTransitionError{State: m.state, Command: cmd}
	}
	if m.stimulating && blockedWhileStimulating[cmd] {
		return ErrStimulating
	}
	if m.state == SessionActive && trialCommands[cmd] && m.seq.Done() {
		return trial.ErrSequenceExhausted
	}
	switch cmd {
	case StartStimulation, TimedStimulate:
		if !m.loaded {
			return ErrNoWaveform
		}
	case RecordMeasurement:
		if _, ok := m.seq.Pending(); !ok {
			return fmt.Errorf("%w: no trial administered", trial.ErrOutOfOrder)
		}
	case Annotate:
		if len(m.variant().Summary()) == 0 {
			return &InvalidTransitionError{State: m.state, Command: cmd}
		}
	}
	return nil
}

// begin locks the machine and verifies cmd is accepted.
func (m *Machine) begin(cmd Command) error {
	m.mu.Lock()
	if err := m.check(cmd); err != nil {
		m.finish(cmd, err)
		return err
	}
	return nil
}

// finish logs the outcome, publishes status and unlocks.
func (m *Machine) finish(cmd Command, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		m.overall = ve.Message
	}
	if err != nil {
		m.logger.Warn("command rejected", "command", cmd.String(), "state", m.state.String(), "error", err)
	}
	m.opts.Metrics.command(cmd, err)
	m.publish()
	m.mu.Unlock()
}

func (m *Machine) transition(cmd Command, to State) {
	if m.state == to {
		return
	}
	m.logger.Info("session state changed", "command", cmd.String(), "from", m.state.String(), "to", to.String())
	m.state = to
}

func (m *Machine) variant() results.Variant {
	if m.opts.Recorder == nil {
		return results.Amplitude{}
	}
	return m.opts.Recorder.Variant()
}

// Connect opens the device link.
func (m *Machine) Connect(ctx context.Context) (err error) {
	if err := m.begin(Connect); err != nil {
		return err
	}
	defer func() { m.finish(Connect, err) }()

	if err := device.Connect(ctx, m.opts.CommandTimeout, m.opts.Port, m.opts.Device); err != nil {
		m.overall = StatusConnectFailed
		return err
	}
	m.transition(Connect, Connected)
	m.overall = StatusConnected
	return nil
}

func (m *Machine) validate(id results.Identity) error {
	if id.Participant == "" {
		return &ValidationError{Field: "participant", Message: StatusEnterParticipant}
	}
	if id.Session == "" {
		return &ValidationError{Field: "session", Message: StatusEnterSession}
	}
	if id.Age <= 0 {
		return &ValidationError{Field: "age", Message: StatusEnterAge}
	}
	if allowed := m.opts.Experiment.Sessions; len(allowed) > 0 && !slices.Contains(allowed, id.Session) {
		return &ValidationError{Field: "session", Message: StatusSelectSession}
	}
	if err := m.opts.Recorder.Check(id); err != nil {
		if errors.Is(err, results.ErrOutputExists) {
			return &ValidationError{Field: "output", Message: StatusFileExists, Err: err}
		}
		m.overall = StatusSaveFailed
		return err
	}
	return nil
}

// StartSession validates id and draws a new administration order. The
// first failing check is reported and the state is left unchanged.
func (m *Machine) StartSession(ctx context.Context, id results.Identity) (err error) {
	if err := m.begin(StartSession); err != nil {
		return err
	}
	defer func() { m.finish(StartSession, err) }()

	id.Participant = strings.TrimSpace(id.Participant)
	id.Session = strings.TrimSpace(id.Session)
	id.Sex = strings.TrimSpace(id.Sex)
	if err := m.validate(id); err != nil {
		return err
	}

	exp := m.opts.Experiment
	m.seq = trial.NewSequencer(trial.Expand(exp.Trials, exp.Repeats), m.opts.Rand)
	order := m.seq.Shuffle()
	m.identity = id
	m.calibration = nil
	m.summary = make(map[string]float64)
	m.loaded = false
	m.current = nil

	if j := m.opts.Journal; j != nil {
		if err := j.Begin(ctx, exp.Name, id, order); err != nil {
			m.logger.Error("journal begin failed", "error", err)
		}
	}

	next := SessionActive
	if exp.Calibration {
		next = Calibrating
	}
	m.transition(StartSession, next)
	m.overall = StatusSessionStarted
	m.logger.Info("session started", "participant", id.Participant, "session", id.Session, "trials", m.seq.Len())
	return nil
}

// DoneCalibration fixes the calibration pair and administers the first
// trial. The calibration stays committed when that send fails.
func (m *Machine) DoneCalibration(ctx context.Context, cal results.Calibration) (err error) {
	if err := m.begin(DoneCalibration); err != nil {
		return err
	}
	defer func() { m.finish(DoneCalibration, err) }()

	if cal.ThresholdAmplitude <= 0 {
		return &ValidationError{Field: "threshold", Message: "Enter threshold"}
	}
	m.calibration = &cal
	if j := m.opts.Journal; j != nil {
		if err := j.SetCalibration(ctx, m.identity, cal); err != nil {
			m.logger.Error("journal calibration failed", "error", err)
		}
	}
	m.loaded = false
	m.current = nil
	m.transition(DoneCalibration, SessionActive)
	m.overall = StatusCalibrated

	if m.seq.Done() {
		return nil
	}
	return m.administer(ctx)
}

// AdministerTrial synthesizes the pending waveform and uploads it. During
// calibration it sends the first trial's waveform at the feedback amplitude.
func (m *Machine) AdministerTrial(ctx context.Context) (err error) {
	if err := m.begin(SendWaveform); err != nil {
		return err
	}
	defer func() { m.finish(SendWaveform, err) }()
	return m.administer(ctx)
}

func (m *Machine) administer(ctx context.Context) error {
	var w Waveform
	if m.state == Calibrating {
		if len(m.opts.Experiment.Trials) == 0 {
			return fmt.Errorf("experiment has no trials")
		}
		t := m.opts.Experiment.Trials[0]
		w = Waveform{Kind: t.Waveform, Frequency: t.Frequency, Amplitude: m.opts.Experiment.BaseAmplitude, Trial: -1}
		if amp, ok := m.opts.Telemetry.Amplitude(); ok {
			w.Amplitude = amp
		}
	} else {
		spec, err := m.seq.Peek()
		if err != nil {
			return err
		}
		threshold := 0
		if m.calibration != nil {
			threshold = m.calibration.ThresholdAmplitude
		}
		w = Waveform{Kind: spec.Waveform, Frequency: spec.Frequency, Amplitude: spec.AmplitudeFor(threshold), Trial: spec.Index}
	}

	params, _ := waveform.Defaults(w.Kind)
	params.Amplitude = float64(w.Amplitude)
	if w.Frequency > 0 {
		params.Frequency = w.Frequency
	}
	w.Frequency = params.Frequency
	samples, err := m.opts.Synthesizer.Synthesize(w.Kind, params)
	if err != nil {
		m.overall = StatusSynthesisFailed
		return fmt.Errorf("failed to synthesize %s: %w", w.Kind, err)
	}

	err = device.Do(ctx, m.opts.CommandTimeout, "send waveform", func() error {
		return m.opts.Device.SendWaveform(samples)
	})
	if err != nil {
		m.overall = StatusTransmitFailed
		return err
	}
	if w.Trial >= 0 {
		if err := m.seq.Mark(w.Trial); err != nil {
			return err
		}
	}
	m.loaded = true
	m.current = &w
	m.overall = StatusWaveformSent
	m.logger.Info("waveform sent", "waveform", string(w.Kind), "frequency", w.Frequency,
		"amplitude", w.Amplitude, "trial", w.Trial, "samples", len(samples))
	return nil
}

// StartStimulation starts the loaded waveform.
func (m *Machine) StartStimulation(ctx context.Context) (err error) {
	if err := m.begin(StartStimulation); err != nil {
		return err
	}
	defer func() { m.finish(StartStimulation, err) }()
	return m.start(ctx)
}

func (m *Machine) start(ctx context.Context) error {
	if err := device.Do(ctx, m.opts.CommandTimeout, "start stimulation", m.opts.Device.Start); err != nil {
		m.overall = StatusTransmitFailed
		return err
	}
	m.stimulating = true
	m.overall = StatusStimulating
	return nil
}

// StopStimulation stops the device. It is accepted whether or not
// stimulation is running.
func (m *Machine) StopStimulation(ctx context.Context) (err error) {
	if err := m.begin(StopStimulation); err != nil {
		return err
	}
	defer func() { m.finish(StopStimulation, err) }()
	return m.stop(ctx)
}

func (m *Machine) stop(ctx context.Context) error {
	if err := device.Do(ctx, m.opts.CommandTimeout, "stop stimulation", m.opts.Device.Stop); err != nil {
		m.overall = StatusTransmitFailed
		return err
	}
	m.stimulating = false
	m.overall = StatusStopped
	return nil
}

// RunStimulation stimulates for d and blocks until done. Cancelling ctx
// ends the wait early; stop is issued either way.
func (m *Machine) RunStimulation(ctx context.Context, d time.Duration) (err error) {
	if err := m.begin(TimedStimulate); err != nil {
		return err
	}
	defer func() { m.finish(TimedStimulate, err) }()

	if d <= 0 {
		return &ValidationError{Field: "duration", Message: "Enter duration"}
	}
	if err := m.start(ctx); err != nil {
		return err
	}
	waitErr := m.opts.Sleep(ctx, d)
	if err := m.stop(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	return waitErr
}

// RecordMeasurement stores values under the canonical index of the
// pending trial. Calibrated experiments then administer the next trial.
func (m *Machine) RecordMeasurement(ctx context.Context, values ...float64) (err error) {
	if err := m.begin(RecordMeasurement); err != nil {
		return err
	}
	defer func() { m.finish(RecordMeasurement, err) }()

	fields := m.variant().Fields()
	if len(values) != len(fields) {
		return &ValidationError{
			Field:   "measurement",
			Message: "Enter " + strings.Join(fields, ", "),
		}
	}
	spec, _ := m.seq.Pending()
	if err := m.seq.Record(spec.Index, values...); err != nil {
		return err
	}
	m.loaded = false

	if j := m.opts.Journal; j != nil {
		threshold := 0
		if m.calibration != nil {
			threshold = m.calibration.ThresholdAmplitude
		}
		row := results.Row{Spec: spec, Amplitude: spec.AmplitudeFor(threshold), Values: values}
		if err := j.Append(ctx, m.identity, row); err != nil {
			m.logger.Error("journal append failed", "trial", spec.Index, "error", err)
		}
	}
	m.logger.Info("measurement recorded", "trial", spec.Index, "recorded", m.seq.Cursor(), "planned", m.seq.Len())

	if m.seq.Done() {
		m.current = nil
		m.overall = StatusSessionComplete
		return nil
	}
	m.overall = StatusRecorded
	if m.opts.Experiment.Calibration && m.calibration != nil {
		return m.administer(ctx)
	}
	return nil
}

// Annotate stores a per-session summary value such as a pain threshold.
func (m *Machine) Annotate(name string, value float64) (err error) {
	if err := m.begin(Annotate); err != nil {
		return err
	}
	defer func() { m.finish(Annotate, err) }()

	fields := m.variant().Summary()
	i := slices.IndexFunc(fields, func(f string) bool { return strings.EqualFold(f, name) })
	if i < 0 {
		return &ValidationError{
			Field:   "annotation",
			Message: "Enter one of " + strings.Join(fields, ", "),
		}
	}
	m.summary[fields[i]] = value
	if j := m.opts.Journal; j != nil {
		if err := j.SetSummary(context.Background(), m.identity, m.summary); err != nil {
			m.logger.Error("journal summary failed", "error", err)
		}
	}
	return nil
}

// EndSession writes the dataset and returns to Disconnected. A failed
// write keeps the session and its records so the call can be retried.
func (m *Machine) EndSession(ctx context.Context) (err error) {
	if err := m.begin(EndSession); err != nil {
		return err
	}
	defer func() { m.finish(EndSession, err) }()

	ds := results.NewDataset(m.identity, m.calibration, m.summary, m.seq.Records())
	ds.Plan = m.seq.Specs()
	path, err := m.opts.Recorder.Write(ctx, ds)
	if err != nil {
		m.overall = StatusSaveFailed
		m.logger.Error("dataset write failed", "error", err)
		return err
	}
	if j := m.opts.Journal; j != nil {
		if err := j.Finish(ctx, m.identity, path); err != nil {
			m.logger.Error("journal finish failed", "error", err)
		}
	}
	m.logger.Info("session ended", "participant", m.identity.Participant, "session", m.identity.Session,
		"path", path, "recorded", len(ds.Rows))

	m.opts.Telemetry.Reset()
	m.identity = results.Identity{}
	m.seq = nil
	m.calibration = nil
	m.summary = nil
	m.loaded = false
	m.current = nil
	m.hadSession = true
	m.transition(EndSession, Disconnected)
	m.overall = StatusReady
	return nil
}

// Observe mirrors the telemetry state into the stimulation display. The
// event only signals that the state may have changed: On/Off status is
// read from Telemetry, so events dropped by a full notify channel are
// caught up by the next one delivered.
func (m *Machine) Observe(ev telemetry.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.Kind == telemetry.Ignored {
		return
	}
	on, switches := m.opts.Telemetry.Stimulation()
	if switches != m.switches {
		m.switches = switches
		if !on || m.state != Disconnected {
			m.stimulating = on
		}
	}
	m.publish()
}
