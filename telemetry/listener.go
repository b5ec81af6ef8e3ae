package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/sergev/stim/logging"
)

// LineReader is the inbound half of the device link.
// A nil line with nil error means no data is available right now.
type LineReader interface {
	ReadLine() ([]byte, error)
}

// Listener reads device lines and applies them to a State.
type Listener struct {
	src      LineReader
	state    *State
	greeting string
	idle     time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	notify   chan<- Event
}

// Option configures a Listener.
type Option func(*Listener)

// WithGreeting sets the handshake literal.
func WithGreeting(greeting string) Option { return func(l *Listener) { l.greeting = greeting } }

// WithIdle sets the pause after an empty read or a read error.
func WithIdle(d time.Duration) Option { return func(l *Listener) { l.idle = d } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(l *Listener) { l.logger = logger } }

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *Metrics) Option { return func(l *Listener) { l.metrics = m } }

// WithNotify delivers every non-ignored event to ch without blocking;
// events are dropped when ch is full.
func WithNotify(ch chan<- Event) Option { return func(l *Listener) { l.notify = ch } }

// NewListener creates a listener reading src into state.
func NewListener(src LineReader, state *State, opts ...Option) *Listener {
	l := &Listener{
		src:      src,
		state:    state,
		greeting: DefaultGreeting,
		idle:     10 * time.Millisecond,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run processes lines until ctx is cancelled and then returns ctx.Err().
// Read errors (including a link that is not yet open) are logged and
// retried after the idle pause. Cancellation is checked between reads,
// so shutdown latency is bounded by the reader's own timeout.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := l.src.ReadLine()
		if err != nil {
			l.metrics.readError()
			l.logger.Debug("telemetry read failed", "error", err)
			if !l.pause(ctx) {
				return ctx.Err()
			}
			continue
		}
		if line == nil {
			// Non-blocking readers return immediately; avoid spinning.
			if !l.pause(ctx) {
				return ctx.Err()
			}
			continue
		}
		l.Handle(line)
	}
}

// Handle classifies and applies a single line, returning the outcome.
func (l *Listener) Handle(line []byte) Event {
	ev := Classify(line, l.greeting)
	l.state.Apply(ev)
	l.metrics.observe(ev)

	if ev.Kind == Ignored {
		l.logger.Debug("telemetry line ignored", "line", ev.Line)
		return ev
	}
	l.logger.Debug("telemetry event", "kind", ev.Kind.String(), "line", ev.Line)
	if l.notify != nil {
		select {
		case l.notify <- ev:
		default:
		}
	}
	return ev
}

func (l *Listener) pause(ctx context.Context) bool {
	if l.idle <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(l.idle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
