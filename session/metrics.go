package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts commands by outcome and tracks trial progress.
type Metrics struct {
	commands *prometheus.CounterVec
	recorded prometheus.Gauge
	planned  prometheus.Gauge
}

// NewMetrics creates the session collectors and registers them with reg
// when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stim_session_commands_total",
			Help: "Operator commands by name and outcome.",
		}, []string{"command", "outcome"}),
		recorded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stim_session_trials_recorded",
			Help: "Trials recorded in the current session.",
		}),
		planned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stim_session_trials_planned",
			Help: "Trials planned for the current session.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.commands, m.recorded, m.planned)
	}
	return m
}

func (m *Metrics) command(cmd Command, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	m.commands.WithLabelValues(cmd.String(), outcome).Inc()
}

func (m *Metrics) progress(done, total int) {
	if m == nil {
		return
	}
	m.recorded.Set(float64(done))
	m.planned.Set(float64(total))
}
