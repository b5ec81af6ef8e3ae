package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts telemetry traffic.
type Metrics struct {
	events     *prometheus.CounterVec
	readErrors prometheus.Counter
	amplitude  prometheus.Gauge
}

// NewMetrics creates the telemetry collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stim_telemetry_events_total",
				Help: "Telemetry lines received, by classification.",
			},
			[]string{"kind"},
		),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stim_telemetry_read_errors_total",
			Help: "Failed reads from the device link.",
		}),
		amplitude: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stim_device_amplitude_milliamps",
			Help: "Last amplitude reported by the device.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.readErrors, m.amplitude)
	}
	return m
}

func (m *Metrics) observe(ev Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(ev.Kind.String()).Inc()
	if ev.Kind == Amplitude {
		m.amplitude.Set(float64(ev.Amplitude))
	}
}

func (m *Metrics) readError() {
	if m == nil {
		return
	}
	m.readErrors.Inc()
}
