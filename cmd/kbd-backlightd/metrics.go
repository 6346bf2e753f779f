package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the daemon's prometheus collectors. A nil *Metrics is valid and
// records nothing, which keeps tests and the metrics-less path free of guards.
type Metrics struct {
	brightness     prometheus.Gauge
	target         prometheus.Gauge
	mode           *prometheus.GaugeVec
	devices        prometheus.Gauge
	transitions    *prometheus.CounterVec
	fades          *prometheus.CounterVec
	fadesCancelled prometheus.Counter
	external       *prometheus.CounterVec
	writeFailures  prometheus.Counter
	activity       prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		brightness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kbd_backlight_brightness",
			Help: "Last brightness level written or observed on the backlight surface.",
		}),
		target: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kbd_backlight_target_brightness",
			Help: "Brightness level restored on activity.",
		}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kbd_backlight_mode",
			Help: "1 for the current daemon mode, 0 otherwise.",
		}, []string{"mode"}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kbd_backlight_input_devices",
			Help: "Number of monitored input devices.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kbd_backlight_mode_transitions_total",
			Help: "Mode transitions by source and destination mode.",
		}, []string{"from", "to"}),
		fades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kbd_backlight_fades_total",
			Help: "Brightness ramps started, by direction.",
		}, []string{"direction"}),
		fadesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kbd_backlight_fades_cancelled_total",
			Help: "Brightness ramps aborted by shutdown.",
		}),
		external: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kbd_backlight_external_changes_total",
			Help: "Brightness changes made outside the daemon (hotkey), by kind.",
		}, []string{"kind"}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kbd_backlight_write_failures_total",
			Help: "Failed writes to the backlight surface.",
		}),
		activity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kbd_backlight_activity_wakeups_total",
			Help: "Loop iterations that observed input activity.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.brightness, m.target, m.mode, m.devices, m.transitions,
			m.fades, m.fadesCancelled, m.external, m.writeFailures, m.activity,
		)
	}
	return m
}

func (m *Metrics) setBrightness(v int) {
	if m == nil {
		return
	}
	m.brightness.Set(float64(v))
}

func (m *Metrics) setTarget(v int) {
	if m == nil {
		return
	}
	m.target.Set(float64(v))
}

func (m *Metrics) setMode(mode Mode) {
	if m == nil {
		return
	}
	for _, md := range allModes {
		v := 0.0
		if md == mode {
			v = 1
		}
		m.mode.WithLabelValues(md.String()).Set(v)
	}
}

func (m *Metrics) setDevices(n int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(n))
}

func (m *Metrics) transition(from, to Mode) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) fadeStarted(from, to int) {
	if m == nil {
		return
	}
	dir := "up"
	if to < from {
		dir = "down"
	}
	m.fades.WithLabelValues(dir).Inc()
}

func (m *Metrics) fadeCancelled() {
	if m == nil {
		return
	}
	m.fadesCancelled.Inc()
}

func (m *Metrics) externalChange(kind ExternalChangeKind) {
	if m == nil {
		return
	}
	m.external.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) writeFailed() {
	if m == nil {
		return
	}
	m.writeFailures.Inc()
}

func (m *Metrics) activitySeen() {
	if m == nil {
		return
	}
	m.activity.Inc()
}
