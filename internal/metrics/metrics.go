// Package metrics exposes controller activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaz8081/blipctl/internal/ble/protocol"
	"github.com/chaz8081/blipctl/internal/session"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// SessionMetrics implements session.Observer.
type SessionMetrics struct {
	Cycles        *prometheus.CounterVec   // labels: command, result
	CycleDuration *prometheus.HistogramVec // labels: command
	Frames        *prometheus.CounterVec   // labels: result
	Active        prometheus.Gauge
	Remaining     prometheus.Gauge
	Mode          *prometheus.GaugeVec // labels: mode; 1 for the current mode
}

var _ session.Observer = (*SessionMetrics)(nil)

var modes = []protocol.Mode{
	protocol.ModeIdle,
	protocol.ModeAllStationsActive,
	protocol.ModeSingleStationActive,
	protocol.ModeProgrammedOff,
	protocol.ModeUnknown,
}

// NewSessionMetrics registers and returns the controller metrics.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blip_command_cycles_total",
			Help: "Command cycles by command and result.",
		}, []string{"command", "result"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blip_command_cycle_seconds",
			Help:    "Time from command write to aggregated status.",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 4, 6},
		}, []string{"command"}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blip_notifications_total",
			Help: "Notifications received by decode result.",
		}, []string{"result"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blip_watering_active",
			Help: "1 while any station is watering.",
		}),
		Remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blip_timer_remaining_seconds",
			Help: "Remaining watering time reported by the device.",
		}),
		Mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blip_mode",
			Help: "Current device mode (1 for the active mode label).",
		}, []string{"mode"}),
	}
	reg.MustRegister(m.Cycles, m.CycleDuration, m.Frames, m.Active, m.Remaining, m.Mode)
	return m
}

func (m *SessionMetrics) ObserveCycle(kind protocol.Kind, result string, elapsed time.Duration) {
	m.Cycles.WithLabelValues(kind.String(), result).Inc()
	m.CycleDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

func (m *SessionMetrics) ObserveFrame(result string) {
	m.Frames.WithLabelValues(result).Inc()
}

func (m *SessionMetrics) ObserveStatus(status protocol.DeviceStatus) {
	if status.Active {
		m.Active.Set(1)
	} else {
		m.Active.Set(0)
	}
	m.Remaining.Set(status.TimerRemaining.Seconds())
	for _, mode := range modes {
		v := 0.0
		if mode == status.Mode {
			v = 1
		}
		m.Mode.WithLabelValues(mode.String()).Set(v)
	}
}
