// Package metrics provides Prometheus instrumentation for a coordinator
// session.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "lgsync"

// Command outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeLost    = "lost"
)

// Metrics holds the session collectors.
type Metrics struct {
	connectivity     *prometheus.GaugeVec
	reconnects       prometheus.Counter
	framesReceived   prometheus.Counter
	framesSent       prometheus.Counter
	decodeErrors     prometheus.Counter
	revision         prometheus.Gauge
	places           prometheus.Gauge
	resources        prometheus.Gauge
	subscriptions    prometheus.Gauge
	commands         *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	resyncDuration   prometheus.Histogram
	resyncTotal      *prometheus.CounterVec
	lastRevisionTime prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg
// registers nothing, which is useful in tests.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connectivity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connectivity",
			Help:      "1 for the current connectivity state, 0 otherwise.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Connection attempts scheduled after a failure or loss.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_received_total",
			Help:      "Frames received from the coordinator.",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_sent_total",
			Help:      "Frames sent to the coordinator.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Stream frames dropped because they could not be decoded.",
		}),
		revision: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "snapshot",
			Name:      "revision",
			Help:      "Current snapshot revision.",
		}),
		places: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "snapshot",
			Name:      "places",
			Help:      "Places in the snapshot.",
		}),
		resources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "snapshot",
			Name:      "resources",
			Help:      "Resources in the snapshot.",
		}),
		lastRevisionTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "snapshot",
			Name:      "last_change_timestamp_seconds",
			Help:      "Unix time of the last snapshot change.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "subscriptions",
			Help:      "Active subscription handles.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "commands_total",
			Help:      "Completed commands by method and outcome.",
		}, []string{"method", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from submit to completion.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		resyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "resync_duration_seconds",
			Help:      "Time from sync request to sync completion.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		resyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resyncs_total",
			Help:      "Full resyncs by result.",
		}, []string{"result"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connectivity, m.reconnects, m.framesReceived, m.framesSent,
		m.decodeErrors, m.revision, m.places, m.resources, m.lastRevisionTime,
		m.subscriptions, m.commands, m.commandDuration, m.resyncDuration,
		m.resyncTotal,
	}
}

// SetConnectivity marks state as the current connectivity among states.
func (m *Metrics) SetConnectivity(state string, states ...string) {
	if m == nil {
		return
	}
	for _, s := range states {
		m.connectivity.WithLabelValues(s).Set(0)
	}
	m.connectivity.WithLabelValues(state).Set(1)
}

// IncReconnects counts a scheduled reconnect attempt.
func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// IncFramesReceived counts an inbound frame.
func (m *Metrics) IncFramesReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

// IncFramesSent counts an outbound frame.
func (m *Metrics) IncFramesSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

// IncDecodeErrors counts a dropped frame.
func (m *Metrics) IncDecodeErrors() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// RecordSnapshot records the snapshot size after a change.
func (m *Metrics) RecordSnapshot(revision uint64, places, resources int) {
	if m == nil {
		return
	}
	m.revision.Set(float64(revision))
	m.places.Set(float64(places))
	m.resources.Set(float64(resources))
	m.lastRevisionTime.SetToCurrentTime()
}

// SetSubscriptions records the number of open subscription handles.
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// RecordCommand records a completed command.
func (m *Metrics) RecordCommand(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(method, outcome).Inc()
	m.commandDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordResync records a finished or abandoned resync.
func (m *Metrics) RecordResync(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	result := "complete"
	if !ok {
		result = "timeout"
	} else {
		m.resyncDuration.Observe(d.Seconds())
	}
	m.resyncTotal.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler exposing the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
