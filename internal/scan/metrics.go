package scan

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "netscanner"

// Metrics holds the scan engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	scansStarted   prometheus.Counter
	scansCompleted prometheus.Counter
	probes         *prometheus.CounterVec
	serviceEvents  *prometheus.CounterVec
	failures       *prometheus.CounterVec
	devices        prometheus.Gauge
	scanDuration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scans_started_total",
			Help:      "Total number of scan sessions started.",
		}),
		scansCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scans_completed_total",
			Help:      "Total number of scan sessions that reached the completed state.",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "probes_total",
			Help:      "Host probes issued, by outcome.",
		}, []string{"result"}),
		serviceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "service_events_total",
			Help:      "Service discovery events observed, by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "discovery_failures_total",
			Help:      "Service discovery failures, by stage.",
		}, []string{"stage"}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "devices",
			Help:      "Devices in the current unified view.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time from scan start to completion.",
			Buckets:   []float64{1, 2, 5, 10, 15, 30, 60},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.scansStarted, m.scansCompleted, m.probes, m.serviceEvents,
			m.failures, m.devices, m.scanDuration,
		)
	}
	return m
}

func (m *Metrics) scanStarted() {
	if m == nil {
		return
	}
	m.scansStarted.Inc()
}

func (m *Metrics) scanCompleted(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scansCompleted.Inc()
	m.scanDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) probe(alive bool) {
	if m == nil {
		return
	}
	result := "dead"
	if alive {
		result = "alive"
	}
	m.probes.WithLabelValues(result).Inc()
}

func (m *Metrics) serviceEvent(kind EventKind) {
	if m == nil {
		return
	}
	m.serviceEvents.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) discoveryFailure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}

func (m *Metrics) setDevices(n int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(n))
}
