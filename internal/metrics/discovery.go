package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Discovery holds the counters of the broadcast discovery subsystem.
// Every method is safe on a nil receiver so components can run unobserved.
type Discovery struct {
	registry *prometheus.Registry

	datagrams     *prometheus.CounterVec
	announcements *prometheus.CounterVec
	probeAttempts prometheus.Counter
	probeResults  *prometheus.CounterVec
	boundPort     prometheus.Gauge
}

// NewDiscovery registers the discovery collectors on a private registry,
// together with the Go runtime and process collectors.
func NewDiscovery(service string) *Discovery {
	labels := prometheus.Labels{"service": service}
	m := &Discovery{
		registry: prometheus.NewRegistry(),
		datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stedge_discovery_datagrams_total",
			Help:        "Datagrams handled by the responder, by outcome (replied, ignored, malformed, throttled, send_failed)",
			ConstLabels: labels,
		}, []string{"outcome"}),
		announcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stedge_discovery_announcements_total",
			Help:        "Unsolicited announcements broadcast by the announcer, by result (sent, failed)",
			ConstLabels: labels,
		}, []string{"result"}),
		probeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "stedge_discovery_probe_attempts_total",
			Help:        "Queries broadcast by the prober, one per candidate port and attempt",
			ConstLabels: labels,
		}),
		probeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stedge_discovery_probe_results_total",
			Help:        "Completed discover calls, by result (found, not_found)",
			ConstLabels: labels,
		}, []string{"result"}),
		boundPort: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "stedge_discovery_bound_port",
			Help:        "UDP port the responder is bound to, 0 when discovery is unavailable",
			ConstLabels: labels,
		}),
	}

	m.registry.MustRegister(
		m.datagrams,
		m.announcements,
		m.probeAttempts,
		m.probeResults,
		m.boundPort,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Discovery) Datagram(outcome string) {
	if m == nil {
		return
	}
	m.datagrams.WithLabelValues(outcome).Inc()
}

func (m *Discovery) Announcement(sent bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !sent {
		result = "failed"
	}
	m.announcements.WithLabelValues(result).Inc()
}

func (m *Discovery) ProbeAttempt() {
	if m == nil {
		return
	}
	m.probeAttempts.Inc()
}

func (m *Discovery) ProbeResult(found bool) {
	if m == nil {
		return
	}
	result := "found"
	if !found {
		result = "not_found"
	}
	m.probeResults.WithLabelValues(result).Inc()
}

func (m *Discovery) BoundPort(port int) {
	if m == nil {
		return
	}
	m.boundPort.Set(float64(port))
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Discovery) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format for this registry.
func (m *Discovery) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
