// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tubegrab"

// Transfer outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeUpstream  = "upstream_unavailable"
	OutcomeMidStream = "mid_stream_fault"
	OutcomeCancelled = "client_cancelled"
)

// Metrics methods are safe to call on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	admissionRejections *prometheus.CounterVec
	resolveDuration     prometheus.Histogram
	resolveFailures     prometheus.Counter
	activeTransfers     prometheus.Gauge
	transferredBytes    *prometheus.CounterVec
	transferOutcomes    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admissionRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Requests rejected by the access gate, by reason.",
		}, []string{"reason"}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving video metadata upstream.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		resolveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_failures_total",
			Help:      "Metadata resolutions that failed upstream.",
		}),
		activeTransfers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_transfers",
			Help:      "Downloads currently streaming to clients.",
		}),
		transferredBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Bytes streamed to clients, by media kind.",
		}, []string{"kind"}),
		transferOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Finished transfers, by media kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.admissionRejections,
		m.resolveDuration,
		m.resolveFailures,
		m.activeTransfers,
		m.transferredBytes,
		m.transferOutcomes,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RejectAdmission(reason string) {
	if m == nil {
		return
	}
	m.admissionRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveResolve(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.resolveDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.resolveFailures.Inc()
	}
}

func (m *Metrics) TransferStarted() {
	if m == nil {
		return
	}
	m.activeTransfers.Inc()
}

func (m *Metrics) TransferFinished(kind, outcome string, written int64) {
	if m == nil {
		return
	}
	m.activeTransfers.Dec()
	m.transferredBytes.WithLabelValues(kind).Add(float64(written))
	m.transferOutcomes.WithLabelValues(kind, outcome).Inc()
}
