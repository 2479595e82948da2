// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/ocs-answerer/internal/model"
	"github.com/sells-group/ocs-answerer/internal/resilience"
)

const namespace = "ocs"

// Metrics holds every collector. It implements resolver.Recorder.
type Metrics struct {
	registry prometheus.Gatherer

	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	resolvedTotal *prometheus.CounterVec
	resolveTime   prometheus.Histogram
	coalesced     prometheus.Counter
	bankTotal     *prometheus.CounterVec
	bankDuration  *prometheus.HistogramVec
	circuitState  *prometheus.GaugeVec
	httpTotal     *prometheus.CounterVec
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stageTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_attempts_total",
			Help:      "Stage attempts by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each stage.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9),
		}, []string{"stage"}),
		resolvedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolved requests by answering source; none when nothing answered.",
		}, []string{"source"}),
		resolveTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "End-to-end resolution latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_requests_total",
			Help:      "Requests that shared a remote lookup with another caller.",
		}),
		bankTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bank_attempts_total",
			Help:      "Remote bank attempts by bank and outcome.",
		}, []string{"bank", "outcome"}),
		bankDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bank_duration_seconds",
			Help:      "Remote bank call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"bank"}),
		circuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"service"}),
		httpTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// Stage records a stage attempt.
func (m *Metrics) Stage(stage model.Source, outcome string, elapsed time.Duration) {
	m.stageTotal.WithLabelValues(string(stage), outcome).Inc()
	m.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// Resolved records a finished resolution.
func (m *Metrics) Resolved(source model.Source, found bool, elapsed time.Duration) {
	label := string(source)
	if !found {
		label = "none"
	}
	m.resolvedTotal.WithLabelValues(label).Inc()
	m.resolveTime.Observe(elapsed.Seconds())
}

// Coalesced counts a caller that shared a computation.
func (m *Metrics) Coalesced() { m.coalesced.Inc() }

// BankAttempt matches bank.Observer.
func (m *Metrics) BankAttempt(bankName, outcome string, elapsed time.Duration) {
	m.bankTotal.WithLabelValues(bankName, outcome).Inc()
	m.bankDuration.WithLabelValues(bankName).Observe(elapsed.Seconds())
}

// CircuitChanged matches resilience.BreakerConfig.OnStateChange.
func (m *Metrics) CircuitChanged(service string, _, to resilience.State) {
	m.circuitState.WithLabelValues(service).Set(float64(to))
}

// HTTPRequest counts a served request.
func (m *Metrics) HTTPRequest(route string, code int) {
	m.httpTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
