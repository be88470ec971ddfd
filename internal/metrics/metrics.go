package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus instruments for evaluation and storage.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	decisions     *prometheus.CounterVec
	evaluate      prometheus.Histogram
	storeDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec
	requests      *prometheus.CounterVec
}

// New builds metrics on a private registry, including Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpipolicy_decisions_total",
			Help: "Decisions returned by the engine grouped by outcome and reason",
		}, []string{"outcome", "reason"}),
		evaluate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kpipolicy_evaluate_duration_seconds",
			Help:    "Latency of one alert evaluation including the rule listing",
			Buckets: prometheus.DefBuckets,
		}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kpipolicy_store_op_duration_seconds",
			Help:    "Latency of rule repository operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend", "op"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpipolicy_store_errors_total",
			Help: "Failed rule repository operations",
		}, []string{"backend", "op"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpipolicy_evaluate_requests_total",
			Help: "Evaluate requests received over NATS grouped by result",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.decisions,
		m.evaluate,
		m.storeDuration,
		m.storeErrors,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDecision records one engine verdict.
func (m *Metrics) ObserveDecision(outcome, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome, reason).Inc()
	m.evaluate.Observe(elapsed.Seconds())
}

// ObserveStoreOp records one repository call and its failure, if any.
func (m *Metrics) ObserveStoreOp(backend, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(backend, op).Observe(elapsed.Seconds())
	if err != nil {
		m.storeErrors.WithLabelValues(backend, op).Inc()
	}
}

// ObserveRequest counts one transport request by result (ok, validation, storage, malformed).
func (m *Metrics) ObserveRequest(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}

// Decisions returns the decision counter for one label pair, or nil when metrics are disabled.
func (m *Metrics) Decisions(outcome, reason string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.decisions.WithLabelValues(outcome, reason)
}

// StoreErrors returns the store error counter for one label pair, or nil when metrics are disabled.
func (m *Metrics) StoreErrors(backend, op string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.storeErrors.WithLabelValues(backend, op)
}

// Requests returns the request counter for one result label, or nil when metrics are disabled.
func (m *Metrics) Requests(result string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.requests.WithLabelValues(result)
}
