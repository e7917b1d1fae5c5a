package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace is the metric namespace used when none is configured.
const DefaultNamespace = "avarfc"

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	rfcCalls        *prometheus.CounterVec
	rfcDuration     *prometheus.HistogramVec
	openSessions    *prometheus.GaugeVec
	commits         *prometheus.CounterVec
	metadataCache   *prometheus.CounterVec
	circuitBreaker  *prometheus.GaugeVec
	destinationUp   *prometheus.GaugeVec
	rateLimitHits   prometheus.Counter
	configReloads   *prometheus.CounterVec
	buildInfo       *prometheus.GaugeVec
	startTime       prometheus.Gauge
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.005, .01, .025, .05, .1,
				.25, .5, 1, 2.5, 5, 10, 30, 60,
			},
		},
		[]string{"method", "route", "status"},
	)

	m.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Number of HTTP requests being served",
		},
	)

	m.rfcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rfc_calls_total",
			Help:      "Total number of remote function calls by outcome",
		},
		[]string{"destination", "function", "outcome"},
	)

	m.rfcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rfc_call_duration_seconds",
			Help:      "Remote function call duration in seconds, commit included",
			Buckets: []float64{
				.01, .025, .05, .1, .25,
				.5, 1, 2.5, 5, 10, 30, 60,
			},
		},
		[]string{"destination", "function"},
	)

	m.openSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rfc_open_sessions",
			Help:      "Number of stateful destination sessions currently held",
		},
		[]string{"destination"},
	)

	m.commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rfc_commits_total",
			Help:      "Total number of transaction commits by result",
		},
		[]string{"destination", "result"},
	)

	m.metadataCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_cache_lookups_total",
			Help:      "Function metadata cache lookups (hit or miss)",
		},
		[]string{"destination", "result"},
	)

	m.circuitBreaker = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	m.destinationUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "destination_up",
			Help:      "Result of the last destination probe (1=reachable, 0=unreachable)",
		},
		[]string{"destination"},
	)

	m.rateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
	)

	m.configReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of configuration reloads by result",
		},
		[]string{"result"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the gateway",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Start time of the gateway in unix seconds",
		},
	)

	m.registerCollectors()
	m.startTime.SetToCurrentTime()

	return m
}

func (m *Metrics) registerCollectors() {
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.rfcCalls,
		m.rfcDuration,
		m.openSessions,
		m.commits,
		m.metadataCache,
		m.circuitBreaker,
		m.destinationUp,
		m.rateLimitHits,
		m.configReloads,
		m.buildInfo,
		m.startTime,
	)

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)
}

// RecordRequest records a completed HTTP request. route must be the
// matched route pattern, not the raw path.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, route, statusStr).Inc()
	m.requestDuration.WithLabelValues(method, route, statusStr).Observe(duration.Seconds())
}

// IncrementActiveRequests increments the active requests gauge.
func (m *Metrics) IncrementActiveRequests() {
	m.activeRequests.Inc()
}

// DecrementActiveRequests decrements the active requests gauge.
func (m *Metrics) DecrementActiveRequests() {
	m.activeRequests.Dec()
}

// CallCompleted records the outcome of one remote function call.
func (m *Metrics) CallCompleted(destination, function, outcome string, duration time.Duration) {
	m.rfcCalls.WithLabelValues(destination, function, outcome).Inc()
	m.rfcDuration.WithLabelValues(destination, function).Observe(duration.Seconds())
}

// SessionOpened records a stateful session being acquired.
func (m *Metrics) SessionOpened(destination string) {
	m.openSessions.WithLabelValues(destination).Inc()
}

// SessionClosed records a stateful session being released.
func (m *Metrics) SessionClosed(destination string) {
	m.openSessions.WithLabelValues(destination).Dec()
}

// CommitCompleted records the result of a transaction commit.
func (m *Metrics) CommitCompleted(destination string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.commits.WithLabelValues(destination, result).Inc()
}

// RecordMetadataLookup records a function metadata cache hit or miss.
func (m *Metrics) RecordMetadataLookup(destination string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.metadataCache.WithLabelValues(destination, result).Inc()
}

// SetCircuitBreakerState sets the circuit breaker state.
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.circuitBreaker.WithLabelValues(name).Set(float64(state))
}

// SetDestinationUp records the result of a destination probe.
func (m *Metrics) SetDestinationUp(destination string, up bool) {
	value := 0.0
	if up {
		value = 1.0
	}
	m.destinationUp.WithLabelValues(destination).Set(value)
}

// RecordRateLimitHit records a request rejected by the rate limiter.
// Client addresses belong in logs, not labels.
func (m *Metrics) RecordRateLimitHit() {
	m.rateLimitHits.Inc()
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.configReloads.WithLabelValues(result).Inc()
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterCollector registers an additional collector with the registry
// backing the metrics endpoint.
func (m *Metrics) RegisterCollector(c prometheus.Collector) error {
	return m.registry.Register(c)
}
