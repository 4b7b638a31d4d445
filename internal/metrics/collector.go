// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every Prometheus vector this process exports, grouped
// by subsystem and registered once at construction via promauto.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Proxy (upstream LLM requests)
	proxyRequestsTotal   *prometheus.CounterVec
	proxyRequestDuration *prometheus.HistogramVec
	proxyTokensUsed      *prometheus.CounterVec
	proxyUpstreamErrors  *prometheus.CounterVec

	// Router / admission
	routerQueueDepth     *prometheus.GaugeVec
	routerAdmissionWait  *prometheus.HistogramVec
	routerRejectionTotal *prometheus.CounterVec

	// Rate limiting
	rateLimitAllowed *prometheus.CounterVec
	rateLimitDenied  *prometheus.CounterVec

	// Health / failure policy
	endpointStateTransitions *prometheus.CounterVec
	endpointHealthScore      *prometheus.GaugeVec

	// Drain coordinator
	drainState     *prometheus.GaugeVec
	drainInFlight  prometheus.Gauge
	drainedDropped prometheus.Counter

	// Audit log
	auditAppendsTotal  *prometheus.CounterVec
	auditVerifyFailure prometheus.Counter

	// Cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Database
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector registers every metric vector under namespace and returns
// the populated Collector.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.proxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of requests proxied to upstream endpoints",
		},
		[]string{"endpoint_id", "model", "status"},
	)

	c.proxyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_request_duration_seconds",
			Help:      "Upstream request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"endpoint_id", "model"},
	)

	c.proxyTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_tokens_total",
			Help:      "Total prompt and completion tokens proxied",
		},
		[]string{"endpoint_id", "model", "type"}, // type: prompt, completion
	)

	c.proxyUpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_upstream_errors_total",
			Help:      "Total upstream errors observed by the failure policy",
		},
		[]string{"endpoint_id", "reason"},
	)

	c.routerQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "router_admission_queue_depth",
			Help:      "Current number of requests waiting in the admission queue",
		},
		[]string{"tenant"},
	)

	c.routerAdmissionWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "router_admission_wait_seconds",
			Help:      "Time a request waited before admission or rejection",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tenant", "outcome"}, // outcome: admitted, rejected, timeout
	)

	c.routerRejectionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_rejections_total",
			Help:      "Total requests rejected by the admission controller",
		},
		[]string{"tenant", "reason"},
	)

	c.rateLimitAllowed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_allowed_total",
			Help:      "Total requests allowed by the rate limiter",
		},
		[]string{"backend"}, // backend: local, redis
	)

	c.rateLimitDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denied_total",
			Help:      "Total requests denied by the rate limiter",
		},
		[]string{"backend"},
	)

	c.endpointStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_state_transitions_total",
			Help:      "Total endpoint health state transitions",
		},
		[]string{"endpoint_id", "from_state", "to_state"},
	)

	c.endpointHealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoint_health_score",
			Help:      "Current health probe score per endpoint (1 healthy, 0 unhealthy)",
		},
		[]string{"endpoint_id"},
	)

	c.drainState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drain_state",
			Help:      "1 if the process is currently in the named drain state, 0 otherwise",
		},
		[]string{"state"}, // serving, draining, applying
	)

	c.drainInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drain_in_flight_requests",
			Help:      "Number of requests currently in flight through the drain gate",
		},
	)

	c.drainedDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_dropped_requests_total",
			Help:      "Total in-flight requests abandoned by a timed-out drain",
		},
	)

	c.auditAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_appends_total",
			Help:      "Total audit log entries appended",
		},
		[]string{"action"},
	)

	c.auditVerifyFailure = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_verify_failures_total",
			Help:      "Total audit chain verification runs that detected a break",
		},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one completed HTTP request/response pair.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordProxyRequest records one proxied request to an upstream endpoint.
func (c *Collector) RecordProxyRequest(endpointID, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.proxyRequestsTotal.WithLabelValues(endpointID, model, status).Inc()
	c.proxyRequestDuration.WithLabelValues(endpointID, model).Observe(duration.Seconds())
	c.proxyTokensUsed.WithLabelValues(endpointID, model, "prompt").Add(float64(promptTokens))
	c.proxyTokensUsed.WithLabelValues(endpointID, model, "completion").Add(float64(completionTokens))
}

// RecordUpstreamError records a failure the failure policy counted against
// an endpoint's exclusion threshold.
func (c *Collector) RecordUpstreamError(endpointID, reason string) {
	c.proxyUpstreamErrors.WithLabelValues(endpointID, reason).Inc()
}

// SetAdmissionQueueDepth reports the current admission queue depth for a
// tenant (or "" for the global queue).
func (c *Collector) SetAdmissionQueueDepth(tenant string, depth int) {
	c.routerQueueDepth.WithLabelValues(tenant).Set(float64(depth))
}

// RecordAdmissionWait records how long a request waited in the admission
// queue before being admitted, rejected, or timing out.
func (c *Collector) RecordAdmissionWait(tenant, outcome string, wait time.Duration) {
	c.routerAdmissionWait.WithLabelValues(tenant, outcome).Observe(wait.Seconds())
}

// RecordRejection records an admission-controller rejection.
func (c *Collector) RecordRejection(tenant, reason string) {
	c.routerRejectionTotal.WithLabelValues(tenant, reason).Inc()
}

// RecordRateLimit records a rate limiter allow/deny decision.
func (c *Collector) RecordRateLimit(backend string, allowed bool) {
	if allowed {
		c.rateLimitAllowed.WithLabelValues(backend).Inc()
		return
	}
	c.rateLimitDenied.WithLabelValues(backend).Inc()
}

// RecordEndpointStateTransition records an endpoint moving between health
// states (e.g. healthy -> degraded -> excluded).
func (c *Collector) RecordEndpointStateTransition(endpointID, fromState, toState string) {
	c.endpointStateTransitions.WithLabelValues(endpointID, fromState, toState).Inc()
}

// SetEndpointHealthScore reports an endpoint's current probe score.
func (c *Collector) SetEndpointHealthScore(endpointID string, score float64) {
	c.endpointHealthScore.WithLabelValues(endpointID).Set(score)
}

// SetDrainState reports the process drain state as a one-hot gauge set:
// the named state is set to 1, the remaining two known states to 0.
func (c *Collector) SetDrainState(state string) {
	for _, s := range []string{"serving", "draining", "applying"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		c.drainState.WithLabelValues(s).Set(v)
	}
}

// SetDrainInFlight reports the current in-flight request count tracked by
// the drain gate.
func (c *Collector) SetDrainInFlight(n int) {
	c.drainInFlight.Set(float64(n))
}

// RecordDrainDropped records in-flight requests abandoned by a timed-out
// drain.
func (c *Collector) RecordDrainDropped(n int) {
	c.drainedDropped.Add(float64(n))
}

// RecordAuditAppend records one audit log append.
func (c *Collector) RecordAuditAppend(action string) {
	c.auditAppendsTotal.WithLabelValues(action).Inc()
}

// RecordAuditVerifyFailure records an audit chain verification run that
// found a break.
func (c *Collector) RecordAuditVerifyFailure() {
	c.auditVerifyFailure.Inc()
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections reports the current connection pool occupancy.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery records one database query's duration.
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// statusCode buckets an HTTP status code into its class string.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
