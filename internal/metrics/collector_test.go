package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.proxyRequestsTotal)
	assert.NotNil(t, collector.proxyRequestDuration)
	assert.NotNil(t, collector.proxyTokensUsed)
	assert.NotNil(t, collector.routerQueueDepth)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)
	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordProxyRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordProxyRequest("ep-1", "gpt-4", "success", 500*time.Millisecond, 100, 50)

	count := testutil.CollectAndCount(collector.proxyRequestsTotal)
	assert.Greater(t, count, 0)

	tokensCount := testutil.CollectAndCount(collector.proxyTokensUsed)
	assert.Greater(t, tokensCount, 0)
}

func TestCollector_RecordUpstreamError(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordUpstreamError("ep-1", "timeout")
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.proxyUpstreamErrors.WithLabelValues("ep-1", "timeout")))
}

func TestCollector_AdmissionMetrics(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.SetAdmissionQueueDepth("tenant-a", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(collector.routerQueueDepth.WithLabelValues("tenant-a")))

	collector.RecordAdmissionWait("tenant-a", "admitted", 25*time.Millisecond)
	count := testutil.CollectAndCount(collector.routerAdmissionWait)
	assert.Greater(t, count, 0)

	collector.RecordRejection("tenant-a", "queue_full")
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.routerRejectionTotal.WithLabelValues("tenant-a", "queue_full")))
}

func TestCollector_RateLimitMetrics(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordRateLimit("local", true)
	collector.RecordRateLimit("local", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.rateLimitAllowed.WithLabelValues("local")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.rateLimitDenied.WithLabelValues("local")))
}

func TestCollector_EndpointHealthMetrics(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordEndpointStateTransition("ep-1", "healthy", "degraded")
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.endpointStateTransitions.WithLabelValues("ep-1", "healthy", "degraded")))

	collector.SetEndpointHealthScore("ep-1", 0.5)
	assert.Equal(t, 0.5, testutil.ToFloat64(collector.endpointHealthScore.WithLabelValues("ep-1")))
}

func TestCollector_DrainMetrics(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.SetDrainState("draining")
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.drainState.WithLabelValues("draining")))
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.drainState.WithLabelValues("serving")))

	collector.SetDrainInFlight(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(collector.drainInFlight))

	collector.RecordDrainDropped(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.drainedDropped))
}

func TestCollector_AuditMetrics(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordAuditAppend("endpoint.created")
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.auditAppendsTotal.WithLabelValues("endpoint.created")))

	collector.RecordAuditVerifyFailure()
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.auditVerifyFailure))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordCacheHit("redis")
	collector.RecordCacheMiss("redis")

	hitCount := testutil.CollectAndCount(collector.cacheHits)
	assert.Greater(t, hitCount, 0)

	missCount := testutil.CollectAndCount(collector.cacheMisses)
	assert.Greater(t, missCount, 0)
}

func TestCollector_RecordDatabaseQuery(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordDBQuery("postgres", "SELECT", 20*time.Millisecond)
	count := testutil.CollectAndCount(collector.dbQueryDuration)
	assert.Greater(t, count, 0)
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordDBConnections("postgres", 10, 5)

	openCount := testutil.CollectAndCount(collector.dbConnectionsOpen)
	assert.Greater(t, openCount, 0)

	idleCount := testutil.CollectAndCount(collector.dbConnectionsIdle)
	assert.Greater(t, idleCount, 0)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordProxyRequest("ep-1", "gpt-4", "success", 500*time.Millisecond, 100, 50)
			collector.RecordRateLimit("local", true)
			collector.RecordCacheHit("redis")
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	httpCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, httpCount, 0)

	proxyCount := testutil.CollectAndCount(collector.proxyRequestsTotal)
	assert.Greater(t, proxyCount, 0)

	cacheCount := testutil.CollectAndCount(collector.cacheHits)
	assert.Greater(t, cacheCount, 0)
}

func TestCollector_MetricsRegistration(t *testing.T) {
	logger := zap.NewNop()

	registry := prometheus.NewRegistry()
	collector := NewCollector(nextTestNamespace(), logger)

	registry.MustRegister(collector.httpRequestsTotal)
	registry.MustRegister(collector.httpRequestDuration)

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 0, 0)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)
}
