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
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.agentStateTransitions)
	assert.NotNil(t, collector.agentExecutionsTotal)
	assert.NotNil(t, collector.attackDuration)
	assert.NotNil(t, collector.verificationRunsTotal)
}

func TestCollector_RecordAgentStateTransition(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordAgentStateTransition("shell", "INIT", "SETUP")
	collector.RecordAgentStateTransition("shell", "SETUP", "RUNNING")

	count := testutil.CollectAndCount(collector.agentStateTransitions)
	assert.Equal(t, 2, count)
}

func TestCollector_RecordAgentExecution(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordAgentExecution("shell", "DONE", time.Second)

	count := testutil.CollectAndCount(collector.agentExecutionsTotal)
	assert.Greater(t, count, 0)
}

func TestCollector_RecordAttack(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordAttack("SEQUENTIAL", 3, 5*time.Second)

	count := testutil.CollectAndCount(collector.attackDuration)
	assert.Greater(t, count, 0)
	assert.Equal(t, float64(3), testutil.ToFloat64(collector.attackAgentsConfigured.WithLabelValues("SEQUENTIAL")))
}

func TestCollector_RecordVerification(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordVerification("http_request", "CHAOS", "pass", 10*time.Millisecond)
	collector.RecordVerification("http_request", "CHAOS", "fail", 10*time.Millisecond)

	runs := testutil.CollectAndCount(collector.verificationRunsTotal)
	assert.Equal(t, 2, runs)

	fails := testutil.ToFloat64(collector.verificationStrictFail.WithLabelValues("http_request", "CHAOS"))
	assert.Equal(t, float64(1), fails)
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheHit("redis")
	collector.RecordCacheMiss("redis")

	assert.Greater(t, testutil.CollectAndCount(collector.cacheHits), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheMisses), 0)
}

func TestCollector_RecordDatabaseQuery(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBQuery("postgres", "SELECT", 20*time.Millisecond)

	assert.Greater(t, testutil.CollectAndCount(collector.dbQueryDuration), 0)
}

func TestCollector_RecordDBConnections(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, float64(10), testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, float64(5), testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordAgentStateTransition("shell", "RUNNING", "COMPLETED")
			collector.RecordVerification("http_request", "STEADY", "pass", 5*time.Millisecond)
			collector.RecordCacheHit("redis")
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Greater(t, testutil.CollectAndCount(collector.agentStateTransitions), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.verificationRunsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheHits), 0)
}

func TestCollector_MetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	registry.MustRegister(collector.agentStateTransitions)
	collector.RecordAgentStateTransition("shell", "INIT", "SETUP")

	assert.Greater(t, testutil.CollectAndCount(collector.agentStateTransitions), 0)
}
