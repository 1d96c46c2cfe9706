// Package metrics provides internal Prometheus metrics collection for
// the chaos engine: agent lifecycle, attack windows, and verification
// outcomes. This package is internal and should not be imported by
// external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every metric the engine emits, grouped by the
// component that records them.
type Collector struct {
	agentStateTransitions  *prometheus.CounterVec
	agentExecutionsTotal   *prometheus.CounterVec
	agentExecutionDuration *prometheus.HistogramVec

	attackDuration       *prometheus.HistogramVec
	attackAgentsConfigured *prometheus.GaugeVec

	verificationRunsTotal  *prometheus.CounterVec
	verificationDuration   *prometheus.HistogramVec
	verificationStrictFail *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers every metric under namespace and returns a
// Collector ready to record observations.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.agentStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent state transitions",
		},
		[]string{"agent_type", "from_state", "to_state"},
	)

	c.agentExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_executions_total",
			Help:      "Total number of agent run() completions by terminal state",
		},
		[]string{"agent_type", "terminal_state"},
	)

	c.agentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_execution_duration_seconds",
			Help:      "Wall-clock time an agent spent between RUNNING and leaving RUNNING",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"agent_type"},
	)

	c.attackDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attack_duration_seconds",
			Help:      "Wall-clock time from StartAttack to the final teardown barrier completing",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	c.attackAgentsConfigured = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attack_agents_configured",
			Help:      "Number of agents configured for the most recent attack",
		},
		[]string{"mode"},
	)

	c.verificationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_runs_total",
			Help:      "Total number of verification plugin executions",
		},
		[]string{"plugin_type", "system_state", "result"},
	)

	c.verificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Duration of a single verification plugin's RunVerification call",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"plugin_type"},
	)

	c.verificationStrictFail = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_strict_failures_total",
			Help:      "Total number of strict verifications that failed, gating the system state",
		},
		[]string{"plugin_type", "system_state"},
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

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordAgentStateTransition records one agent hop in the state
// machine, e.g. INIT -> SETUP.
func (c *Collector) RecordAgentStateTransition(agentType, fromState, toState string) {
	c.agentStateTransitions.WithLabelValues(agentType, fromState, toState).Inc()
}

// RecordAgentExecution records an agent's terminal state and how long
// it spent running.
func (c *Collector) RecordAgentExecution(agentType, terminalState string, duration time.Duration) {
	c.agentExecutionsTotal.WithLabelValues(agentType, terminalState).Inc()
	c.agentExecutionDuration.WithLabelValues(agentType).Observe(duration.Seconds())
}

// RecordAttack records one full StartAttack invocation.
func (c *Collector) RecordAttack(mode string, agentCount int, duration time.Duration) {
	c.attackDuration.WithLabelValues(mode).Observe(duration.Seconds())
	c.attackAgentsConfigured.WithLabelValues(mode).Set(float64(agentCount))
}

// RecordVerification records one verification plugin's RunVerification
// call. result is "pass", "fail", or "error".
func (c *Collector) RecordVerification(pluginType, systemState, result string, duration time.Duration) {
	c.verificationRunsTotal.WithLabelValues(pluginType, systemState, result).Inc()
	c.verificationDuration.WithLabelValues(pluginType).Observe(duration.Seconds())
	if result == "fail" {
		c.verificationStrictFail.WithLabelValues(pluginType, systemState).Inc()
	}
}

// RecordCacheHit records a cache hit for cacheType.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss for cacheType.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections records a database connection pool's current
// open/idle counts.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery records one database query's duration.
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}
