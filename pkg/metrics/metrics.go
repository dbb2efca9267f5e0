package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "projecthub"

var (
	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 列表响应体大小（字节）
	ResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "list_response_size_bytes",
			Help:      "Size of full list responses in bytes",
			Buckets:   prometheus.ExponentialBuckets(512, 4, 8), // 512B to ~8MB
		},
		[]string{"endpoint"},
	)

	// 条件请求结果：full / not_modified
	ETagOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "etag_outcome_total",
			Help:      "Conditional list responses by outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation", "table"},
	)

	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_slow_query_total",
			Help:      "Queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	// Agent 调用延迟（毫秒）
	AgentCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_latency_ms",
			Help:      "Agent service call latency in milliseconds",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"endpoint", "status"},
	)

	// 创建流程中每个步骤的结果
	CreationStepCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "creation_step_total",
			Help:      "Project creation steps by step and status",
		},
		[]string{"step", "status"}, // status: succeeded, failed, skipped
	)

	IdempotencyCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_total",
			Help:      "Idempotency-Key lookups by result",
		},
		[]string{"result"}, // result: new, replay, in_flight, unavailable
	)

	OutboxPublishedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox events handled by the dispatcher",
		},
		[]string{"event_type", "status"}, // status: sent, failed
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"name"},
	)
)

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordResponseSize(endpoint string, bytes int) {
	ResponseSize.WithLabelValues(endpoint).Observe(float64(bytes))
}

// RecordETagOutcome 记录条件请求命中情况
func RecordETagOutcome(endpoint, outcome string) {
	ETagOutcomeCount.WithLabelValues(endpoint, outcome).Inc()
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func IncrementSlowQuery(operation string) {
	SlowQueryCount.WithLabelValues(operation).Inc()
}

// RecordAgentCallLatency 记录 Agent 调用延迟
func RecordAgentCallLatency(endpoint, status string, duration time.Duration) {
	AgentCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

// RecordCreationStep 记录创建流程步骤结果
func RecordCreationStep(step, status string) {
	CreationStepCount.WithLabelValues(step, status).Inc()
}

func RecordIdempotency(result string) {
	IdempotencyCount.WithLabelValues(result).Inc()
}

func RecordOutboxPublished(eventType, status string) {
	OutboxPublishedCount.WithLabelValues(eventType, status).Inc()
}

func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
