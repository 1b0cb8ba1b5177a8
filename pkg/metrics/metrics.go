package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_decisions_total",
			Help: "Total number of notification decisions by concluding stage and action (count)",
		},
		[]string{"stage", "action"},
	)

	DecisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_decision_duration_ms",
			Help:    "Duration of the decision pipeline in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"stage"},
	)

	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_evaluations_total",
			Help: "Total number of rule evaluations (count)",
		},
		[]string{"rule_id", "result"},
	)

	RuleErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_errors_total",
			Help: "Total number of rules skipped because of errors (count)",
		},
		[]string{"kind"},
	)

	ActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rules_active",
			Help: "Number of loaded rules (count)",
		},
	)

	SuppressionHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suppression_hits_total",
			Help: "Total number of events suppressed as noise (count)",
		},
		[]string{"reason"},
	)

	SuppressionStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suppression_store_errors_total",
			Help: "Total number of suppression store failures (count)",
		},
		[]string{"store"},
	)

	BatchesFlushedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batches_flushed_total",
			Help: "Total number of ready batches emitted by flush reason (count)",
		},
		[]string{"reason"},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_size_events",
			Help:    "Number of events per emitted batch",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	OpenBatchGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batch_groups_open",
			Help: "Number of open batch groups across channels (count)",
		},
	)

	ParkedBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_batches_parked",
			Help: "Number of finalized batches waiting for another delivery attempt (count)",
		},
	)

	ActiveChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batching_channels_active",
			Help: "Number of channels holding batching state (count)",
		},
	)

	DegradedBatchingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batching_degraded_total",
			Help: "Total number of events passed through unbatched after lock timeouts (count)",
		},
	)

	CapacityRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batching_capacity_rejections_total",
			Help: "Total number of adds rejected because of capacity limits (count)",
		},
		[]string{"limit"},
	)

	ChannelsEvictedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batching_channels_evicted_total",
			Help: "Total number of channel states removed (count)",
		},
		[]string{"reason"},
	)

	AnalyticsRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_records_total",
			Help: "Total number of analytics records by kind and outcome (count)",
		},
		[]string{"kind", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "management_http_requests_total",
			Help: "Management API requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "management_http_request_duration_ms",
			Help:    "Management API request latency in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"method", "route"},
	)

	MessageQueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "message_queue_size",
			Help: "Current size of message processing queue (count)",
		},
		[]string{"service"},
	)
)

var registerOnce sync.Once

// RegisterAll registers every collector with the default registry. Safe to
// call more than once.
func RegisterAll() {
	registerOnce.Do(func() {
		RegisterDecisionMetrics()
		RegisterBatchingMetrics()
		RegisterBrokerMetrics()
		RegisterCircuitBreakerMetrics()
		RegisterManagementMetrics()
	})
}

func RegisterDecisionMetrics() {
	prometheus.MustRegister(DecisionsTotal)
	prometheus.MustRegister(DecisionDuration)
	prometheus.MustRegister(RuleEvaluationsTotal)
	prometheus.MustRegister(RuleErrorsTotal)
	prometheus.MustRegister(ActiveRules)
	prometheus.MustRegister(SuppressionHitsTotal)
	prometheus.MustRegister(SuppressionStoreErrorsTotal)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterBatchingMetrics() {
	prometheus.MustRegister(BatchesFlushedTotal)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(OpenBatchGroups)
	prometheus.MustRegister(ActiveChannels)
	prometheus.MustRegister(ParkedBatches)
	prometheus.MustRegister(DegradedBatchingTotal)
	prometheus.MustRegister(CapacityRejectionsTotal)
	prometheus.MustRegister(ChannelsEvictedTotal)
	prometheus.MustRegister(AnalyticsRecordsTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterManagementMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
	prometheus.MustRegister(MessageQueueSize)
}

func ObserveDecision(stage, action string, duration time.Duration) {
	DecisionsTotal.WithLabelValues(stage, action).Inc()
	DecisionDuration.WithLabelValues(stage).Observe(float64(duration.Microseconds()) / 1000)
}

func IncRuleEvaluation(ruleID, result string) {
	RuleEvaluationsTotal.WithLabelValues(ruleID, result).Inc()
}

func IncRuleError(kind string) {
	RuleErrorsTotal.WithLabelValues(kind).Inc()
}

func SetActiveRules(count int) {
	ActiveRules.Set(float64(count))
}

func IncSuppressionHit(reason string) {
	SuppressionHitsTotal.WithLabelValues(reason).Inc()
}

func IncSuppressionStoreError(store string) {
	SuppressionStoreErrorsTotal.WithLabelValues(store).Inc()
}

func ObserveBatchFlush(reason string, size int) {
	BatchesFlushedTotal.WithLabelValues(reason).Inc()
	BatchSize.Observe(float64(size))
}

func SetBatchingState(channels, openGroups int) {
	ActiveChannels.Set(float64(channels))
	OpenBatchGroups.Set(float64(openGroups))
}

func IncAnalyticsRecord(kind, status string) {
	AnalyticsRecordsTotal.WithLabelValues(kind, status).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}

// ObserveHTTPRequest records one management API request. route is the
// matched route pattern, never the raw path.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(float64(duration.Milliseconds()))
}

func SetMessageQueueSize(service string, size int) {
	MessageQueueSize.WithLabelValues(service).Set(float64(size))
}

func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
