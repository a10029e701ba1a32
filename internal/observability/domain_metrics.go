package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chatTurnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbi_chat_turns_total",
			Help: "Total number of processed chat turns.",
		},
	)
	modelCallDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatbi_model_call_duration_seconds",
			Help:    "Language model call latency in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	extractionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbi_extraction_failures_total",
			Help: "Total number of model responses without a parseable JSON object.",
		},
	)
	sqlExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbi_sql_executions_total",
			Help: "Total number of SQL executions by outcome.",
		},
		[]string{"outcome"},
	)
	sqlExecutionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatbi_sql_execution_duration_seconds",
			Help:    "SQL execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	resultExportsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbi_result_exports_total",
			Help: "Total number of exported query results.",
		},
	)
	activeConversations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbi_active_conversations",
			Help: "Current count of in-process conversations.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		chatTurnsTotal,
		modelCallDurationSeconds,
		extractionFailuresTotal,
		sqlExecutionsTotal,
		sqlExecutionDurationSeconds,
		resultExportsTotal,
		activeConversations,
	)
}

func ObserveChatTurn() {
	chatTurnsTotal.Inc()
}

func ObserveModelCall(elapsed time.Duration) {
	modelCallDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementExtractionFailure() {
	extractionFailuresTotal.Inc()
}

func ObserveSQLExecution(success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	sqlExecutionsTotal.WithLabelValues(outcome).Inc()
	sqlExecutionDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementResultExport() {
	resultExportsTotal.Inc()
}

func SetActiveConversations(count int) {
	if count < 0 {
		count = 0
	}
	activeConversations.Set(float64(count))
}
