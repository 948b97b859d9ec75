package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowline_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Workflow Execution Metrics
	WorkflowExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowline_workflow_executions_total",
			Help: "Total number of workflow executions",
		},
		[]string{"workflow_id", "status"},
	)

	WorkflowExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowline_workflow_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"workflow_id"},
	)

	WorkflowExecutionsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowline_workflow_executions_in_progress",
			Help: "Number of workflow executions currently in progress",
		},
	)

	// Action Attempt Metrics
	ActionAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowline_action_attempts_total",
			Help: "Total number of action attempts",
		},
		[]string{"action_type", "status"},
	)

	ActionAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowline_action_attempt_duration_seconds",
			Help:    "Action attempt duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"action_type"},
	)

	PermitWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowline_permit_wait_duration_seconds",
			Help:    "Time spent waiting for an execution permit",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		},
	)

	// Lifecycle Metrics
	WorkflowPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowline_workflow_publishes_total",
			Help: "Total number of workflow publish operations",
		},
		[]string{"outcome"},
	)

	// Queue Metrics
	QueueTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowline_queue_tasks_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"task_type"},
	)

	QueueTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowline_queue_tasks_processed_total",
			Help: "Total number of tasks processed",
		},
		[]string{"task_type", "status"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowline_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := r.URL.Path

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordWorkflowExecution records workflow terminal-status metrics
func RecordWorkflowExecution(workflowID, status string, durationSeconds float64) {
	WorkflowExecutionsTotal.WithLabelValues(workflowID, status).Inc()
	if durationSeconds > 0 {
		WorkflowExecutionDuration.WithLabelValues(workflowID).Observe(durationSeconds)
	}
}

// RecordActionAttempt records per-attempt metrics
func RecordActionAttempt(actionType, status string, durationSeconds float64) {
	ActionAttemptsTotal.WithLabelValues(actionType, status).Inc()
	if durationSeconds > 0 {
		ActionAttemptDuration.WithLabelValues(actionType).Observe(durationSeconds)
	}
}
