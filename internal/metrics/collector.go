package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns every metric family of the process.
type Collector struct {
	workflowRuns     *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec

	taskExecutions *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	taskAttempts   *prometheus.HistogramVec

	agentInvocations *prometheus.CounterVec
	agentLatency     *prometheus.HistogramVec

	breakerTransitions *prometheus.CounterVec
	eventsDropped      *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers all metric families under the given namespace on
// the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.workflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs by terminal state",
		},
		[]string{"state"},
	)
	c.workflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"state"},
	)

	c.taskExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_executions_total",
			Help:      "Total number of task executions by terminal state",
		},
		[]string{"state"},
	)
	c.taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"state"},
	)
	c.taskAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_attempts",
			Help:      "Invocation attempts per task execution",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
		},
		[]string{"state"},
	)

	c.agentInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_invocations_total",
			Help:      "Total number of agent invocations",
		},
		[]string{"agent", "type", "status"},
	)
	c.agentLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_invocation_duration_seconds",
			Help:      "Agent invocation latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"agent", "type"},
	)

	c.breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"agent", "to_state"},
	)
	c.eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped on observer queue overflow",
		},
		[]string{"observer"},
	)

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

	return c
}

// RecordWorkflow records a terminal workflow run.
func (c *Collector) RecordWorkflow(state string, duration time.Duration) {
	c.workflowRuns.WithLabelValues(state).Inc()
	c.workflowDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordTask records a terminal task execution.
func (c *Collector) RecordTask(state string, duration time.Duration, attempts int) {
	c.taskExecutions.WithLabelValues(state).Inc()
	c.taskDuration.WithLabelValues(state).Observe(duration.Seconds())
	c.taskAttempts.WithLabelValues(state).Observe(float64(attempts))
}

// RecordInvocation records one agent invocation outcome.
func (c *Collector) RecordInvocation(agentName, agentType, status string, latency time.Duration) {
	c.agentInvocations.WithLabelValues(agentName, agentType, status).Inc()
	c.agentLatency.WithLabelValues(agentName, agentType).Observe(latency.Seconds())
}

// RecordBreakerTransition records a breaker state change.
func (c *Collector) RecordBreakerTransition(agentName, toState string) {
	c.breakerTransitions.WithLabelValues(agentName, toState).Inc()
}

// RecordEventDropped records an observer overflow.
func (c *Collector) RecordEventDropped(observer string) {
	c.eventsDropped.WithLabelValues(observer).Inc()
}

// RecordHTTPRequest records one API request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
