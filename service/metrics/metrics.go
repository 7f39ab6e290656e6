package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the minting services. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Solana RPC
	rpcCallsTotal    *prometheus.CounterVec
	rpcCallDuration  *prometheus.HistogramVec
	rpcRateLimitHits *prometheus.CounterVec
	rpcRetries       *prometheus.CounterVec

	// Candy machine state
	snapshotRefreshesTotal *prometheus.CounterVec
	itemsRemaining         *prometheus.GaugeVec
	eligibilityDecisions   *prometheus.CounterVec
	balanceLookupFailures  *prometheus.CounterVec

	// Mint attempts
	mintOutcomesTotal    *prometheus.CounterVec
	confirmationDuration *prometheus.HistogramVec
	statusPollsPerMint   *prometheus.HistogramVec

	// Workflows
	workflowDuration        *prometheus.HistogramVec
	workflowExecutionsTotal *prometheus.CounterVec
	activityDuration        *prometheus.HistogramVec

	// Database
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		rpcRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		rpcRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		snapshotRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candymint_snapshot_refreshes_total",
				Help: "Total number of candy machine snapshot refreshes by status",
			},
			[]string{"machine", "status"},
		),
		itemsRemaining: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "candymint_items_remaining",
				Help: "Items remaining in the candy machine as of the last snapshot",
			},
			[]string{"machine"},
		),
		eligibilityDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candymint_eligibility_decisions_total",
				Help: "Total number of eligibility evaluations by decision",
			},
			[]string{"decision"},
		),
		balanceLookupFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candymint_balance_lookup_failures_total",
				Help: "Total number of whitelist balance lookups that degraded to zero",
			},
			[]string{"machine"},
		),

		mintOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candymint_mint_outcomes_total",
				Help: "Total number of mint attempts by outcome and cause",
			},
			[]string{"outcome", "cause"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "candymint_confirmation_duration_seconds",
				Help:    "Time from submission to the terminal tracker state",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"state"},
		),
		statusPollsPerMint: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "candymint_status_polls_per_mint",
				Help:    "Number of signature status polls per mint attempt",
				Buckets: []float64{1, 2, 5, 10, 20, 60, 120},
			},
			[]string{"state"},
		),

		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "candymint_workflow_duration_seconds",
				Help:    "Duration of workflow executions in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"workflow", "status"},
		),
		workflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candymint_workflow_executions_total",
				Help: "Total number of workflow executions",
			},
			[]string{"workflow", "status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "candymint_activity_duration_seconds",
				Help:    "Duration of workflow activities in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"activity"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of open SSE event streams",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent by event type",
			},
			[]string{"event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS",
			},
			[]string{"event_type", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"event_type"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.rpcCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.rpcCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.rpcRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	if m == nil {
		return
	}
	m.rpcRetries.WithLabelValues(method, reason).Inc()
}

// Candy machine metric helpers

// RecordSnapshotRefresh records a snapshot refresh and, on success, the
// remaining item count.
func (m *Metrics) RecordSnapshotRefresh(machine string, remaining uint64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.snapshotRefreshesTotal.WithLabelValues(machine, "error").Inc()
		return
	}
	m.snapshotRefreshesTotal.WithLabelValues(machine, "success").Inc()
	m.itemsRemaining.WithLabelValues(machine).Set(float64(remaining))
}

// RecordEligibilityDecision records the kind of an eligibility decision.
func (m *Metrics) RecordEligibilityDecision(decision string) {
	if m == nil {
		return
	}
	m.eligibilityDecisions.WithLabelValues(decision).Inc()
}

// RecordBalanceLookupFailure records a whitelist balance lookup that fell back to zero.
func (m *Metrics) RecordBalanceLookupFailure(machine string) {
	if m == nil {
		return
	}
	m.balanceLookupFailures.WithLabelValues(machine).Inc()
}

// Mint metric helpers

// RecordMintOutcome records the caller-visible outcome of a mint attempt.
func (m *Metrics) RecordMintOutcome(outcome, cause string) {
	if m == nil {
		return
	}
	m.mintOutcomesTotal.WithLabelValues(outcome, cause).Inc()
}

// RecordConfirmation records how a tracked attempt resolved.
func (m *Metrics) RecordConfirmation(state string, polls int, duration float64) {
	if m == nil {
		return
	}
	m.confirmationDuration.WithLabelValues(state).Observe(duration)
	m.statusPollsPerMint.WithLabelValues(state).Observe(float64(polls))
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(workflow, status string, duration float64) {
	if m == nil {
		return
	}
	m.workflowDuration.WithLabelValues(workflow, status).Observe(duration)
	m.workflowExecutionsTotal.WithLabelValues(workflow, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.activityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(eventType, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(eventType, status).Inc()
	m.natsPublishDuration.WithLabelValues(eventType).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
