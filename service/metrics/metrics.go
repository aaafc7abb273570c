package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCRetries      *prometheus.CounterVec

	// Action Lifecycle Metrics
	actionsTotal         *prometheus.CounterVec
	actionDuration       *prometheus.HistogramVec
	actionsRejectedTotal *prometheus.CounterVec

	// Confirmation Metrics
	confirmationPolls    *prometheus.HistogramVec
	confirmationDuration *prometheus.HistogramVec
	confirmationOutcomes *prometheus.CounterVec

	// Wallet Metrics
	signatureVerificationsTotal *prometheus.CounterVec
	tokenHoldingsCount          *prometheus.GaugeVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge

	// NATS Metrics
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
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Action Lifecycle Metrics
		actionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_actions_total",
				Help: "Total number of user actions by action and result",
			},
			[]string{"action", "result"},
		),
		actionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_action_duration_seconds",
				Help:    "Duration of user actions from invocation to terminal result",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"action"},
		),
		actionsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_actions_rejected_total",
				Help: "Total number of action invocations rejected before any network call",
			},
			[]string{"action", "reason"},
		),

		// Confirmation Metrics
		confirmationPolls: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirmation_polls",
				Help:    "Number of status queries issued per confirmation",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirmation_duration_seconds",
				Help:    "Wall-clock time from submission to terminal confirmation outcome",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),
		confirmationOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirmation_outcomes_total",
				Help: "Total number of terminal confirmation outcomes",
			},
			[]string{"outcome"},
		),

		// Wallet Metrics
		signatureVerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signature_verifications_total",
				Help: "Total number of local signature verifications by result",
			},
			[]string{"result"},
		),
		tokenHoldingsCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "token_holdings",
				Help: "Number of token holdings returned by the last refresh",
			},
			[]string{"owner"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
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

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 10, 30},
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
				Help: "Number of active SSE connections",
			},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Action metric helpers

// RecordAction records a finished action and how long it took.
func (m *Metrics) RecordAction(action, result string, duration float64) {
	m.actionsTotal.WithLabelValues(action, result).Inc()
	m.actionDuration.WithLabelValues(action).Observe(duration)
}

// RecordActionRejected records an invocation refused before any network call.
func (m *Metrics) RecordActionRejected(action, reason string) {
	m.actionsRejectedTotal.WithLabelValues(action, reason).Inc()
}

// Confirmation metric helpers

// RecordConfirmation records a terminal confirmation outcome.
func (m *Metrics) RecordConfirmation(outcome string, polls int, duration float64) {
	m.confirmationOutcomes.WithLabelValues(outcome).Inc()
	m.confirmationPolls.WithLabelValues(outcome).Observe(float64(polls))
	m.confirmationDuration.WithLabelValues(outcome).Observe(duration)
}

// Wallet metric helpers

// RecordSignatureVerification records the result of a local signature check.
func (m *Metrics) RecordSignatureVerification(valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.signatureVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordTokenHoldings records the size of the latest holdings snapshot.
func (m *Metrics) RecordTokenHoldings(owner string, count int) {
	m.tokenHoldingsCount.WithLabelValues(owner).Set(float64(count))
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
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
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
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
