package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Escrow ledger metrics
	// ============================================
	EscrowDepositsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_deposits_total",
		Help: "Total number of successful deposits",
	})

	EscrowWithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_withdrawals_total",
			Help: "Total number of successful withdrawals",
		},
		[]string{"opt_status"},
	)

	EscrowOptTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_opt_transitions_total",
			Help: "Total number of opt-in/opt-out transitions",
		},
		[]string{"direction"},
	)

	EscrowOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_operation_errors_total",
			Help: "Total number of failed escrow operations",
		},
		[]string{"operation"},
	)

	// ============================================
	// Settlement protocol metrics
	// ============================================
	SettlementMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_messages_sent_total",
			Help: "Total number of settlement messages dispatched",
		},
		[]string{"kind"},
	)

	SettlementMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_messages_received_total",
			Help: "Total number of settlement messages received",
		},
		[]string{"kind", "result"},
	)

	SettlementObligationsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_obligations_pending",
		Help: "Number of obligations currently pending resolution",
	})

	SettlementDuplicateMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_duplicate_messages_total",
		Help: "Total number of already-processed message ids redelivered",
	})

	// ============================================
	// NATS connection metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	// ============================================
	// HTTP metrics
	// ============================================
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	// ============================================
	// WebSocket push metrics
	// ============================================
	WebSocketConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_websocket_connections_active",
		Help: "Number of active websocket event subscribers",
	})

	WebSocketMessagesPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_websocket_messages_pushed_total",
		Help: "Total number of events pushed to websocket subscribers",
	})
)
