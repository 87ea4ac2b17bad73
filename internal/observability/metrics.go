// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Governance metrics
	ProposalsCreated   prometheus.Counter
	VotesCast          *prometheus.CounterVec
	ProposalsFinalized *prometheus.CounterVec

	// Market metrics
	MarketsCreated  prometheus.Counter
	TradesExecuted  *prometheus.CounterVec
	TradeVolumeWei  *prometheus.CounterVec
	Graduations     prometheus.Counter
	Migrations      prometheus.Counter

	// Registry metrics
	AgentsAuthorized prometheus.Counter
	AgentsRevoked    prometheus.Counter

	// Request metrics
	RequestDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryErrors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "headless_markets"
	}

	return &Metrics{
		ProposalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "proposals_created_total",
			Help:      "Total number of launch proposals created",
		}),
		VotesCast: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "votes_cast_total",
			Help:      "Total number of votes cast, by choice",
		}, []string{"choice"}),
		ProposalsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "proposals_finalized_total",
			Help:      "Total number of proposals leaving Active, by resulting status",
		}, []string{"status"}),
		MarketsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "markets_created_total",
			Help:      "Total number of curve markets instantiated",
		}),
		TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "trades_executed_total",
			Help:      "Total number of executed trades, by side",
		}, []string{"side"}),
		TradeVolumeWei: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "trade_volume_wei_total",
			Help:      "Cumulative gross trade volume in wei, by side",
		}, []string{"side"}),
		Graduations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "graduations_total",
			Help:      "Total number of markets that crossed the graduation threshold",
		}),
		Migrations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "migrations_total",
			Help:      "Total number of completed liquidity migrations",
		}),
		AgentsAuthorized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "agents_authorized_total",
			Help:      "Total number of authorize operations",
		}),
		AgentsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "agents_revoked_total",
			Help:      "Total number of revoke operations",
		}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Database query errors by database and operation",
		}, []string{"database", "operation"}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordProposalCreated increments the proposals created counter.
func RecordProposalCreated() {
	DefaultMetrics.ProposalsCreated.Inc()
}

// RecordVoteCast increments the votes cast counter for the given choice.
func RecordVoteCast(approve bool) {
	choice := "no"
	if approve {
		choice = "yes"
	}
	DefaultMetrics.VotesCast.WithLabelValues(choice).Inc()
}

// RecordProposalFinalized increments the finalized counter for a status.
func RecordProposalFinalized(status string) {
	DefaultMetrics.ProposalsFinalized.WithLabelValues(status).Inc()
}

// RecordMarketCreated increments the markets created counter.
func RecordMarketCreated() {
	DefaultMetrics.MarketsCreated.Inc()
}

// RecordTrade records an executed trade and its gross wei volume.
func RecordTrade(side string, volumeWei float64) {
	DefaultMetrics.TradesExecuted.WithLabelValues(side).Inc()
	DefaultMetrics.TradeVolumeWei.WithLabelValues(side).Add(volumeWei)
}

// RecordGraduation increments the graduations counter.
func RecordGraduation() {
	DefaultMetrics.Graduations.Inc()
}

// RecordMigration increments the migrations counter.
func RecordMigration() {
	DefaultMetrics.Migrations.Inc()
}

// RecordAgentAuthorized increments the authorize counter.
func RecordAgentAuthorized() {
	DefaultMetrics.AgentsAuthorized.Inc()
}

// RecordAgentRevoked increments the revoke counter.
func RecordAgentRevoked() {
	DefaultMetrics.AgentsRevoked.Inc()
}

// ObserveRequest records HTTP request latency for a route.
func ObserveRequest(route string, seconds float64) {
	DefaultMetrics.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordDBError records a database query error.
func RecordDBError(database, operation string) {
	DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
}
