package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TransactionsProcessed counts financial transactions by terminal status
var TransactionsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finguard_transactions_processed_total",
		Help: "Total number of financial transactions processed by terminal status",
	},
	[]string{"status"},
)

// PolicyRejections counts requests rejected by the policy pipeline, by code
var PolicyRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finguard_policy_rejections_total",
		Help: "Requests rejected by the financial policy pipeline",
	},
	[]string{"code"},
)

// SecurityEventsRecorded counts recorded security events by type
var SecurityEventsRecorded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finguard_security_events_total",
		Help: "Security events recorded by event type",
	},
	[]string{"type"},
)

// RuleViolations counts detection rule violations by rule id
var RuleViolations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finguard_rule_violations_total",
		Help: "Detection rule violations by rule",
	},
	[]string{"rule"},
)

// RequestsGated counts requests short-circuited by the security front gate
var RequestsGated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finguard_requests_gated_total",
		Help: "Requests short-circuited by throttle/block state",
	},
	[]string{"action"},
)

// AuditWriteFailures counts audit records that could not be persisted
var AuditWriteFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "finguard_audit_write_failures_total",
		Help: "Audit records that failed to persist",
	},
)

// Gauges sampled by the maintenance metrics task
var (
	ActiveBalanceLocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "finguard_active_balance_locks",
			Help: "Number of unexpired balance locks",
		},
	)

	ActiveThrottles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "finguard_active_throttles",
			Help: "Number of active throttle entries (IP and user)",
		},
	)

	BlockedSources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "finguard_blocked_sources",
			Help: "Number of blocked IPs and users",
		},
	)

	TrackedSources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "finguard_tracked_sources",
			Help: "Number of source IPs with recorded event history",
		},
	)

	PendingIdempotencyKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "finguard_idempotency_keys",
			Help: "Number of unexpired idempotency keys",
		},
	)
)

func init() {
	prometheus.MustRegister(TransactionsProcessed, PolicyRejections)
	prometheus.MustRegister(SecurityEventsRecorded, RuleViolations, RequestsGated)
	prometheus.MustRegister(AuditWriteFailures)
	prometheus.MustRegister(ActiveBalanceLocks, ActiveThrottles, BlockedSources, TrackedSources, PendingIdempotencyKeys)
}
