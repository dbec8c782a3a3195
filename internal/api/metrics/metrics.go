// Package metrics defines and registers all custom Prometheus metrics for the
// valve record console. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics register with the default registry on package init through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "valve_record"

// ── Session metrics ───────────────────────────────────────────────────────────

// SessionEventsTotal counts session-change notifications handled by the provider.
// Label:
//   - event: INITIAL_SESSION, SIGNED_IN, SIGNED_OUT, TOKEN_REFRESHED, USER_UPDATED
var SessionEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_events_total",
		Help:      "Total number of session-change notifications handled.",
	},
	[]string{"event"},
)

// SafetyTimeoutsTotal counts forced loading clears.
// Label:
//   - phase: "bootstrap" or "session_change"
var SafetyTimeoutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "safety_timeouts_total",
		Help:      "Total number of times loading was force-cleared by a safety timeout.",
	},
	[]string{"phase"},
)

// SignOutsTotal counts sign-outs.
// Label:
//   - reason: "user" or "inactivity"
var SignOutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sign_outs_total",
		Help:      "Total number of sign-outs, by reason.",
	},
	[]string{"reason"},
)

// LoginAttemptsTotal counts login attempts.
// Label:
//   - result: "success", "failure" or "consent_required"
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Total number of login attempts, by result.",
	},
	[]string{"result"},
)

// ── Role metrics ──────────────────────────────────────────────────────────────

// RoleResolutionsTotal counts settled role resolutions.
// Label:
//   - source: override, rpc, profile, provisioned, fallback
var RoleResolutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_resolutions_total",
		Help:      "Total number of role resolutions, by the branch that produced the role.",
	},
	[]string{"source"},
)

// RoleLookupRetriesTotal counts retried role lookups.
// Label:
//   - reason: "not_found", "aborted" or "error"
var RoleLookupRetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_lookup_retries_total",
		Help:      "Total number of retried role lookups, by reason.",
	},
	[]string{"reason"},
)

// StaleResolutionsTotal counts role results discarded because a newer session began.
var StaleResolutionsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_role_resolutions_total",
		Help:      "Total number of role resolutions discarded as stale.",
	},
)

// ── Audit metrics ─────────────────────────────────────────────────────────────

// AuditWritesTotal counts audit writes.
// Label:
//   - result: "ok", "error" or "dropped"
var AuditWritesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_writes_total",
		Help:      "Total number of audit log writes, by result.",
	},
	[]string{"result"},
)

// AuditQueueDepth tracks entries waiting in each dispatcher worker channel.
// Label:
//   - worker_id: numeric worker index
var AuditQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_queue_depth",
		Help:      "Current number of audit entries pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// ── Backend metrics ───────────────────────────────────────────────────────────

// BackendRequestDuration measures calls to the hosted backend.
// Labels:
//   - operation: e.g. "sign_in", "rpc_get_active_user_role", "profiles_select"
//   - outcome: "ok" or "error"
var BackendRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_request_duration_seconds",
		Help:      "Duration of requests to the backend-as-a-service.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"operation", "outcome"},
)
