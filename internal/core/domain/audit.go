package domain

import "time"

// Severity grades an audit log entry.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Audit actions written by the console.
const (
	ActionConsentAccepted = "CONSENT_ACCEPTED"
	ActionLoginSuccess    = "LOGIN_SUCCESS"
	ActionLoginFailed     = "LOGIN_FAILED"
	ActionSignUp          = "SIGN_UP"
	ActionLogout          = "LOGOUT"
	ActionAuditExported   = "AUDIT_EXPORTED"
	ActionRetentionRun    = "RETENTION_ENFORCED"
)

// AuditLogEntry is an immutable security or application event.
type AuditLogEntry struct {
	ID         string         `json:"id,omitempty" bson:"_id,omitempty"`
	Action     string         `json:"action" bson:"action"`
	Details    map[string]any `json:"details" bson:"details"`
	Severity   Severity       `json:"severity" bson:"severity"`
	ActorEmail *string        `json:"actor_email" bson:"actor_email"`
	Timestamp  time.Time      `json:"timestamp" bson:"timestamp"`
	UserID     string         `json:"user_id,omitempty" bson:"user_id,omitempty"`
}
