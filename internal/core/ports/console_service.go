package ports

import (
	"context"
	"io"

	"github.com/globalvalve/valve-record/internal/core/activity"
	"github.com/globalvalve/valve-record/internal/core/domain"
)

// AuditService is the audit log client. Every operation is best-effort: errors
// are logged and returned, never panicked.
type AuditService interface {
	Write(ctx context.Context, entry domain.AuditLogEntry) error
	// Recent returns at most limit entries, newest first. A non-positive limit
	// uses the configured default.
	Recent(ctx context.Context, limit int) ([]domain.AuditLogEntry, error)
	// Export writes a CSV document to w and reports the number of rows written.
	Export(ctx context.Context, w io.Writer, limit int) (int, error)
	EnforceRetention(ctx context.Context) (int64, error)
}

// SessionService owns the signed-in operator's session and role.
type SessionService interface {
	State() domain.SessionState
	SignIn(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, email, password string) (*domain.Session, error)
	SignOut(ctx context.Context)
	RecordActivity(kind activity.EventKind) bool
}

// LoginService gates sign-in behind the consent banner.
type LoginService interface {
	ConsentRequired(ctx context.Context) (bool, error)
	AcceptConsent(ctx context.Context) error
	Login(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, email, password string) (*domain.Session, error)
	Logout(ctx context.Context)
	Banner() string
}

// AuditQueue accepts audit entries for asynchronous delivery.
type AuditQueue interface {
	// Enqueue never blocks; it reports false when the entry was dropped.
	Enqueue(entry domain.AuditLogEntry) bool
}
