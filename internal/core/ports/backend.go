package ports

import (
	"context"

	"github.com/globalvalve/valve-record/internal/core/domain"
)

// SessionChangeHandler receives session-change notifications. Handlers run on
// the publisher's goroutine and must not publish or block.
type SessionChangeHandler func(event domain.SessionEvent, session *domain.Session)

// AuthBackend is the identity half of the hosted backend.
type AuthBackend interface {
	// GetSession returns the persisted session, or nil when nobody is signed in.
	GetSession(ctx context.Context) (*domain.Session, error)
	OnSessionChange(handler SessionChangeHandler) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	// SignUp creates an account. The returned session is nil when the backend
	// requires confirmation before the first sign-in.
	SignUp(ctx context.Context, email, password string) (*domain.Session, error)
	SignOut(ctx context.Context) error
}

// Procedures are the privileged remote procedures exposed by the backend.
type Procedures interface {
	// GetActiveUserRole returns nil without error when the procedure has no data
	// for userID.
	GetActiveUserRole(ctx context.Context, userID string) (*domain.RoleGrant, error)
	LogSecurityEvent(ctx context.Context, entry domain.AuditLogEntry) error
	EnforceDataRetention(ctx context.Context) (int64, error)
}

// ProfileStore is direct table access to profiles.
type ProfileStore interface {
	// FindProfile returns domain.ErrProfileNotFound when no row exists.
	FindProfile(ctx context.Context, userID string) (*domain.Profile, error)
	InsertProfile(ctx context.Context, profile domain.Profile) error
}

// AuditLogReader is direct table access to audit_logs.
type AuditLogReader interface {
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLogEntry, error)
}

// Backend is everything the console needs from the backend-as-a-service.
type Backend interface {
	AuthBackend
	Procedures
	ProfileStore
	AuditLogReader
	Ping(ctx context.Context) error
}
