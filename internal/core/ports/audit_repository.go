package ports

import (
	"context"
	"time"

	"github.com/globalvalve/valve-record/internal/core/domain"
)

// AuditLogRepository persists audit_logs rows for the self-hosted backend.
type AuditLogRepository interface {
	Insert(ctx context.Context, entry *domain.AuditLogEntry) error

	// ListRecent returns at most limit entries, newest first.
	ListRecent(ctx context.Context, limit int) ([]domain.AuditLogEntry, error)

	// DeleteBefore purges entries older than cutoff and reports how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
