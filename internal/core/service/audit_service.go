package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/globalvalve/valve-record/internal/api/metrics"
	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
	defaultExportLimit = 1000
)

var exportHeader = []string{"timestamp", "action", "severity", "actor_email", "user_id", "details"}

// AuditBackend is the slice of the backend used by the audit log client.
type AuditBackend interface {
	LogSecurityEvent(ctx context.Context, entry domain.AuditLogEntry) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLogEntry, error)
	EnforceDataRetention(ctx context.Context) (int64, error)
}

var _ AuditBackend = (ports.Backend)(nil)

type auditService struct {
	backend     AuditBackend
	recentLimit int
	exportLimit int
	now         func() time.Time
	log         zerolog.Logger
}

// NewAuditService returns the audit log client. Non-positive limits fall back
// to 50 recent and 1000 exported entries.
func NewAuditService(backend AuditBackend, recentLimit, exportLimit int, log zerolog.Logger) ports.AuditService {
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}
	if exportLimit <= 0 {
		exportLimit = defaultExportLimit
	}
	return &auditService{
		backend:     backend,
		recentLimit: recentLimit,
		exportLimit: exportLimit,
		now:         time.Now,
		log:         log,
	}
}

func (s *auditService) Write(ctx context.Context, entry domain.AuditLogEntry) error {
	if entry.Action == "" {
		return fmt.Errorf("audit entry without action")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	if !entry.Severity.Valid() {
		entry.Severity = domain.SeverityInfo
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}

	if err := s.backend.LogSecurityEvent(ctx, entry); err != nil {
		metrics.AuditWritesTotal.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Str("action", entry.Action).Msg("audit write failed")
		return fmt.Errorf("log security event: %w", err)
	}
	metrics.AuditWritesTotal.WithLabelValues("ok").Inc()
	s.log.Debug().Str("action", entry.Action).Str("severity", string(entry.Severity)).Msg("audit entry written")
	return nil
}

func (s *auditService) Recent(ctx context.Context, limit int) ([]domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = s.recentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	entries, err := s.backend.ListAuditLogs(ctx, limit)
	if err != nil {
		s.log.Error().Err(err).Int("limit", limit).Msg("audit read failed")
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return entries, nil
}

func (s *auditService) Export(ctx context.Context, w io.Writer, limit int) (int, error) {
	if limit <= 0 || limit > s.exportLimit {
		limit = s.exportLimit
	}
	entries, err := s.backend.ListAuditLogs(ctx, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("audit export read failed")
		return 0, fmt.Errorf("list audit logs: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("write export header: %w", err)
	}
	for _, e := range entries {
		details, err := sonic.ConfigStd.MarshalToString(e.Details)
		if err != nil {
			return 0, fmt.Errorf("encode details of %s: %w", e.ID, err)
		}
		actor := ""
		if e.ActorEmail != nil {
			actor = *e.ActorEmail
		}
		record := []string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Action,
			string(e.Severity),
			actor,
			e.UserID,
			details,
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("write export row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush export: %w", err)
	}

	s.log.Info().Int("rows", len(entries)).Msg("audit log exported")
	return len(entries), nil
}

func (s *auditService) EnforceRetention(ctx context.Context) (int64, error) {
	n, err := s.backend.EnforceDataRetention(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("data retention failed")
		return 0, fmt.Errorf("enforce data retention: %w", err)
	}
	s.log.Info().Int64("purged", n).Msg("data retention enforced")
	return n, nil
}

// ParseExport reads a CSV produced by Export back into entries. IDs are not
// part of the export and stay empty.
func ParseExport(r io.Reader) ([]domain.AuditLogEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(exportHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read export header: %w", err)
	}
	for i, name := range exportHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected export column %d: %q", i, header[i])
		}
	}

	var entries []domain.AuditLogEntry
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read export row: %w", err)
		}

		ts, err := time.Parse(time.RFC3339Nano, record[0])
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", record[0], err)
		}
		var details map[string]any
		if err := sonic.ConfigStd.UnmarshalFromString(record[5], &details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
		entry := domain.AuditLogEntry{
			Action:    record[1],
			Severity:  domain.Severity(record[2]),
			Timestamp: ts,
			UserID:    record[4],
			Details:   details,
		}
		if record[3] != "" {
			actor := record[3]
			entry.ActorEmail = &actor
		}
		entries = append(entries, entry)
	}
}
