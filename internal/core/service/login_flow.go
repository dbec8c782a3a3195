package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/globalvalve/valve-record/internal/api/metrics"
	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
	"github.com/globalvalve/valve-record/pkg/logger"
)

// ConsentKey marks that the operator accepted the consent banner. It sits
// outside the session key prefix so signing out keeps it.
const ConsentKey = "gvr-consent-accepted"

const consentBanner = "This system contains confidential valve inspection records. " +
	"Access is restricted to authorised personnel and all activity is logged for audit purposes. " +
	"By continuing you consent to this monitoring."

type loginFlow struct {
	sessions ports.SessionService
	store    ports.KeyValueStore
	audit    ports.AuditQueue
	log      zerolog.Logger
}

func NewLoginFlow(sessions ports.SessionService, store ports.KeyValueStore, audit ports.AuditQueue, log zerolog.Logger) ports.LoginService {
	return &loginFlow{sessions: sessions, store: store, audit: audit, log: log}
}

func (f *loginFlow) Banner() string { return consentBanner }

func (f *loginFlow) ConsentRequired(ctx context.Context) (bool, error) {
	_, err := f.store.Get(ctx, ConsentKey)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, domain.ErrKeyNotFound):
		return true, nil
	default:
		return true, fmt.Errorf("read consent flag: %w", err)
	}
}

func (f *loginFlow) AcceptConsent(ctx context.Context) error {
	if err := f.store.Set(ctx, ConsentKey, "true", 0); err != nil {
		return fmt.Errorf("store consent flag: %w", err)
	}
	f.record(domain.AuditLogEntry{
		Action:   domain.ActionConsentAccepted,
		Severity: domain.SeverityInfo,
		Details:  map[string]any{"banner": "login"},
	})
	f.log.Info().Msg("consent banner accepted")
	return nil
}

func (f *loginFlow) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	required, err := f.ConsentRequired(ctx)
	if err != nil {
		f.log.Warn().Err(err).Msg("consent flag unreadable, treating as not accepted")
	}
	if required {
		metrics.LoginAttemptsTotal.WithLabelValues("consent_required").Inc()
		return nil, domain.ErrConsentRequired
	}

	session, err := f.sessions.SignIn(ctx, email, password)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		f.record(domain.AuditLogEntry{
			Action:     domain.ActionLoginFailed,
			Severity:   domain.SeverityWarning,
			ActorEmail: &email,
			Details:    map[string]any{"error": err.Error()},
		})
		f.log.Warn().Err(err).Str("email", logger.MaskEmail(email)).Msg("login failed")
		return nil, err
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	f.record(domain.AuditLogEntry{
		Action:     domain.ActionLoginSuccess,
		Severity:   domain.SeverityInfo,
		ActorEmail: &email,
		UserID:     session.UserID,
		Details:    map[string]any{"method": "password"},
	})
	f.log.Info().Str("user_id", session.UserID).Msg("login succeeded")
	return session, nil
}

func (f *loginFlow) SignUp(ctx context.Context, email, password string) (*domain.Session, error) {
	session, err := f.sessions.SignUp(ctx, email, password)
	if err != nil {
		f.log.Warn().Err(err).Str("email", logger.MaskEmail(email)).Msg("sign-up failed")
		return nil, err
	}
	entry := domain.AuditLogEntry{
		Action:     domain.ActionSignUp,
		Severity:   domain.SeverityInfo,
		ActorEmail: &email,
		Details:    map[string]any{"confirmed": session != nil},
	}
	if session != nil {
		entry.UserID = session.UserID
	}
	f.record(entry)
	return session, nil
}

func (f *loginFlow) Logout(ctx context.Context) {
	if s := f.sessions.State().Session; s != nil {
		email := s.Email
		f.record(domain.AuditLogEntry{
			Action:     domain.ActionLogout,
			Severity:   domain.SeverityInfo,
			ActorEmail: &email,
			UserID:     s.UserID,
			Details:    map[string]any{"reason": "user"},
		})
	}
	f.sessions.SignOut(ctx)
}

func (f *loginFlow) record(entry domain.AuditLogEntry) {
	if !f.audit.Enqueue(entry) {
		f.log.Warn().Str("action", entry.Action).Msg("audit queue full, entry dropped")
	}
}
