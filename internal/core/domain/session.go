package domain

import "time"

// SessionEvent is the kind of a session-change notification.
type SessionEvent string

const (
	EventInitialSession SessionEvent = "INITIAL_SESSION"
	EventSignedIn       SessionEvent = "SIGNED_IN"
	EventSignedOut      SessionEvent = "SIGNED_OUT"
	EventTokenRefreshed SessionEvent = "TOKEN_REFRESHED"
	EventUserUpdated    SessionEvent = "USER_UPDATED"
)

// Session is the authenticated state of the current operator.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is no longer valid at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionChange is a single notification delivered to session-change subscribers.
// Session is nil when the operator signed out.
type SessionChange struct {
	Event   SessionEvent
	Session *Session
}

// SessionState is a snapshot of who is signed in and what they may do.
type SessionState struct {
	Session          *Session
	Role             Role
	AllowedCustomers string
	Loading          bool
}

// Ready reports whether dependents may render: a session with a resolved role.
func (s SessionState) Ready() bool {
	return !s.Loading && s.Session != nil && s.Role != ""
}
