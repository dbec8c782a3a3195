package domain

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrProfileExists      = errors.New("profile already exists")
	ErrConsentRequired    = errors.New("consent banner must be accepted before signing in")
	ErrNoSession          = errors.New("no active session")
	ErrForbidden          = errors.New("access forbidden")
	ErrKeyNotFound        = errors.New("key not found")

	// ErrAborted marks a remote call that was cancelled mid-flight. It is retried
	// with the short backoff.
	ErrAborted = errors.New("operation aborted")

	// ErrPermanent marks a remote failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent backend failure")
)
