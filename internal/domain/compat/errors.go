package compat

import "errors"

var (
	// ErrSessionNotFound is returned when a compat session id or token
	// does not resolve to a live session.
	ErrSessionNotFound = errors.New("compat_session_not_found")

	// ErrSessionExpired is returned when the bridge's hard session cap
	// has passed, regardless of remaining token lifetime.
	ErrSessionExpired = errors.New("compat_session_expired")
)
