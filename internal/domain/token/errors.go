package token

import "errors"

var (
	// ErrTokenNotFound is returned when a presented token value does not
	// resolve. Callers must surface it identically to ErrTokenExpired.
	ErrTokenNotFound = errors.New("token_not_found")

	// ErrTokenExpired is returned when a token is past its TTL.
	ErrTokenExpired = errors.New("token_expired")

	// ErrTokenRevoked is returned when a token was revoked.
	ErrTokenRevoked = errors.New("token_revoked")

	// ErrTokenReplay is returned when an already-used refresh token is
	// redeemed again. This is a security event: the whole token family
	// is revoked as a side effect before the error is returned.
	ErrTokenReplay = errors.New("token_replay")

	// ErrScopeEscalation is returned when a refresh requests scopes
	// beyond the originally granted set.
	ErrScopeEscalation = errors.New("scope_escalation")

	// ErrConflict is surfaced by the repository when a compare-and-set
	// transition lost a race.
	ErrConflict = errors.New("conflict")
)
