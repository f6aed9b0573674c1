package grant

import (
	"errors"
	"net/http"

	"github.com/emberfed/emberauth/internal/domain/client"
	"github.com/emberfed/emberauth/internal/domain/token"
)

// Standard OAuth2 error codes per RFC 6749, RFC 8628 and OIDC Core 1.0.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAuthorizationPending    = "authorization_pending"
	ErrorCodeSlowDown                = "slow_down"
	ErrorCodeExpiredToken            = "expired_token"
)

var (
	// ErrInvalidRequest is returned when an authorization request fails
	// structural validation (scopes, redirect_uri, PKCE requirements).
	ErrInvalidRequest = errors.New("invalid_request")

	// ErrInvalidState is returned when a grant is not in the status the
	// operation requires, or has expired.
	ErrInvalidState = errors.New("invalid_grant_state")

	// ErrGrantAlreadyExchanged is returned to the loser of a concurrent
	// double exchange. Logged at elevated severity.
	ErrGrantAlreadyExchanged = errors.New("grant_already_exchanged")

	// ErrPolicyDenied is returned when the policy evaluator rejects a
	// consent decision.
	ErrPolicyDenied = errors.New("policy_denied")

	// ErrNotFound is returned for codes that do not resolve. Callers see
	// the same answer for unknown and expired codes.
	ErrNotFound = errors.New("grant_not_found")

	// ErrRedirectURIMismatch is returned when the exchange redirect_uri
	// is not byte-identical to the one authorized.
	ErrRedirectURIMismatch = errors.New("redirect_uri_mismatch")

	// ErrCodeVerifierMismatch is returned when the PKCE verifier does not
	// hash to the stored challenge.
	ErrCodeVerifierMismatch = errors.New("code_verifier_mismatch")

	// ErrUnsupportedGrantType is returned for grant types the token
	// endpoint does not serve.
	ErrUnsupportedGrantType = errors.New("unsupported_grant_type")

	// ErrConflict is returned by the repository when a compare-and-set
	// transition matched no row.
	ErrConflict = errors.New("grant_state_conflict")
)

// OAuthError is the wire form of a domain error.
type OAuthError struct {
	Code        string
	Description string
	StatusCode  int
}

// MapErrorToOAuth maps internal domain errors to their RFC 6749 wire
// representation. Unknown and expired grants are deliberately
// indistinguishable; unrecognized errors map to server_error.
func MapErrorToOAuth(err error) OAuthError {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return OAuthError{Code: ErrorCodeInvalidRequest, Description: "The request is missing a parameter or is otherwise malformed", StatusCode: http.StatusBadRequest}
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidState), errors.Is(err, ErrGrantAlreadyExchanged):
		return OAuthError{Code: ErrorCodeInvalidGrant, Description: "The provided authorization grant is invalid, expired, or already used", StatusCode: http.StatusBadRequest}
	case errors.Is(err, ErrRedirectURIMismatch):
		return OAuthError{Code: ErrorCodeInvalidGrant, Description: "redirect_uri does not match the authorization request", StatusCode: http.StatusBadRequest}
	case errors.Is(err, ErrCodeVerifierMismatch):
		return OAuthError{Code: ErrorCodeInvalidGrant, Description: "code_verifier is invalid", StatusCode: http.StatusBadRequest}
	case errors.Is(err, ErrPolicyDenied):
		return OAuthError{Code: ErrorCodeAccessDenied, Description: "The resource owner or authorization server denied the request", StatusCode: http.StatusForbidden}
	case errors.Is(err, ErrUnsupportedGrantType):
		return OAuthError{Code: ErrorCodeUnsupportedGrantType, Description: "The authorization grant type is not supported", StatusCode: http.StatusBadRequest}
	case errors.Is(err, client.ErrUnknownClient), errors.Is(err, client.ErrBadCredentials):
		return OAuthError{Code: ErrorCodeInvalidClient, Description: "Client authentication failed", StatusCode: http.StatusUnauthorized}
	case errors.Is(err, client.ErrClientNotActive):
		return OAuthError{Code: ErrorCodeUnauthorizedClient, Description: "Client is not active", StatusCode: http.StatusUnauthorized}
	case errors.Is(err, token.ErrTokenNotFound), errors.Is(err, token.ErrTokenExpired), errors.Is(err, token.ErrTokenRevoked), errors.Is(err, token.ErrTokenReplay):
		return OAuthError{Code: ErrorCodeInvalidGrant, Description: "The provided refresh token is invalid, expired, or revoked", StatusCode: http.StatusBadRequest}
	case errors.Is(err, token.ErrScopeEscalation):
		return OAuthError{Code: ErrorCodeInvalidScope, Description: "Requested scopes exceed the originally granted scopes", StatusCode: http.StatusBadRequest}
	default:
		return OAuthError{Code: ErrorCodeServerError, Description: "internal_server_error", StatusCode: http.StatusInternalServerError}
	}
}
