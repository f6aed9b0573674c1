package grant

import (
	"context"
	"crypto/sha256"
	"crypto/sha3"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/emberfed/emberauth/internal/clock"
	"github.com/emberfed/emberauth/internal/config"
	"github.com/emberfed/emberauth/internal/domain/client"
	"github.com/emberfed/emberauth/internal/domain/policy"
	"github.com/emberfed/emberauth/internal/domain/session"
	"github.com/emberfed/emberauth/internal/domain/token"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// slowDownBump is added to a grant's effective poll interval whenever
// the client polls too fast, per RFC 8628 §3.5.
const slowDownBump = 5

// userCodeAlphabet avoids characters that read ambiguously on a TV
// screen or over the phone.
const userCodeAlphabet = "BCDFGHJKMNPQRSTVWXYZ0123456789"

// Service drives the authorization-code and device-code state machines.
// Token minting is delegated to the token issuer; this package owns
// everything up to the moment a grant is exchanged.
type Service interface {
	StartAuthorization(ctx context.Context, params *AuthorizeParams) (*AuthorizationGrant, string, error)
	FindAuthorization(id uuid.UUID) (*AuthorizationGrant, error)
	FulfillAuthorization(ctx context.Context, grantID, sessionID uuid.UUID, grantedScopes []string) error
	CancelAuthorization(ctx context.Context, grantID uuid.UUID) error
	ExchangeAuthorizationCode(ctx context.Context, code string, creds client.Credentials, redirectURI, codeVerifier string) (*token.Issued, error)
	// RefreshTokens authenticates the client before handing the rotation
	// to the token issuer bound to that client.
	RefreshTokens(ctx context.Context, creds client.Credentials, refreshTokenValue string, requestedScopes []string) (*token.Issued, error)

	StartDeviceAuthorization(ctx context.Context, creds client.Credentials, scopes []string) (*DeviceCodeGrant, string, string, error)
	PollDeviceCode(ctx context.Context, deviceCode string, creds client.Credentials) (*PollResult, error)
	SubmitDeviceConsent(ctx context.Context, userCode string, sessionID uuid.UUID, approve bool, grantedScopes []string) error

	// ExpireStale sweeps overdue pending grants. Advisory only: every
	// read path checks expires_at itself.
	ExpireStale(ctx context.Context) (int64, error)
}

type service struct {
	repo     Repository
	clients  client.Service
	tokens   token.Service
	sessions session.Service
	policy   policy.Evaluator
	tokenCfg config.TokenConfig
	device   config.DeviceFlowConfig
	clock    clock.Clock
	rng      clock.Rng
}

func NewService(
	repo Repository,
	clients client.Service,
	tokens token.Service,
	sessions session.Service,
	policyEval policy.Evaluator,
	tokenCfg config.TokenConfig,
	deviceCfg config.DeviceFlowConfig,
	clk clock.Clock,
	rng clock.Rng,
) Service {
	return &service{
		repo:     repo,
		clients:  clients,
		tokens:   tokens,
		sessions: sessions,
		policy:   policyEval,
		tokenCfg: tokenCfg,
		device:   deviceCfg,
		clock:    clk,
		rng:      rng,
	}
}

func hashCode(value string) string {
	h := sha3.Sum256([]byte(value))
	return base64.RawStdEncoding.EncodeToString(h[:])
}

func (s *service) newCode(prefix string) (string, error) {
	b, err := s.rng.Bytes(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// StartAuthorization validates an authorization request and records a
// pending grant. The raw code is returned exactly once.
func (s *service) StartAuthorization(_ context.Context, params *AuthorizeParams) (*AuthorizationGrant, string, error) {
	if params.ResponseType != "code" {
		return nil, "", fmt.Errorf("%w: only the 'code' response_type is supported", ErrInvalidRequest)
	}

	cl, err := s.clients.Lookup(params.ClientID)
	if err != nil {
		return nil, "", err
	}
	if !cl.Active {
		return nil, "", client.ErrClientNotActive
	}

	if !slices.Contains(cl.RedirectURIList(), params.RedirectURI) {
		return nil, "", fmt.Errorf("%w: redirect_uri is not registered for this client", ErrInvalidRequest)
	}

	scopes := strings.Fields(params.Scope)
	if len(scopes) == 0 {
		return nil, "", fmt.Errorf("%w: scope is required", ErrInvalidRequest)
	}
	if !scopeSubset(scopes, cl.AllowedScopeList()) {
		return nil, "", fmt.Errorf("%w: one or more scopes are not allowed for this client", ErrInvalidRequest)
	}

	if params.CodeChallenge == "" {
		if cl.RequirePKCE {
			return nil, "", fmt.Errorf("%w: code_challenge is required for this client", ErrInvalidRequest)
		}
	} else if params.CodeChallengeMethod != CodeChallengeMethodS256 {
		return nil, "", fmt.Errorf("%w: only the S256 code_challenge_method is supported", ErrInvalidRequest)
	}

	code, err := s.newCode(AuthorizationCodePrefix)
	if err != nil {
		return nil, "", err
	}

	g := &AuthorizationGrant{
		ClientID:            params.ClientID,
		Scopes:              strings.Join(scopes, " "),
		RedirectURI:         params.RedirectURI,
		CodeHash:            hashCode(code),
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		State:               params.State,
		Nonce:               params.Nonce,
		MaxAge:              params.MaxAge,
		ResponseType:        params.ResponseType,
		Status:              StatusPending,
		ExpiresAt:           s.clock.Now().Add(s.tokenCfg.GrantTTL),
	}
	if err := s.repo.CreateAuthorization(g); err != nil {
		return nil, "", fmt.Errorf("failed to create authorization grant: %w", err)
	}
	return g, code, nil
}

// FindAuthorization loads a grant for the consent frontend.
func (s *service) FindAuthorization(id uuid.UUID) (*AuthorizationGrant, error) {
	g, err := s.repo.FindAuthorizationByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find authorization grant: %w", err)
	}
	if !s.clock.Now().Before(g.ExpiresAt) {
		return nil, ErrNotFound
	}
	return g, nil
}

// CancelAuthorization records a declined consent. Terminal.
func (s *service) CancelAuthorization(_ context.Context, grantID uuid.UUID) error {
	err := s.repo.TransitionAuthorization(grantID, StatusPending, StatusCancelled, nil)
	if errors.Is(err, ErrConflict) {
		return ErrInvalidState
	}
	return err
}

// FulfillAuthorization records the user's consent decision, binding the
// session to the grant. A policy denial cancels the grant permanently.
func (s *service) FulfillAuthorization(ctx context.Context, grantID, sessionID uuid.UUID, grantedScopes []string) error {
	g, err := s.repo.FindAuthorizationByID(grantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to find authorization grant: %w", err)
	}

	if g.Status != StatusPending || !s.clock.Now().Before(g.ExpiresAt) {
		return ErrInvalidState
	}

	if !scopeSubset(grantedScopes, g.ScopeList()) {
		return fmt.Errorf("%w: granted scopes exceed the requested scopes", ErrInvalidRequest)
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return ErrInvalidState
	}

	decision := s.policy.Evaluate(ctx, policy.Action{
		Kind:     policy.ActionGrantScopes,
		UserID:   sess.UserID,
		ClientID: g.ClientID,
		Scopes:   grantedScopes,
	})
	if !decision.Allowed {
		if err := s.repo.TransitionAuthorization(g.ID, StatusPending, StatusCancelled, nil); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("failed to cancel authorization grant: %w", err)
		}
		return fmt.Errorf("%w: %s", ErrPolicyDenied, strings.Join(decision.Reasons, "; "))
	}

	err = s.repo.TransitionAuthorization(g.ID, StatusPending, StatusFulfilled, map[string]any{
		"session_id":     sessionID,
		"granted_scopes": strings.Join(grantedScopes, " "),
	})
	if errors.Is(err, ErrConflict) {
		return ErrInvalidState
	}
	return err
}

// ExchangeAuthorizationCode turns a fulfilled grant into a token set.
// Exactly one caller ever wins: the fulfilled->exchanged transition is a
// compare-and-set, and the loser gets ErrGrantAlreadyExchanged.
func (s *service) ExchangeAuthorizationCode(ctx context.Context, code string, creds client.Credentials, redirectURI, codeVerifier string) (*token.Issued, error) {
	if _, err := s.clients.Authenticate(creds); err != nil {
		return nil, err
	}

	g, err := s.repo.FindAuthorizationByCodeHash(hashCode(code))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find authorization grant: %w", err)
	}

	// A code issued to another client does not exist as far as this
	// caller is concerned.
	if g.ClientID != creds.ClientID {
		return nil, ErrNotFound
	}

	if !s.clock.Now().Before(g.ExpiresAt) {
		return nil, ErrInvalidState
	}

	switch g.Status {
	case StatusFulfilled:
	case StatusExchanged:
		slog.Warn("Authorization code presented twice",
			"grant_id", g.ID.String(),
			"client_id", g.ClientID,
		)
		return nil, ErrGrantAlreadyExchanged
	default:
		return nil, ErrInvalidState
	}

	if subtle.ConstantTimeCompare([]byte(g.RedirectURI), []byte(redirectURI)) != 1 {
		return nil, ErrRedirectURIMismatch
	}

	if g.CodeChallenge != "" {
		if !verifyPKCE(g.CodeChallenge, codeVerifier) {
			return nil, ErrCodeVerifierMismatch
		}
	}

	if err := s.repo.TransitionAuthorization(g.ID, StatusFulfilled, StatusExchanged, nil); err != nil {
		if errors.Is(err, ErrConflict) {
			slog.Warn("Lost authorization code exchange race",
				"grant_id", g.ID.String(),
				"client_id", g.ClientID,
			)
			return nil, ErrGrantAlreadyExchanged
		}
		return nil, fmt.Errorf("failed to mark grant exchanged: %w", err)
	}

	if g.SessionID == nil {
		return nil, ErrInvalidState
	}
	sess, err := s.sessions.Get(*g.SessionID)
	if err != nil {
		return nil, ErrInvalidState
	}

	grantedScopes := g.GrantedScopeList()
	opts := &token.IssueOptions{}
	if slices.Contains(grantedScopes, "openid") {
		opts.IDToken = &token.IDTokenRequest{
			Nonce:    g.Nonce,
			AuthTime: sess.CreatedAt,
		}
	}

	return s.tokens.Issue(ctx, sess, g.ClientID, grantedScopes, opts)
}

// RefreshTokens rotates a pair for an authenticated client. The issuer
// rejects tokens owned by a different client as unknown.
func (s *service) RefreshTokens(ctx context.Context, creds client.Credentials, refreshTokenValue string, requestedScopes []string) (*token.Issued, error) {
	if _, err := s.clients.Authenticate(creds); err != nil {
		return nil, err
	}
	return s.tokens.Refresh(ctx, refreshTokenValue, creds.ClientID, requestedScopes)
}

// StartDeviceAuthorization opens an RFC 8628 flow: a long opaque code
// for the device to poll with, and a short code for the user to type.
func (s *service) StartDeviceAuthorization(_ context.Context, creds client.Credentials, scopes []string) (*DeviceCodeGrant, string, string, error) {
	cl, err := s.clients.Authenticate(creds)
	if err != nil {
		return nil, "", "", err
	}

	if len(scopes) == 0 {
		return nil, "", "", fmt.Errorf("%w: scope is required", ErrInvalidRequest)
	}
	if !scopeSubset(scopes, cl.AllowedScopeList()) {
		return nil, "", "", fmt.Errorf("%w: one or more scopes are not allowed for this client", ErrInvalidRequest)
	}

	deviceCode, err := s.newCode(DeviceCodePrefix)
	if err != nil {
		return nil, "", "", err
	}

	userCode, err := s.newUserCode()
	if err != nil {
		return nil, "", "", err
	}

	g := &DeviceCodeGrant{
		DeviceCodeHash: hashCode(deviceCode),
		UserCode:       userCode,
		ClientID:       cl.ClientID,
		Scopes:         strings.Join(scopes, " "),
		Status:         StatusPending,
		PollInterval:   int(s.device.PollInterval.Seconds()),
		ExpiresAt:      s.clock.Now().Add(s.device.GrantTTL),
	}
	if err := s.repo.CreateDevice(g); err != nil {
		return nil, "", "", fmt.Errorf("failed to create device grant: %w", err)
	}
	return g, deviceCode, userCode, nil
}

// newUserCode draws a short code and retries on collision with a live
// grant. The space is small on purpose; liveness checks keep it usable.
func (s *service) newUserCode() (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		b, err := s.rng.Bytes(s.device.UserCodeLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate user code: %w", err)
		}
		code := make([]byte, len(b))
		for i, v := range b {
			code[i] = userCodeAlphabet[int(v)%len(userCodeAlphabet)]
		}

		exists, err := s.repo.LiveUserCodeExists(string(code), s.clock.Now())
		if err != nil {
			return "", fmt.Errorf("failed to check user code: %w", err)
		}
		if !exists {
			return string(code), nil
		}
	}
	return "", errors.New("user code space exhausted")
}

// PollDeviceCode answers one device poll. Interval enforcement runs
// before any user-facing state is consulted, and every poll stamps
// last_polled_at. A too-fast poll bumps the effective interval.
func (s *service) PollDeviceCode(ctx context.Context, deviceCode string, creds client.Credentials) (*PollResult, error) {
	if _, err := s.clients.Authenticate(creds); err != nil {
		return nil, err
	}

	g, err := s.repo.FindDeviceByCodeHash(hashCode(deviceCode))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find device grant: %w", err)
	}
	if g.ClientID != creds.ClientID {
		return nil, ErrNotFound
	}

	now := s.clock.Now()

	if g.LastPolledAt != nil && now.Before(g.LastPolledAt.Add(time.Duration(g.PollInterval)*time.Second)) {
		if err := s.repo.TouchDevicePoll(g.ID, now, g.PollInterval+slowDownBump); err != nil {
			return nil, fmt.Errorf("failed to record poll: %w", err)
		}
		return &PollResult{Status: PollSlowDown}, nil
	}

	if err := s.repo.TouchDevicePoll(g.ID, now, g.PollInterval); err != nil {
		return nil, fmt.Errorf("failed to record poll: %w", err)
	}

	// Expiry wins over any stored status short of exchanged; a fulfilled
	// grant that ran out the clock never mints.
	if !now.Before(g.ExpiresAt) && g.Status != StatusExchanged {
		return &PollResult{Status: PollExpired}, nil
	}

	switch g.Status {
	case StatusPending:
		return &PollResult{Status: PollAuthorizationPending}, nil
	case StatusDenied:
		return &PollResult{Status: PollAccessDenied}, nil
	case StatusExchanged:
		slog.Warn("Device code presented again after exchange",
			"grant_id", g.ID.String(),
			"client_id", g.ClientID,
		)
		return nil, ErrGrantAlreadyExchanged
	case StatusFulfilled:
	default:
		return &PollResult{Status: PollExpired}, nil
	}

	// Single-winner consumption of the fulfilled grant.
	if err := s.repo.TransitionDevice(g.ID, StatusFulfilled, StatusExchanged, nil); err != nil {
		if errors.Is(err, ErrConflict) {
			slog.Warn("Device code presented twice after fulfillment",
				"grant_id", g.ID.String(),
				"client_id", g.ClientID,
			)
			return nil, ErrGrantAlreadyExchanged
		}
		return nil, fmt.Errorf("failed to mark device grant exchanged: %w", err)
	}

	if g.SessionID == nil {
		return nil, ErrInvalidState
	}
	sess, err := s.sessions.Get(*g.SessionID)
	if err != nil {
		return nil, ErrInvalidState
	}

	grantedScopes := g.GrantedScopeList()
	opts := &token.IssueOptions{}
	if slices.Contains(grantedScopes, "openid") {
		opts.IDToken = &token.IDTokenRequest{AuthTime: sess.CreatedAt}
	}

	issued, err := s.tokens.Issue(ctx, sess, g.ClientID, grantedScopes, opts)
	if err != nil {
		return nil, err
	}
	return &PollResult{Status: PollFulfilled, Tokens: issued}, nil
}

// SubmitDeviceConsent records the user's decision for a typed user
// code. Each live code accepts exactly one decision.
func (s *service) SubmitDeviceConsent(ctx context.Context, userCode string, sessionID uuid.UUID, approve bool, grantedScopes []string) error {
	g, err := s.repo.FindDeviceByUserCode(strings.ToUpper(strings.TrimSpace(userCode)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to find device grant: %w", err)
	}

	if !s.clock.Now().Before(g.ExpiresAt) {
		return ErrInvalidState
	}

	if !approve {
		if err := s.repo.TransitionDevice(g.ID, StatusPending, StatusDenied, nil); err != nil {
			if errors.Is(err, ErrConflict) {
				return ErrInvalidState
			}
			return fmt.Errorf("failed to deny device grant: %w", err)
		}
		return nil
	}

	if !scopeSubset(grantedScopes, g.ScopeList()) {
		return fmt.Errorf("%w: granted scopes exceed the requested scopes", ErrInvalidRequest)
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return ErrInvalidState
	}

	decision := s.policy.Evaluate(ctx, policy.Action{
		Kind:     policy.ActionGrantScopes,
		UserID:   sess.UserID,
		ClientID: g.ClientID,
		Scopes:   grantedScopes,
	})
	if !decision.Allowed {
		if err := s.repo.TransitionDevice(g.ID, StatusPending, StatusDenied, nil); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("failed to deny device grant: %w", err)
		}
		return fmt.Errorf("%w: %s", ErrPolicyDenied, strings.Join(decision.Reasons, "; "))
	}

	err = s.repo.TransitionDevice(g.ID, StatusPending, StatusFulfilled, map[string]any{
		"session_id":     sessionID,
		"granted_scopes": strings.Join(grantedScopes, " "),
	})
	if errors.Is(err, ErrConflict) {
		return ErrInvalidState
	}
	return err
}

func (s *service) ExpireStale(_ context.Context) (int64, error) {
	n, err := s.repo.ExpireStale(s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale grants: %w", err)
	}
	if n > 0 {
		slog.Debug("Expired stale grants", "count", n)
	}
	return n, nil
}

// verifyPKCE checks base64url(sha256(verifier)) against the stored
// challenge in constant time.
func verifyPKCE(challenge, verifier string) bool {
	if verifier == "" {
		return false
	}
	h := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(h[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

func scopeSubset(requested, allowed []string) bool {
	allowedSet := make(map[string]bool, len(allowed))
	for _, scope := range allowed {
		allowedSet[scope] = true
	}
	for _, scope := range requested {
		if !allowedSet[scope] {
			return false
		}
	}
	return true
}
