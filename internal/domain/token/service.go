package token

import (
	"context"
	"crypto/sha3"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emberfed/emberauth/internal/cache"
	"github.com/emberfed/emberauth/internal/clock"
	"github.com/emberfed/emberauth/internal/config"
	"github.com/emberfed/emberauth/internal/domain/keys"
	"github.com/emberfed/emberauth/internal/domain/session"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"gorm.io/gorm"
)

// IDTokenRequest carries the OIDC bits that end up inside an ID token.
type IDTokenRequest struct {
	Nonce    string
	AuthTime time.Time
}

// IssueOptions tweak a mint. Compat switches to the legacy token
// prefixes so compat credentials are distinguishable at a glance.
type IssueOptions struct {
	IDToken *IDTokenRequest
	Compat  bool
}

// Service mints, rotates, introspects, and revokes tokens. It is the
// sole writer of token records; every flow that ends in credentials
// funnels through it.
type Service interface {
	Issue(ctx context.Context, sess *session.Session, clientID string, scopes []string, opts *IssueOptions) (*Issued, error)
	// Refresh rotates a pair for its owning client; callers present the
	// client id they authenticated as.
	Refresh(ctx context.Context, refreshTokenValue, callerClientID string, requestedScopes []string) (*Issued, error)
	Introspect(ctx context.Context, tokenValue, callerClientID string) (*Introspection, error)
	Revoke(ctx context.Context, tokenValue string) error
	// RevokeFamily revokes every token tied to a session.
	RevokeFamily(ctx context.Context, sessionID uuid.UUID) error
}

type service struct {
	repo            Repository
	keystore        *keys.KeyStore
	issuer          string
	cfg             config.TokenConfig
	clock           clock.Clock
	rng             clock.Rng
	revocationCache *cache.TokenRevocationCache
}

// NewService wires a token issuer. revocationCache may be nil.
func NewService(repo Repository, ks *keys.KeyStore, issuer string, cfg config.TokenConfig, clk clock.Clock, rng clock.Rng, revocationCache *cache.TokenRevocationCache) Service {
	return &service{
		repo:            repo,
		keystore:        ks,
		issuer:          issuer,
		cfg:             cfg,
		clock:           clk,
		rng:             rng,
		revocationCache: revocationCache,
	}
}

func hashToken(value string) string {
	h := sha3.Sum256([]byte(value))
	return base64.RawStdEncoding.EncodeToString(h[:])
}

func (s *service) newTokenValue(prefix string) (string, error) {
	b, err := s.rng.Bytes(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Compat token prefixes, issued through the compat bridge.
const (
	CompatAccessTokenPrefix  = "ecat_"
	CompatRefreshTokenPrefix = "ecrt_"
)

func (s *service) Issue(ctx context.Context, sess *session.Session, clientID string, scopes []string, opts *IssueOptions) (*Issued, error) {
	if opts == nil {
		opts = &IssueOptions{}
	}

	accessPrefix, refreshPrefix := AccessTokenPrefix, RefreshTokenPrefix
	if opts.Compat {
		accessPrefix, refreshPrefix = CompatAccessTokenPrefix, CompatRefreshTokenPrefix
	}

	accessValue, err := s.newTokenValue(accessPrefix)
	if err != nil {
		return nil, err
	}
	refreshValue, err := s.newTokenValue(refreshPrefix)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	scopeStr := strings.Join(scopes, " ")

	access := &AccessToken{
		TokenHash: hashToken(accessValue),
		SessionID: sess.ID,
		UserID:    sess.UserID,
		ClientID:  clientID,
		Scopes:    scopeStr,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}
	access.ID = uuid.New()
	if err := s.repo.CreateAccess(access); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	refresh := &RefreshToken{
		TokenHash:     hashToken(refreshValue),
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		ClientID:      clientID,
		Scopes:        scopeStr,
		AccessTokenID: access.ID,
		ExpiresAt:     now.Add(s.cfg.RefreshTokenTTL),
	}
	refresh.ID = uuid.New()
	if err := s.repo.CreateRefresh(refresh); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	issued := &Issued{
		AccessToken:      accessValue,
		AccessTokenID:    access.ID,
		RefreshToken:     refreshValue,
		RefreshTokenID:   refresh.ID,
		SessionID:        sess.ID,
		Scopes:           scopes,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}

	if opts.IDToken != nil {
		idToken, err := s.mintIDToken(sess, clientID, opts.IDToken, now)
		if err != nil {
			return nil, err
		}
		issued.IDToken = idToken
	}

	return issued, nil
}

func (s *service) mintIDToken(sess *session.Session, clientID string, req *IDTokenRequest, now time.Time) (string, error) {
	builder := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(sess.UserID.String()).
		Audience([]string{clientID}).
		IssuedAt(now).
		Expiration(now.Add(s.cfg.IDTokenTTL)).
		Claim("sid", sess.ID.String())

	authTime := req.AuthTime
	if authTime.IsZero() {
		authTime = sess.CreatedAt
	}
	builder.Claim("auth_time", authTime.Unix())

	if req.Nonce != "" {
		builder.Claim("nonce", req.Nonce)
	}

	tok, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build id token: %w", err)
	}

	signed, err := s.keystore.Sign(tok)
	if err != nil {
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}
	return signed, nil
}

// Refresh rotates a token pair. The old refresh token is burnt exactly
// once; redeeming a burnt token is treated as a replay signal and causes
// family-wide revocation, not just a rejection.
func (s *service) Refresh(ctx context.Context, refreshTokenValue, callerClientID string, requestedScopes []string) (*Issued, error) {
	rt, err := s.repo.FindRefreshByHash(hashToken(refreshTokenValue))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	// Another client's token answers like one that never existed.
	if rt.ClientID != callerClientID {
		return nil, ErrTokenNotFound
	}

	if rt.Used {
		return nil, s.handleReplay(ctx, rt)
	}
	if rt.Revoked {
		return nil, ErrTokenRevoked
	}
	if !s.clock.Now().Before(rt.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	originalScopes := rt.ScopeList()
	newScopes := originalScopes
	if len(requestedScopes) > 0 {
		if !scopeSubset(requestedScopes, originalScopes) {
			return nil, ErrScopeEscalation
		}
		newScopes = requestedScopes
	}

	compat := strings.HasPrefix(refreshTokenValue, CompatRefreshTokenPrefix)
	accessPrefix, refreshPrefix := AccessTokenPrefix, RefreshTokenPrefix
	if compat {
		accessPrefix, refreshPrefix = CompatAccessTokenPrefix, CompatRefreshTokenPrefix
	}

	accessValue, err := s.newTokenValue(accessPrefix)
	if err != nil {
		return nil, err
	}
	refreshValue, err := s.newTokenValue(refreshPrefix)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	newRefreshID := uuid.New()

	// The burn happens before the new rows exist. Losing a crash in
	// between leaves the old token unusable, which fails safe.
	if err := s.repo.MarkRefreshUsed(rt.ID, newRefreshID); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, s.handleReplay(ctx, rt)
		}
		return nil, fmt.Errorf("failed to mark refresh token used: %w", err)
	}

	// The rotated access token stops working immediately.
	if err := s.repo.RevokeAccess(rt.AccessTokenID); err != nil {
		return nil, fmt.Errorf("failed to revoke rotated access token: %w", err)
	}

	access := &AccessToken{
		TokenHash: hashToken(accessValue),
		SessionID: rt.SessionID,
		UserID:    rt.UserID,
		ClientID:  rt.ClientID,
		Scopes:    strings.Join(newScopes, " "),
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}
	access.ID = uuid.New()
	if err := s.repo.CreateAccess(access); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	refresh := &RefreshToken{
		TokenHash:     hashToken(refreshValue),
		SessionID:     rt.SessionID,
		UserID:        rt.UserID,
		ClientID:      rt.ClientID,
		Scopes:        rt.Scopes, // rotation never widens the grant
		AccessTokenID: access.ID,
		ExpiresAt:     now.Add(s.cfg.RefreshTokenTTL),
	}
	refresh.ID = newRefreshID
	if err := s.repo.CreateRefresh(refresh); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &Issued{
		AccessToken:      accessValue,
		AccessTokenID:    access.ID,
		RefreshToken:     refreshValue,
		RefreshTokenID:   refresh.ID,
		SessionID:        rt.SessionID,
		Scopes:           newScopes,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// handleReplay contains a detected refresh-token replay by revoking the
// session's whole token family.
func (s *service) handleReplay(ctx context.Context, rt *RefreshToken) error {
	slog.Error("Refresh token replay detected, revoking token family",
		"refresh_token_id", rt.ID.String(),
		"session_id", rt.SessionID.String(),
		"client_id", rt.ClientID,
	)

	if err := s.repo.RevokeSessionTokens(rt.SessionID); err != nil {
		slog.Error("Failed to revoke token family after replay", "error", err, "session_id", rt.SessionID.String())
	}

	if s.revocationCache != nil {
		if err := s.revocationCache.RevokeSession(ctx, rt.SessionID.String(), s.cfg.RefreshTokenTTL); err != nil {
			slog.Warn("Failed to record replay revocation in Redis", "error", err, "session_id", rt.SessionID.String())
		}
	}

	return ErrTokenReplay
}

// Introspect reports a token's state without ever confirming existence
// of another client's tokens: anything the caller may not see comes back
// inactive, identical to a token that never existed.
func (s *service) Introspect(ctx context.Context, tokenValue, callerClientID string) (*Introspection, error) {
	inactive := &Introspection{Active: false}
	hash := hashToken(tokenValue)

	switch {
	case strings.HasPrefix(tokenValue, AccessTokenPrefix), strings.HasPrefix(tokenValue, CompatAccessTokenPrefix):
		at, err := s.repo.FindAccessByHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return inactive, nil
			}
			return nil, fmt.Errorf("failed to find access token: %w", err)
		}
		if at.ClientID != callerClientID || at.Revoked || !s.clock.Now().Before(at.ExpiresAt) {
			return inactive, nil
		}
		if s.sessionRevoked(ctx, at.SessionID) {
			return inactive, nil
		}
		return &Introspection{
			Active:    true,
			Scopes:    at.ScopeList(),
			ClientID:  at.ClientID,
			Subject:   at.UserID.String(),
			TokenType: "access_token",
			ExpiresAt: at.ExpiresAt,
		}, nil

	case strings.HasPrefix(tokenValue, RefreshTokenPrefix), strings.HasPrefix(tokenValue, CompatRefreshTokenPrefix):
		rt, err := s.repo.FindRefreshByHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return inactive, nil
			}
			return nil, fmt.Errorf("failed to find refresh token: %w", err)
		}
		if rt.ClientID != callerClientID || rt.Revoked || rt.Used || !s.clock.Now().Before(rt.ExpiresAt) {
			return inactive, nil
		}
		if s.sessionRevoked(ctx, rt.SessionID) {
			return inactive, nil
		}
		return &Introspection{
			Active:    true,
			Scopes:    rt.ScopeList(),
			ClientID:  rt.ClientID,
			Subject:   rt.UserID.String(),
			TokenType: "refresh_token",
			ExpiresAt: rt.ExpiresAt,
		}, nil
	}

	return inactive, nil
}

// Revoke is idempotent: unknown values and already-revoked tokens
// succeed silently, per RFC 7009, so revocation leaks no validity.
func (s *service) Revoke(ctx context.Context, tokenValue string) error {
	hash := hashToken(tokenValue)

	switch {
	case strings.HasPrefix(tokenValue, AccessTokenPrefix), strings.HasPrefix(tokenValue, CompatAccessTokenPrefix):
		at, err := s.repo.FindAccessByHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to find access token: %w", err)
		}
		if err := s.repo.RevokeAccess(at.ID); err != nil {
			return fmt.Errorf("failed to revoke access token: %w", err)
		}
		s.cacheRevocation(ctx, at.TokenHash, at.ExpiresAt)
		return nil

	case strings.HasPrefix(tokenValue, RefreshTokenPrefix), strings.HasPrefix(tokenValue, CompatRefreshTokenPrefix):
		rt, err := s.repo.FindRefreshByHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to find refresh token: %w", err)
		}
		// Revoking a refresh token takes its paired access token with it.
		if err := s.repo.RevokeRefresh(rt.ID); err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}
		if err := s.repo.RevokeAccess(rt.AccessTokenID); err != nil {
			return fmt.Errorf("failed to revoke paired access token: %w", err)
		}
		s.cacheRevocation(ctx, rt.TokenHash, rt.ExpiresAt)
		return nil
	}

	return nil
}

func (s *service) RevokeFamily(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.repo.RevokeSessionTokens(sessionID); err != nil {
		return fmt.Errorf("failed to revoke session tokens: %w", err)
	}
	if s.revocationCache != nil {
		if err := s.revocationCache.RevokeSession(ctx, sessionID.String(), s.cfg.RefreshTokenTTL); err != nil {
			slog.Warn("Failed to record session revocation in Redis", "error", err, "session_id", sessionID.String())
		}
	}
	return nil
}

// sessionRevoked is a cache fast path for family revocations that have
// not yet reached the token rows. The database remains authoritative.
func (s *service) sessionRevoked(ctx context.Context, sessionID uuid.UUID) bool {
	return s.revocationCache != nil && s.revocationCache.IsSessionRevoked(ctx, sessionID.String())
}

func (s *service) cacheRevocation(ctx context.Context, tokenHash string, expiresAt time.Time) {
	if s.revocationCache == nil {
		return
	}
	ttl := expiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := s.revocationCache.RevokeToken(ctx, tokenHash, ttl); err != nil {
		slog.Warn("Failed to record token revocation in Redis", "error", err)
	}
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
