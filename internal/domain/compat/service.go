package compat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emberfed/emberauth/internal/clock"
	"github.com/emberfed/emberauth/internal/config"
	"github.com/emberfed/emberauth/internal/domain/session"
	"github.com/emberfed/emberauth/internal/domain/token"
	"github.com/emberfed/emberauth/internal/domain/user"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service is the legacy client bridge. Legacy devices never speak
// OAuth; they log in with credentials and get a token pair carrying
// the fixed compat scope set.
type Service interface {
	Login(ctx context.Context, deviceID, username, password string) (*CompatSession, *token.Issued, error)
	// Refresh rotates the pair. Replay of a used compat refresh token
	// revokes the whole family, same as the OAuth surface.
	Refresh(ctx context.Context, refreshTokenValue string) (*CompatSession, *token.Issued, error)
	// Logout revokes the session's tokens and terminates the bridge
	// session. Repeated calls succeed.
	Logout(ctx context.Context, compatSessionID uuid.UUID) error
}

type service struct {
	repo     Repository
	users    user.Service
	sessions session.Service
	tokens   token.Service
	cfg      config.CompatConfig
	clock    clock.Clock
}

func NewService(
	repo Repository,
	users user.Service,
	sessions session.Service,
	tokens token.Service,
	cfg config.CompatConfig,
	clk clock.Clock,
) Service {
	return &service{
		repo:     repo,
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		cfg:      cfg,
		clock:    clk,
	}
}

func (s *service) Login(ctx context.Context, deviceID, username, password string) (*CompatSession, *token.Issued, error) {
	u, err := s.users.VerifyCredentials(username, password)
	if err != nil {
		return nil, nil, err
	}

	sess, err := s.sessions.Create(u.ID, session.MethodCompat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	issued, err := s.tokens.Issue(ctx, sess, ClientID, s.cfg.Scopes, &token.IssueOptions{Compat: true})
	if err != nil {
		return nil, nil, err
	}

	cs := &CompatSession{
		DeviceID:       deviceID,
		UserID:         u.ID,
		SessionID:      sess.ID,
		AccessTokenID:  issued.AccessTokenID,
		RefreshTokenID: issued.RefreshTokenID,
	}
	if err := s.repo.Create(cs); err != nil {
		return nil, nil, fmt.Errorf("failed to store compat session: %w", err)
	}

	slog.Info("Compat login",
		"device_id", deviceID,
		"user_id", u.ID.String(),
		"compat_session_id", cs.ID.String(),
	)
	return cs, issued, nil
}

func (s *service) Refresh(ctx context.Context, refreshTokenValue string) (*CompatSession, *token.Issued, error) {
	// Tokens from the OAuth surface never cross the bridge.
	if !strings.HasPrefix(refreshTokenValue, token.CompatRefreshTokenPrefix) {
		return nil, nil, token.ErrTokenNotFound
	}

	issued, err := s.tokens.Refresh(ctx, refreshTokenValue, ClientID, nil)
	if err != nil {
		return nil, nil, err
	}

	cs, err := s.repo.FindBySessionID(issued.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("failed to find compat session: %w", err)
	}
	if cs.Terminated {
		return nil, nil, ErrSessionNotFound
	}

	// Hard cap on the bridge session, independent of token lifetimes.
	if s.cfg.SessionTTL > 0 && !s.clock.Now().Before(cs.CreatedAt.Add(s.cfg.SessionTTL)) {
		if err := s.terminate(ctx, cs); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrSessionExpired
	}

	if err := s.repo.UpdateTokenPair(cs.ID, issued.AccessTokenID, issued.RefreshTokenID); err != nil {
		return nil, nil, fmt.Errorf("failed to update compat session: %w", err)
	}
	cs.AccessTokenID = issued.AccessTokenID
	cs.RefreshTokenID = issued.RefreshTokenID

	return cs, issued, nil
}

func (s *service) Logout(ctx context.Context, compatSessionID uuid.UUID) error {
	cs, err := s.repo.FindByID(compatSessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("failed to find compat session: %w", err)
	}
	if cs.Terminated {
		return nil
	}
	return s.terminate(ctx, cs)
}

func (s *service) terminate(ctx context.Context, cs *CompatSession) error {
	if err := s.tokens.RevokeFamily(ctx, cs.SessionID); err != nil {
		return fmt.Errorf("failed to revoke compat tokens: %w", err)
	}
	if err := s.sessions.MarkInactive(cs.SessionID); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if err := s.repo.Terminate(cs.ID); err != nil {
		return fmt.Errorf("failed to terminate compat session: %w", err)
	}
	return nil
}
