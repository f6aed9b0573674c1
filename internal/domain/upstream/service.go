package upstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emberfed/emberauth/internal/clock"
	"github.com/emberfed/emberauth/internal/config"
	"github.com/emberfed/emberauth/internal/domain/policy"
	"github.com/emberfed/emberauth/internal/domain/session"
	"github.com/emberfed/emberauth/internal/domain/user"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultLinkTTL = 10 * time.Minute

// Service drives upstream link flows: an outbound authorization, the
// callback with the provider's code, and the final binding to a local
// account.
type Service interface {
	StartLink(ctx context.Context, providerID string) (*UpstreamLink, string, error)
	// HandleCallback resolves the state, exchanges the code with the
	// provider, and stores the verified subject. Unknown and expired
	// states are indistinguishable to the caller.
	HandleCallback(ctx context.Context, state, code string) (*UpstreamLink, error)
	FindLink(id uuid.UUID) (*UpstreamLink, error)
	// CompleteLink binds the verified subject to a local user and opens
	// a session. A nil localUserID provisions a fresh account.
	CompleteLink(ctx context.Context, linkID uuid.UUID, localUserID *uuid.UUID) (*session.Session, error)
}

type service struct {
	repo     Repository
	registry *Registry
	users    user.Service
	sessions session.Service
	policy   policy.Evaluator
	linkTTLs map[string]time.Duration
	clock    clock.Clock
	rng      clock.Rng
}

// NewService wires the link engine. Per-provider flow lifetimes come
// from the upstream configuration; unset ones fall back to a default.
func NewService(
	repo Repository,
	registry *Registry,
	users user.Service,
	sessions session.Service,
	policyEval policy.Evaluator,
	providerCfgs []config.UpstreamConfig,
	clk clock.Clock,
	rng clock.Rng,
) Service {
	ttls := make(map[string]time.Duration, len(providerCfgs))
	for _, cfg := range providerCfgs {
		if cfg.LinkTTL > 0 {
			ttls[cfg.ID] = cfg.LinkTTL
		}
	}
	return &service{
		repo:     repo,
		registry: registry,
		users:    users,
		sessions: sessions,
		policy:   policyEval,
		linkTTLs: ttls,
		clock:    clk,
		rng:      rng,
	}
}

func (s *service) linkTTL(providerID string) time.Duration {
	if ttl, ok := s.linkTTLs[providerID]; ok {
		return ttl
	}
	return defaultLinkTTL
}

func (s *service) randomValue() (string, error) {
	b, err := s.rng.Bytes(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate random value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StartLink opens a flow against the provider. State, nonce and the
// PKCE verifier live on the row, so the callback is bound to exactly
// this flow.
func (s *service) StartLink(_ context.Context, providerID string) (*UpstreamLink, string, error) {
	provider, err := s.registry.Get(providerID)
	if err != nil {
		return nil, "", err
	}

	state, err := s.randomValue()
	if err != nil {
		return nil, "", err
	}
	nonce, err := s.randomValue()
	if err != nil {
		return nil, "", err
	}
	verifier, err := s.randomValue()
	if err != nil {
		return nil, "", err
	}

	l := &UpstreamLink{
		ProviderID:   providerID,
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		Status:       StatusAuthorizeStarted,
		ExpiresAt:    s.clock.Now().Add(s.linkTTL(providerID)),
	}
	if err := s.repo.Create(l); err != nil {
		return nil, "", fmt.Errorf("failed to create upstream link: %w", err)
	}

	return l, provider.AuthCodeURL(state, nonce, verifier), nil
}

func (s *service) HandleCallback(ctx context.Context, state, code string) (*UpstreamLink, error) {
	l, err := s.repo.FindByState(state)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownState
		}
		return nil, fmt.Errorf("failed to find upstream link: %w", err)
	}

	// Expired flows answer exactly like unknown ones.
	if !s.clock.Now().Before(l.ExpiresAt) {
		return nil, ErrUnknownState
	}
	if l.Status != StatusAuthorizeStarted {
		return nil, ErrInvalidState
	}

	provider, err := s.registry.Get(l.ProviderID)
	if err != nil {
		return nil, err
	}

	subject, err := provider.ExchangeAndVerify(ctx, code, l.CodeVerifier, l.Nonce)
	if err != nil {
		slog.Error("Upstream provider exchange failed",
			"provider", l.ProviderID,
			"link_id", l.ID.String(),
			"error", err,
		)
		if terr := s.repo.Transition(l.ID, StatusAuthorizeStarted, StatusFailed, nil); terr != nil && !errors.Is(terr, ErrConflict) {
			return nil, fmt.Errorf("failed to mark link failed: %w", terr)
		}
		return nil, err
	}

	if err := s.repo.Transition(l.ID, StatusAuthorizeStarted, StatusCallbackReceived, map[string]any{
		"subject": subject,
	}); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("failed to advance link: %w", err)
	}

	l.Status = StatusCallbackReceived
	l.Subject = subject
	return l, nil
}

func (s *service) FindLink(id uuid.UUID) (*UpstreamLink, error) {
	l, err := s.repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownState
		}
		return nil, fmt.Errorf("failed to find upstream link: %w", err)
	}
	return l, nil
}

func (s *service) CompleteLink(ctx context.Context, linkID uuid.UUID, localUserID *uuid.UUID) (*session.Session, error) {
	l, err := s.FindLink(linkID)
	if err != nil {
		return nil, err
	}

	if l.Status != StatusCallbackReceived || !s.clock.Now().Before(l.ExpiresAt) {
		return nil, ErrInvalidState
	}

	var u *user.User
	existing, err := s.repo.FindLinkedSubject(l.ProviderID, l.Subject)
	switch {
	case err == nil:
		// Returning subject: a fresh authentication logs into the
		// account the subject is already bound to. Binding to a
		// different local user is the conflict.
		if existing.UserID == nil {
			return nil, ErrInvalidState
		}
		if localUserID != nil && *localUserID != *existing.UserID {
			return nil, ErrSubjectAlreadyLinked
		}
		u, err = s.users.FindByID(*existing.UserID)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if localUserID != nil {
			u, err = s.users.FindByID(*localUserID)
		} else {
			u, err = s.users.Provision(l.ProviderID + ":" + l.Subject)
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to check subject: %w", err)
	}

	decision := s.policy.Evaluate(ctx, policy.Action{
		Kind:       policy.ActionLinkUpstreamSubject,
		UserID:     u.ID,
		ProviderID: l.ProviderID,
		Subject:    l.Subject,
	})
	if !decision.Allowed {
		return nil, ErrPolicyDenied
	}

	if err := s.repo.Transition(l.ID, StatusCallbackReceived, StatusLinked, map[string]any{
		"user_id": u.ID,
	}); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("failed to mark link complete: %w", err)
	}

	sess, err := s.sessions.Create(u.ID, session.MethodUpstreamPrefix+l.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}
