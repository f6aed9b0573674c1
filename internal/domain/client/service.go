package client

import (
	"context"
	"crypto/sha3"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/emberfed/emberauth/internal/domain/policy"
	"gorm.io/gorm"
)

var (
	// ErrUnknownClient is returned when a client_id does not resolve.
	ErrUnknownClient = errors.New("unknown_client")
	// ErrClientNotActive is returned when the client is disabled.
	ErrClientNotActive = errors.New("client_not_active")
	// ErrBadCredentials is returned when client authentication fails.
	ErrBadCredentials = errors.New("invalid_client_credentials")
	// ErrRegistrationDenied is returned when policy rejects a registration.
	ErrRegistrationDenied = errors.New("registration_denied")
)

// Credentials carry what a client presented to authenticate itself.
type Credentials struct {
	ClientID string
	Secret   string
}

// Service exposes the client registry to the grant and token engines.
type Service interface {
	Register(ctx context.Context, c *Client, plainSecret string) error
	Lookup(clientID string) (*Client, error)
	// Authenticate resolves and authenticates a client. Public clients
	// pass with an empty secret; confidential clients must present the
	// registered one.
	Authenticate(creds Credentials) (*Client, error)
}

type service struct {
	repo   Repository
	policy policy.Evaluator
}

func NewService(repo Repository, policy policy.Evaluator) Service {
	return &service{repo: repo, policy: policy}
}

func hashSecret(secret string) string {
	h := sha3.Sum256([]byte(secret))
	return base64.RawStdEncoding.EncodeToString(h[:])
}

// Register stores a new client after a policy check. The plaintext secret
// is hashed at rest; an empty secret registers a public client.
func (s *service) Register(ctx context.Context, c *Client, plainSecret string) error {
	decision := s.policy.Evaluate(ctx, policy.Action{
		Kind:     policy.ActionRegisterClient,
		ClientID: c.ClientID,
		Scopes:   c.AllowedScopeList(),
	})
	if !decision.Allowed {
		return fmt.Errorf("%w: %s", ErrRegistrationDenied, strings.Join(decision.Reasons, "; "))
	}

	if plainSecret != "" {
		c.SecretHash = hashSecret(plainSecret)
	}
	if err := s.repo.Create(c); err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func (s *service) Lookup(clientID string) (*Client, error) {
	c, err := s.repo.FindByClientID(clientID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownClient
		}
		return nil, fmt.Errorf("failed to find client: %w", err)
	}
	return c, nil
}

func (s *service) Authenticate(creds Credentials) (*Client, error) {
	c, err := s.Lookup(creds.ClientID)
	if err != nil {
		return nil, err
	}

	if !c.Active {
		return nil, ErrClientNotActive
	}

	if c.Public() {
		if creds.Secret != "" {
			return nil, ErrBadCredentials
		}
		return c, nil
	}

	if subtle.ConstantTimeCompare([]byte(hashSecret(creds.Secret)), []byte(c.SecretHash)) != 1 {
		return nil, ErrBadCredentials
	}
	return c, nil
}
