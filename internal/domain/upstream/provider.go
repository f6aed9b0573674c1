package upstream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/emberfed/emberauth/internal/cache"
	"github.com/emberfed/emberauth/internal/config"
	"golang.org/x/oauth2"
)

// Provider is the link engine's view of one upstream identity
// provider. Implementations own discovery, the code exchange, and ID
// token verification; the engine only drives the state machine.
type Provider interface {
	ID() string
	SupportsNonce() bool
	AuthCodeURL(state, nonce, codeVerifier string) string
	// ExchangeAndVerify trades the callback code for tokens and returns
	// the verified subject. The expected nonce must match the ID token.
	ExchangeAndVerify(ctx context.Context, code, codeVerifier, expectedNonce string) (subject string, err error)
}

// Registry resolves configured providers by id.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.ID()] = p
	}
	return &Registry{providers: m}
}

// Get returns the provider or ErrUnknownProvider.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

// OIDCProvider talks to a real upstream through OIDC discovery and the
// standard authorization-code exchange.
type OIDCProvider struct {
	cfg      config.UpstreamConfig
	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider builds a provider from configuration. Discovery goes
// through the metadata cache first; a miss runs the real discovery and
// populates the cache for the next construction.
func NewOIDCProvider(ctx context.Context, cfg config.UpstreamConfig, metadata *cache.MetadataCache) (*OIDCProvider, error) {
	var endpoint oauth2.Endpoint
	var verifier *oidc.IDTokenVerifier

	meta, err := metadata.Get(ctx, cfg.ID)
	if err != nil {
		slog.Warn("Provider metadata cache unavailable", "provider", cfg.ID, "error", err)
	}

	if meta != nil {
		endpoint = oauth2.Endpoint{AuthURL: meta.AuthorizationEndpoint, TokenURL: meta.TokenEndpoint}
		keySet := oidc.NewRemoteKeySet(ctx, meta.JWKSURI)
		verifier = oidc.NewVerifier(meta.Issuer, keySet, &oidc.Config{ClientID: cfg.ClientID})
	} else {
		provider, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("discovery failed for %s: %w", cfg.ID, err)
		}
		endpoint = provider.Endpoint()
		verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

		var claims struct {
			Issuer   string `json:"issuer"`
			AuthURL  string `json:"authorization_endpoint"`
			TokenURL string `json:"token_endpoint"`
			JWKSURI  string `json:"jwks_uri"`
		}
		if err := provider.Claims(&claims); err == nil {
			if err := metadata.Put(ctx, cfg.ID, &cache.ProviderMetadata{
				Issuer:                claims.Issuer,
				AuthorizationEndpoint: claims.AuthURL,
				TokenEndpoint:         claims.TokenURL,
				JWKSURI:               claims.JWKSURI,
			}); err != nil {
				slog.Warn("Failed to cache provider metadata", "provider", cfg.ID, "error", err)
			}
		}
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID}
	}

	return &OIDCProvider{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
		},
		verifier: verifier,
	}, nil
}

func (p *OIDCProvider) ID() string {
	return p.cfg.ID
}

func (p *OIDCProvider) SupportsNonce() bool {
	return p.cfg.SupportsNonce
}

func (p *OIDCProvider) AuthCodeURL(state, nonce, codeVerifier string) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(codeVerifier)}
	if p.cfg.SupportsNonce && nonce != "" {
		opts = append(opts, oidc.Nonce(nonce))
	}
	return p.oauth.AuthCodeURL(state, opts...)
}

func (p *OIDCProvider) ExchangeAndVerify(ctx context.Context, code, codeVerifier, expectedNonce string) (string, error) {
	tok, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return "", fmt.Errorf("%w: code exchange: %v", ErrUpstreamProvider, err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", fmt.Errorf("%w: no id_token in response", ErrUpstreamProvider)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("%w: id_token verification: %v", ErrUpstreamProvider, err)
	}

	if p.cfg.SupportsNonce && idToken.Nonce != expectedNonce {
		return "", fmt.Errorf("%w: nonce mismatch", ErrUpstreamProvider)
	}

	return idToken.Subject, nil
}
