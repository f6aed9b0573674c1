package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emberfed/emberauth/internal/cache"
	"github.com/emberfed/emberauth/internal/clock"
	"github.com/emberfed/emberauth/internal/config"
	"github.com/emberfed/emberauth/internal/database"
	"github.com/emberfed/emberauth/internal/domain/client"
	"github.com/emberfed/emberauth/internal/domain/compat"
	"github.com/emberfed/emberauth/internal/domain/grant"
	"github.com/emberfed/emberauth/internal/domain/keys"
	"github.com/emberfed/emberauth/internal/domain/policy"
	"github.com/emberfed/emberauth/internal/domain/session"
	"github.com/emberfed/emberauth/internal/domain/token"
	"github.com/emberfed/emberauth/internal/domain/upstream"
	"github.com/emberfed/emberauth/internal/domain/user"
	"github.com/emberfed/emberauth/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes wires repositories, services, and handlers onto the app.
// Everything API lives under /v1; discovery and JWKS sit at the root.
func SetupRoutes(app *fiber.App, cfg *config.Config) error {
	api := app.Group("/v1")

	clk := clock.System{}
	rng := clock.System{}

	// Repositories
	userRepo := user.NewRepository(database.DB)
	clientRepo := client.NewRepository(database.DB)
	sessionRepo := session.NewRepository(database.DB)
	grantRepo := grant.NewRepository(database.DB)
	tokenRepo := token.NewRepository(database.DB)
	upstreamRepo := upstream.NewRepository(database.DB)
	compatRepo := compat.NewRepository(database.DB)

	// Caches
	revocationCache := cache.NewTokenRevocationCache()
	metadataCache := cache.NewMetadataCache()

	// Policy. Scope subsetting and client checks live in the engines;
	// deployment-specific rules plug in through this evaluator.
	policyEval := policy.AllowAll()

	keyStore, err := keys.LoadKeys(cfg.Auth.KeysPath, cfg.Auth.ActiveKID)
	if err != nil {
		return fmt.Errorf("failed to load keys: %w", err)
	}
	slog.Info("Active signing key loaded", "kid", keyStore.ActiveKid)

	issuer := cfg.Server.Domain

	// Services
	userService := user.NewService(userRepo)
	clientService := client.NewService(clientRepo, policyEval)
	sessionService := session.NewService(sessionRepo, clk)
	tokenService := token.NewService(tokenRepo, keyStore, issuer, cfg.Tokens, clk, rng, revocationCache)
	grantService := grant.NewService(grantRepo, clientService, tokenService, sessionService, policyEval, cfg.Tokens, cfg.DeviceFlow, clk, rng)
	compatService := compat.NewService(compatRepo, userService, sessionService, tokenService, cfg.Compat, clk)

	registry, err := buildProviderRegistry(cfg.Upstream, metadataCache)
	if err != nil {
		return err
	}
	upstreamService := upstream.NewService(upstreamRepo, registry, userService, sessionService, policyEval, cfg.Upstream, clk, rng)

	// Handlers
	tokenLimiter := ratelimit.New(cfg.Server.RateLimit.Rate, cfg.Server.RateLimit.Burst)
	loginLimiter := ratelimit.New(cfg.Server.RateLimit.Rate, cfg.Server.RateLimit.Burst)

	verificationURI := issuer + "/device"
	sessionHandler := session.NewHandler(sessionService, userService, loginLimiter)
	clientHandler := client.NewHandler(clientService)
	grantHandler := grant.NewHandler(grantService, tokenLimiter, clk, verificationURI)
	tokenHandler := token.NewHandler(tokenService, clientService)
	upstreamHandler := upstream.NewHandler(upstreamService)
	compatHandler := compat.NewHandler(compatService, loginLimiter, clk)

	requireSession := session.Middleware(sessionService)

	// Local accounts and sessions
	authGroup := api.Group("/auth")
	authGroup.Post("/login", sessionHandler.Login)
	authGroup.Post("/logout", requireSession, sessionHandler.Logout)
	authGroup.Get("/me", requireSession, sessionHandler.Me)

	// Client registry
	api.Post("/clients", clientHandler.Register)
	api.Get("/clients/:client_id", clientHandler.Get)

	// OAuth2 surface. Consent-side endpoints need a user session; the
	// client-facing ones authenticate the client instead.
	oauthGroup := api.Group("/oauth")
	oauthGroup.Get("/authorize", requireSession, grantHandler.Authorize)
	oauthGroup.Post("/authorize/confirm", requireSession, grantHandler.Confirm)
	oauthGroup.Post("/device/consent", requireSession, grantHandler.DeviceConsent)
	oauthGroup.Post("/device/authorize", grantHandler.DeviceAuthorization)
	oauthGroup.Post("/token", grantHandler.Token)
	oauthGroup.Post("/introspect", tokenHandler.Introspect)
	oauthGroup.Post("/revoke", tokenHandler.Revoke)

	// Upstream federation
	upstreamGroup := api.Group("/upstream")
	upstreamGroup.Get("/callback", upstreamHandler.Callback)
	upstreamGroup.Post("/complete", upstreamHandler.Complete)
	upstreamGroup.Get("/:provider/start", upstreamHandler.Start)

	// Legacy client bridge
	compatGroup := api.Group("/compat")
	compatGroup.Post("/login", compatHandler.Login)
	compatGroup.Post("/refresh", compatHandler.Refresh)
	compatGroup.Post("/logout", compatHandler.Logout)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	})

	app.Get("/.well-known/jwks.json", JWKSHandler(keyStore))
	app.Get("/.well-known/openid-configuration", OpenIDConfigurationHandler(issuer))

	StartSweeper(context.Background(), grantService, tokenLimiter, loginLimiter)

	return nil
}

func buildProviderRegistry(cfgs []config.UpstreamConfig, metadata *cache.MetadataCache) (*upstream.Registry, error) {
	providers := make([]upstream.Provider, 0, len(cfgs))
	for _, cfg := range cfgs {
		p, err := upstream.NewOIDCProvider(context.Background(), cfg, metadata)
		if err != nil {
			return nil, fmt.Errorf("upstream provider %s: %w", cfg.ID, err)
		}
		slog.Info("Upstream provider configured", "provider", cfg.ID, "issuer", cfg.Issuer)
		providers = append(providers, p)
	}
	return upstream.NewRegistry(providers...), nil
}
