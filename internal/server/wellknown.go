package server

import (
	"github.com/emberfed/emberauth/internal/domain/keys"
	"github.com/gofiber/fiber/v2"
)

// JWKSHandler serves the public half of the signing key set.
func JWKSHandler(ks *keys.KeyStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(ks.JWKS())
	}
}

// OpenIDConfigurationHandler serves the OIDC discovery document.
func OpenIDConfigurationHandler(issuer string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"issuer":                                issuer,
			"authorization_endpoint":                issuer + "/v1/oauth/authorize",
			"token_endpoint":                        issuer + "/v1/oauth/token",
			"device_authorization_endpoint":         issuer + "/v1/oauth/device/authorize",
			"introspection_endpoint":                issuer + "/v1/oauth/introspect",
			"revocation_endpoint":                   issuer + "/v1/oauth/revoke",
			"jwks_uri":                              issuer + "/.well-known/jwks.json",
			"response_types_supported":              []string{"code"},
			"grant_types_supported":                 []string{"authorization_code", "refresh_token", "urn:ietf:params:oauth:grant-type:device_code"},
			"code_challenge_methods_supported":      []string{"S256"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
			"subject_types_supported":               []string{"public"},
			"token_endpoint_auth_methods_supported": []string{"client_secret_post", "none"},
		})
	}
}
