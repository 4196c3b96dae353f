package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/token-auth/internal/acl"
	"github.com/spec-kit/token-auth/internal/api/http/handlers"
	"github.com/spec-kit/token-auth/internal/token"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Tokens  *handlers.TokensHandler
	Metrics *handlers.MetricsHandler

	// RequireToken authenticates and exposes the raw token as principal.
	RequireToken fiber.Handler
	// RequirePrincipal authenticates and transforms the token into a
	// handlers.Principal.
	RequirePrincipal fiber.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/tokens", cfg.Tokens.Issue)
	app.Delete("/tokens/current", cfg.RequireToken, cfg.Tokens.RevokeCurrent)
	app.Get("/whoami", cfg.RequirePrincipal, cfg.Tokens.Whoami)

	app.Get("/metrics",
		cfg.RequireToken,
		acl.RequirePermissions(tokenClaims, "metrics:read"),
		cfg.Metrics.Counters,
	)
}

// tokenClaims reads the claimed permissions off an authenticated token.
func tokenClaims(c *fiber.Ctx) []string {
	t, ok := token.FromContext(c)
	if !ok {
		return nil
	}
	return handlers.ContextPermissions(t.Context)
}
