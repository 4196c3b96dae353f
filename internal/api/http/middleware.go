package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/token-auth/internal/observability"
	"github.com/spec-kit/token-auth/internal/persistence"
	"github.com/spec-kit/token-auth/internal/problem"
)

// MiddlewareConfig controls the global middleware chain.
type MiddlewareConfig struct {
	Timeout      time.Duration
	WrapUncaught bool
}

// RegisterMiddlewares attaches the global chain: request timeout, request
// logging, problem conversion, then the per-request transaction. The
// transaction sits innermost; taxonomy problems commit it (they are expected
// outcomes, and the authentication sweep must survive a rejected request)
// while any other escaping error rolls it back before the problem layer
// serializes the response.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, db persistence.TxBeginner, cfg MiddlewareConfig) {
	if cfg.Timeout > 0 {
		app.Use(requestTimeoutMiddleware(cfg.Timeout))
	}
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(problem.Handler(logger, metrics, cfg.WrapUncaught))
	if db != nil {
		app.Use(persistence.Transaction(db, logger))
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}
