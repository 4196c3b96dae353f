package problem

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/token-auth/internal/observability"
)

// Handler converts escaping errors into problem+json responses.
//
// Problems pass through with their declared status. Any other error is
// wrapped into an uncaught-exception problem carrying only the error's type
// name, so internals never leak into response bodies. With wrapUncaught
// disabled, non-Problem errors propagate to fiber's default error handler.
func Handler(logger *zap.Logger, metrics *observability.Metrics, wrapUncaught bool) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = NewUncaught(fmt.Sprintf("%T", r))
			}
			if err == nil {
				return
			}

			var prob *Problem
			if !errors.As(err, &prob) {
				var fiberErr *fiber.Error
				switch {
				case errors.As(err, &fiberErr):
					// router-level errors keep their status
					prob = &Problem{
						Status: fiberErr.Code,
						Title:  http.StatusText(fiberErr.Code),
						Kind:   statusKind(fiberErr.Code),
						Detail: fiberErr.Message,
					}
				case !wrapUncaught:
					return
				default:
					logger.Error("uncaught error", zap.Error(err))
					prob = NewUncaught(fmt.Sprintf("%T", err))
				}
			}

			metrics.RecordError(c.Path(), c.Method(), prob.Kind)
			if prob.Status >= 500 {
				logger.Error("request failed", zap.Error(prob))
			}

			doc := prob.Document(c.BaseURL()+c.OriginalURL(), c.BaseURL())
			c.Status(prob.Status)
			err = c.JSON(doc)
			c.Set(fiber.HeaderContentType, ContentType)
		}()
		return c.Next()
	}
}

func statusKind(code int) string {
	text := http.StatusText(code)
	if text == "" {
		return "http-error"
	}
	return strings.ToLower(strings.ReplaceAll(text, " ", "-"))
}
