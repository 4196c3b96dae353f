package token

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/token-auth/internal/persistence"
	"github.com/spec-kit/token-auth/internal/problem"
)

const principalKey = "auth_principal"

// DefaultCredentialName is the shared name under which the credential is
// looked for in query, header and cookie.
const DefaultCredentialName = "token"

// TransformFunc converts a resolved token into an application-specific
// principal. It runs inside the request's transaction, so any reads or writes
// it performs commit or roll back with the rest of the request.
type TransformFunc func(c *fiber.Ctx, db DB, t *Token) (any, error)

// HandleFunc locates the request's data handle.
type HandleFunc func(c *fiber.Ctx) DB

// RequireConfig configures the authentication middleware. Store is mandatory;
// everything else has a sensible default.
type RequireConfig struct {
	Store     Store
	Name      string        // credential name, default "token"
	Kind      string        // optional discriminator, renames the credential to "token-{kind}"
	Transform TransformFunc // optional post-authentication transform
	Handle    HandleFunc    // default: the request transaction
	Now       func() time.Time
}

// Require produces an authenticated principal for protected routes, or fails
// the request.
//
// Per request, strictly in order: sweep expired tokens, extract a candidate
// value (query, then header, then cookie — first non-empty wins), resolve it
// against the store, optionally transform, expose the principal via Locals.
// A missing credential is token-required; a present but unresolvable one is
// token-not-found. A failing sweep fails the whole attempt, since a broken
// store is not distinguishable from an empty one.
func Require(cfg RequireConfig) fiber.Handler {
	if cfg.Store == nil {
		panic("token: Require called without a Store")
	}
	name := cfg.Name
	if name == "" {
		name = DefaultCredentialName
	}
	if cfg.Kind != "" {
		name = name + "-" + cfg.Kind
	}
	handle := cfg.Handle
	if handle == nil {
		handle = defaultHandle
	}
	now := cfg.Now
	if now == nil {
		now = utcNow
	}

	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		db := handle(c)

		// sweeping here spreads deletion cost across traffic instead of
		// a timer-driven job
		if err := cfg.Store.CleanupExpired(ctx, db, now()); err != nil {
			return err
		}

		value := c.Query(name)
		if value == "" {
			value = c.Get(name)
		}
		if value == "" {
			value = c.Cookies(name)
		}
		if value == "" {
			return problem.NewTokenRequired(name)
		}

		t, err := cfg.Store.GetByValue(ctx, db, value)
		if err != nil {
			return err
		}

		var principal any = t
		if cfg.Transform != nil {
			principal, err = cfg.Transform(c, db, t)
			if err != nil {
				return err
			}
		}

		c.Locals(principalKey, principal)
		return c.Next()
	}
}

func defaultHandle(c *fiber.Ctx) DB {
	if tx := persistence.TxFromCtx(c); tx != nil {
		return tx
	}
	return nil
}

// PrincipalFromContext retrieves the authenticated principal.
func PrincipalFromContext(c *fiber.Ctx) (any, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	return val, true
}

// FromContext retrieves the authenticated token when no transform was
// configured.
func FromContext(c *fiber.Ctx) (*Token, bool) {
	val, ok := PrincipalFromContext(c)
	if !ok {
		return nil, false
	}
	t, ok := val.(*Token)
	return t, ok
}
