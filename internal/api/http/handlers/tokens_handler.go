package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/token-auth/internal/api/dto"
	"github.com/spec-kit/token-auth/internal/config"
	"github.com/spec-kit/token-auth/internal/persistence"
	"github.com/spec-kit/token-auth/internal/problem"
	"github.com/spec-kit/token-auth/internal/token"
)

// AdminKeyHeader carries the issuance API's admin credential.
const AdminKeyHeader = "X-Admin-Key"

// Principal is the identity a token context describes. It is what protected
// handlers see once the transform has run.
type Principal struct {
	Email       string         `json:"email"`
	Permissions []string       `json:"permissions"`
	Context     map[string]any `json:"context"`
}

// PrincipalFromToken is the post-authentication transform: it unpacks the
// token context into a Principal. A real deployment would load the user row
// here through the same request transaction.
func PrincipalFromToken(_ *fiber.Ctx, _ token.DB, t *token.Token) (any, error) {
	p := &Principal{Context: t.Context}
	if email, ok := t.Context["email"].(string); ok {
		p.Email = email
	}
	p.Permissions = ContextPermissions(t.Context)
	return p, nil
}

// ContextPermissions reads the "permissions" claim out of a token context.
func ContextPermissions(tokenContext map[string]any) []string {
	raw, ok := tokenContext["permissions"].([]any)
	if !ok {
		return nil
	}
	perms := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			perms = append(perms, s)
		}
	}
	return perms
}

// TokensHandler exposes the token management API.
type TokensHandler struct {
	store        token.Store
	defaultTTL   time.Duration
	adminKeyHash string
}

// NewTokensHandler constructs handler.
func NewTokensHandler(store token.Store, cfg config.TokenConfig) *TokensHandler {
	return &TokensHandler{
		store:        store,
		defaultTTL:   cfg.DefaultTTL(),
		adminKeyHash: cfg.AdminKeyHash,
	}
}

// Issue handles POST /tokens.
func (h *TokensHandler) Issue(c *fiber.Ctx) error {
	if h.adminKeyHash != "" {
		key := c.Get(AdminKeyHeader)
		if bcrypt.CompareHashAndPassword([]byte(h.adminKeyHash), []byte(key)) != nil {
			return problem.NewPermissionMissing("token issuance requires a valid admin key")
		}
	}

	var req dto.IssueTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	var expiry token.Expiry
	switch {
	case req.ExpiresAt != nil:
		expiry = token.ExpiresAt(*req.ExpiresAt)
	case req.ExpiresIn > 0:
		expiry = token.ExpiresInSeconds(req.ExpiresIn)
	default:
		expiry = token.ExpiresIn(h.defaultTTL)
	}

	t, err := h.store.Create(c.UserContext(), persistence.TxFromCtx(c), expiry, req.Context, req.Value)
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTokenResponse(t)})
}

// RevokeCurrent handles DELETE /tokens/current, deleting the token that
// authenticated this request.
func (h *TokensHandler) RevokeCurrent(c *fiber.Ctx) error {
	t, ok := token.FromContext(c)
	if !ok {
		return problem.NewTokenRequired(token.DefaultCredentialName)
	}
	if err := h.store.Delete(c.UserContext(), persistence.TxFromCtx(c), t); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Whoami handles GET /whoami, reflecting the transformed principal.
func (h *TokensHandler) Whoami(c *fiber.Ctx) error {
	val, ok := token.PrincipalFromContext(c)
	if !ok {
		return problem.NewTokenRequired(token.DefaultCredentialName)
	}
	principal, ok := val.(*Principal)
	if !ok {
		return problem.NewUncaught("handlers.unexpectedPrincipal")
	}
	return c.JSON(fiber.Map{"data": principal})
}
