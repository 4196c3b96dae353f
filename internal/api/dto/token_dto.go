package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/token-auth/internal/token"
)

// IssueTokenRequest is the payload for POST /tokens. Exactly one of
// expires_at and expires_in may be supplied; omitting both falls back to the
// configured default TTL.
type IssueTokenRequest struct {
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	ExpiresIn int            `json:"expires_in,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Value     string         `json:"value,omitempty"`
}

// TokenResponse mirrors a stored token, including the credential value the
// caller will present on subsequent requests.
type TokenResponse struct {
	ID        uuid.UUID      `json:"id"`
	Value     string         `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Context   map[string]any `json:"context"`
}

// NewTokenResponse converts a token record.
func NewTokenResponse(t *token.Token) TokenResponse {
	return TokenResponse{
		ID:        t.ID,
		Value:     t.Value,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
		Context:   t.Context,
	}
}
