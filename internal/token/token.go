// Package token implements opaque, expiring, server-issued credentials: a
// durable store for token records and the request middleware that resolves
// them into principals.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Token is an opaque expiring credential plus an application-defined context
// payload. Tokens are immutable once issued; refreshing means issuing a new
// token and deleting the old one.
type Token struct {
	ID        uuid.UUID      `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Value     string         `json:"value"`
	Context   map[string]any `json:"context"`
}

// Expired reports whether the token is logically absent at the given time.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Expiry resolves to an absolute expiry timestamp at creation time.
type Expiry interface {
	Resolve(now time.Time) time.Time
}

type absoluteExpiry time.Time

func (e absoluteExpiry) Resolve(time.Time) time.Time { return time.Time(e).UTC() }

type ttlExpiry time.Duration

func (e ttlExpiry) Resolve(now time.Time) time.Time { return now.Add(time.Duration(e)) }

// ExpiresAt expires the token at a fixed timestamp.
func ExpiresAt(t time.Time) Expiry { return absoluteExpiry(t) }

// ExpiresIn expires the token a duration after creation.
func ExpiresIn(d time.Duration) Expiry { return ttlExpiry(d) }

// ExpiresInSeconds expires the token a number of seconds after creation.
func ExpiresInSeconds(n int) Expiry { return ttlExpiry(time.Duration(n) * time.Second) }

// NewValue generates a cryptographically random URL-safe credential string
// with 256 bits of entropy.
func NewValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// utcNow returns the current time in UTC, truncated to whole seconds to match
// the stored precision of created_at.
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
