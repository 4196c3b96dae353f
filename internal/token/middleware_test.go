package token

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/token-auth/internal/observability"
	"github.com/spec-kit/token-auth/internal/problem"
)

// memStore is an in-memory Store used to exercise the middleware without a
// database. It honors the same logical-absence rules as the real backends.
type memStore struct {
	mu       sync.Mutex
	tokens   map[string]*Token
	cleanups int
	now      func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{tokens: make(map[string]*Token), now: now}
}

func (s *memStore) EnsureSchema(context.Context, DB) error { return nil }

func (s *memStore) Create(_ context.Context, _ DB, expiry Expiry, tokenContext map[string]any, value string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		generated, err := NewValue()
		if err != nil {
			return nil, err
		}
		value = generated
	}
	if _, exists := s.tokens[value]; exists {
		return nil, problem.NewConflict("a token with the supplied value already exists", nil)
	}
	if tokenContext == nil {
		tokenContext = map[string]any{}
	}
	now := s.now()
	t := &Token{CreatedAt: now, ExpiresAt: expiry.Resolve(now), Value: value, Context: tokenContext}
	s.tokens[value] = t
	return t, nil
}

func (s *memStore) GetByValue(_ context.Context, _ DB, value string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[value]
	if !ok || t.Expired(s.now()) {
		return nil, problem.NewTokenNotFound(value)
	}
	return t, nil
}

func (s *memStore) Delete(_ context.Context, _ DB, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, t.Value)
	return nil
}

func (s *memStore) CleanupExpired(_ context.Context, _ DB, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups++
	for value, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, value)
		}
	}
	return nil
}

func (s *memStore) contains(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[value]
	return ok
}

type problemBody struct {
	Status   int    `json:"status"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
	Type     string `json:"type"`
}

func newAuthApp(cfg RequireConfig) *fiber.App {
	app := fiber.New()
	app.Use(problem.Handler(zap.NewNop(), observability.NewMetrics(), true))
	cfg.Handle = func(*fiber.Ctx) DB { return nil }

	app.Get("/protected", Require(cfg), func(c *fiber.Ctx) error {
		t, ok := FromContext(c)
		if !ok {
			principal, _ := PrincipalFromContext(c)
			return c.JSON(fiber.Map{"principal": principal})
		}
		return c.JSON(fiber.Map{"value": t.Value, "context": t.Context})
	})
	return app
}

func decodeProblem(t *testing.T, resp *http.Response) problemBody {
	t.Helper()
	assert.Equal(t, problem.ContentType, resp.Header.Get(fiber.HeaderContentType))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var pb problemBody
	require.NoError(t, json.Unmarshal(body, &pb))
	return pb
}

func TestRequireMissingCredential(t *testing.T) {
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore(func() time.Time { return now })
	app := newAuthApp(RequireConfig{Store: store, Now: func() time.Time { return now }})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/protected", nil), -1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	pb := decodeProblem(t, resp)
	assert.Equal(t, 400, pb.Status)
	assert.Equal(t, "token", pb.Detail)
	assert.Contains(t, pb.Type, "/problem/token-required")
	assert.Equal(t, 1, store.cleanups, "the sweep runs even when no credential is present")
}

func TestRequireUnknownCredential(t *testing.T) {
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore(func() time.Time { return now })
	app := newAuthApp(RequireConfig{Store: store, Now: func() time.Time { return now }})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("token", "E0o9ffwiVZKqV51uJ5lvoe2BG3ge8lKJ")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	pb := decodeProblem(t, resp)
	assert.Equal(t, "E0o9ffwiVZKqV51uJ5lvoe2BG3ge8lKJ", pb.Detail, "detail echoes the submitted value")
	assert.Contains(t, pb.Type, "/problem/token-not-found")
}

func TestRequireByHeaderQueryAndCookie(t *testing.T) {
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore(func() time.Time { return now })
	app := newAuthApp(RequireConfig{Store: store, Now: func() time.Time { return now }})

	tok, err := store.Create(context.Background(), nil, ExpiresInSeconds(60), map[string]any{"email": "a@b.com"}, "")
	require.NoError(t, err)

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("token", tok.Value)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("query", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/protected?token="+tok.Value, nil), -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.AddCookie(&http.Cookie{Name: "token", Value: tok.Value})
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRequireQueryTakesPrecedenceOverHeader(t *testing.T) {
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore(func() time.Time { return now })
	app := newAuthApp(RequireConfig{Store: store, Now: func() time.Time { return now }})

	queryTok, err := store.Create(context.Background(), nil, ExpiresInSeconds(60), nil, "from-query")
	require.NoError(t, err)
	_, err = store.Create(context.Background(), nil, ExpiresInSeconds(60), nil, "from-header")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected?token="+queryTok.Value, nil)
	req.Header.Set("token", "from-header")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload struct {
		Value string `json:"value"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "from-query", payload.Value)
}

func TestRequireKindDiscriminator(t *testing.T) {
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore(func() time.Time { return now })
	app := newAuthApp(RequireConfig{Store: store, Kind: "session", Now: func() time.Time { return now }})

	tok, err := store.Create(context.Background(), nil, ExpiresInSeconds(60), nil, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("token-session", tok.Value)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// the undiscriminated name is not consulted
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("token", tok.Value)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	pb := decodeProblem(t, resp)
	assert.Equal(t, "token-session", pb.Detail)
}

func TestRequireTransform(t *testing.T) {
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore(func() time.Time { return now })

	transform := func(_ *fiber.Ctx, _ DB, tok *Token) (any, error) {
		return map[string]any{"email": tok.Context["email"]}, nil
	}
	app := newAuthApp(RequireConfig{Store: store, Transform: transform, Now: func() time.Time { return now }})

	tok, err := store.Create(context.Background(), nil, ExpiresInSeconds(60), map[string]any{"email": "a@b.com"}, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("token", tok.Value)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload struct {
		Principal map[string]any `json:"principal"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "a@b.com", payload.Principal["email"])
}

func TestRequireTransformError(t *testing.T) {
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore(func() time.Time { return now })

	transform := func(_ *fiber.Ctx, _ DB, _ *Token) (any, error) {
		return nil, problem.NewPermissionMissing("no account for this token")
	}
	app := newAuthApp(RequireConfig{Store: store, Transform: transform, Now: func() time.Time { return now }})

	tok, err := store.Create(context.Background(), nil, ExpiresInSeconds(60), nil, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("token", tok.Value)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	pb := decodeProblem(t, resp)
	assert.Contains(t, pb.Type, "/problem/permission-missing")
}

func TestRequireExpiredTokenIsSwept(t *testing.T) {
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	nowFn := func() time.Time { return *clock }

	store := newMemStore(nowFn)
	app := newAuthApp(RequireConfig{Store: store, Now: nowFn})

	tok, err := store.Create(context.Background(), nil, ExpiresInSeconds(60), map[string]any{"email": "a@b.com"}, "")
	require.NoError(t, err)

	// at issuance time the token resolves
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("token", tok.Value)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload struct {
		Context map[string]any `json:"context"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "a@b.com", payload.Context["email"])

	// one second past expiry the same request is rejected and the row is
	// physically gone, swept during this request's cleanup call
	later := now.Add(61 * time.Second)
	clock = &later

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("token", tok.Value)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	pb := decodeProblem(t, resp)
	assert.Equal(t, tok.Value, pb.Detail)
	assert.False(t, store.contains(tok.Value), "row must be purged by the inline sweep")
}

func TestRequireWithoutStorePanics(t *testing.T) {
	assert.Panics(t, func() { Require(RequireConfig{}) })
}
