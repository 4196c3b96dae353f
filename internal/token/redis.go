package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/token-auth/internal/problem"
)

const redisKeyPrefix = "token:"

// RedisStore keeps token records in Redis, mapping record expiry onto native
// key TTLs. CleanupExpired is a no-op because Redis evicts expired keys
// itself; the middleware's sweep call still runs but has nothing to do. The
// per-request data handle is ignored.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore constructs the store around an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: utcNow}
}

func (s *RedisStore) key(value string) string {
	return redisKeyPrefix + value
}

func (s *RedisStore) EnsureSchema(ctx context.Context, _ DB) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Create(ctx context.Context, _ DB, expiry Expiry, tokenContext map[string]any, value string) (*Token, error) {
	if value == "" {
		generated, err := NewValue()
		if err != nil {
			return nil, err
		}
		value = generated
	}
	if tokenContext == nil {
		tokenContext = map[string]any{}
	}

	now := s.now()
	t := &Token{
		ID:        uuid.New(),
		CreatedAt: now,
		ExpiresAt: expiry.Resolve(now),
		Value:     value,
		Context:   tokenContext,
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode token: %w", err)
	}

	ttl := t.ExpiresAt.Sub(now)
	if ttl <= 0 {
		// an already-expired record still has to be written so creation
		// succeeds; the minimal TTL makes it vanish immediately after
		ttl = time.Millisecond
	}

	ok, err := s.client.SetNX(ctx, s.key(value), payload, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	if !ok {
		return nil, problem.NewConflict("a token with the supplied value already exists", nil)
	}
	return t, nil
}

func (s *RedisStore) GetByValue(ctx context.Context, _ DB, value string) (*Token, error) {
	data, err := s.client.Get(ctx, s.key(value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, problem.NewTokenNotFound(value)
		}
		return nil, fmt.Errorf("get token by value: %w", err)
	}

	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	// guard against a key Redis has not evicted yet
	if t.Expired(s.now()) {
		return nil, problem.NewTokenNotFound(value)
	}
	return &t, nil
}

func (s *RedisStore) Delete(ctx context.Context, _ DB, t *Token) error {
	if err := s.client.Del(ctx, s.key(t.Value)).Err(); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *RedisStore) CleanupExpired(ctx context.Context, _ DB, _ time.Time) error {
	return nil
}
