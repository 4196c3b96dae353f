package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/token-auth/internal/problem"
)

const pgUniqueViolation = "23505"

// PostgresStore keeps token records in a single Postgres table.
type PostgresStore struct {
	now func() time.Time
}

// NewPostgresStore constructs the store.
func NewPostgresStore() *PostgresStore {
	return &PostgresStore{now: utcNow}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context, db DB) error {
	const query = `
        CREATE TABLE IF NOT EXISTS token (
            id uuid PRIMARY KEY,
            created_at timestamptz NOT NULL DEFAULT date_trunc('second', now()),
            expires_at timestamptz NOT NULL,
            value text NOT NULL UNIQUE,
            context jsonb NOT NULL DEFAULT '{}'::jsonb
        )`
	if _, err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure token schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, db DB, expiry Expiry, tokenContext map[string]any, value string) (*Token, error) {
	const query = `
        INSERT INTO token (id, created_at, expires_at, value, context)
        VALUES ($1,$2,$3,$4,$5)`

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
	ctxJSON, err := json.Marshal(tokenContext)
	if err != nil {
		return nil, fmt.Errorf("encode token context: %w", err)
	}

	now := s.now()
	t := &Token{
		ID:        uuid.New(),
		CreatedAt: now,
		ExpiresAt: expiry.Resolve(now),
		Value:     value,
		Context:   tokenContext,
	}

	if _, err := db.Exec(ctx, query, t.ID, t.CreatedAt, t.ExpiresAt, t.Value, ctxJSON); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, problem.NewConflict("a token with the supplied value already exists", nil)
		}
		return nil, fmt.Errorf("create token: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetByValue(ctx context.Context, db DB, value string) (*Token, error) {
	// expired rows are logically absent even before the sweep removes them
	const query = `
        SELECT id, created_at, expires_at, value, context
        FROM token WHERE value=$1 AND expires_at > $2`

	var t Token
	var ctxJSON []byte
	err := db.QueryRow(ctx, query, value, s.now()).Scan(
		&t.ID,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.Value,
		&ctxJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, problem.NewTokenNotFound(value)
		}
		return nil, fmt.Errorf("get token by value: %w", err)
	}

	if err := json.Unmarshal(ctxJSON, &t.Context); err != nil {
		return nil, fmt.Errorf("decode token context: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) Delete(ctx context.Context, db DB, t *Token) error {
	const query = `
        DELETE FROM token WHERE id=$1`
	if _, err := db.Exec(ctx, query, t.ID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *PostgresStore) CleanupExpired(ctx context.Context, db DB, now time.Time) error {
	const query = `
        DELETE FROM token WHERE expires_at <= $1`
	if _, err := db.Exec(ctx, query, now); err != nil {
		return fmt.Errorf("cleanup expired tokens: %w", err)
	}
	return nil
}
