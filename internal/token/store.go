package token

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the request-scoped data handle a store executes against. It is
// satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx, so store calls made on
// the authentication path share the request's transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists token records.
//
// GetByValue treats expired rows as absent even before CleanupExpired has
// physically removed them; callers cannot tell an expired credential from one
// that never existed. Delete is idempotent. Backends that do not use the
// request's data handle ignore the db argument.
type Store interface {
	// EnsureSchema idempotently creates the durable storage for tokens.
	// Safe to call on every process startup.
	EnsureSchema(ctx context.Context, db DB) error

	// Create persists a new token. The expiry is normalized to an absolute
	// UTC timestamp at call time. An empty value means generate one; a
	// supplied value that collides with a live token yields a conflict
	// problem.
	Create(ctx context.Context, db DB, expiry Expiry, tokenContext map[string]any, value string) (*Token, error)

	// GetByValue resolves a credential to its live token, or a
	// token-not-found problem carrying the queried value.
	GetByValue(ctx context.Context, db DB, value string) (*Token, error)

	// Delete removes the token by id. Deleting an absent token is not an
	// error.
	Delete(ctx context.Context, db DB, t *Token) error

	// CleanupExpired purges every token whose expiry is at or before now.
	// Called opportunistically on the authentication hot path so expiry
	// enforcement needs no background scheduler.
	CleanupExpired(ctx context.Context, db DB, now time.Time) error
}
