package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/token-auth/internal/problem"
)

const txKey = "db_tx"

// TxBeginner starts request-scoped transactions. Satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Transaction supplies one pooled connection per request, wrapped in one
// transaction scoped to the request's full processing lifetime. Downstream
// code retrieves the handle via TxFromCtx instead of touching the pool.
//
// The transaction commits when the handler chain returns cleanly, and also
// when the escaping error is a taxonomy Problem: a rejected authentication
// attempt is an expected outcome, and the work already done on the handle (the
// expiry sweep in particular) must survive it. Any other escaping error, a
// panic or cancellation rolls back via the deferred rollback.
func Transaction(db TxBeginner, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		tx, err := db.Begin(ctx)
		if err != nil {
			// fatal to the request, not to the process
			return fmt.Errorf("acquire request transaction: %w", err)
		}
		// no-op once committed
		defer tx.Rollback(ctx) //nolint:errcheck

		c.Locals(txKey, tx)

		if err := c.Next(); err != nil {
			var prob *problem.Problem
			if errors.As(err, &prob) {
				// a statement that aborted the transaction downgrades
				// this commit to a rollback, which is the right result
				// for e.g. a value collision
				if commitErr := tx.Commit(ctx); commitErr != nil && !errors.Is(commitErr, pgx.ErrTxCommitRollback) {
					logger.Error("commit after problem failed", zap.Error(commitErr))
				}
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			logger.Error("commit failed", zap.Error(err))
			return fmt.Errorf("commit request transaction: %w", err)
		}
		return nil
	}
}

// TxFromCtx returns the transaction bound to this request, or nil when the
// transaction middleware is not installed.
func TxFromCtx(c *fiber.Ctx) pgx.Tx {
	if tx, ok := c.Locals(txKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}
