package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/approvals/approvalsd/internal/shared"
)

// serializationConflict reports whether err is the loser's side of two
// genuinely overlapping transactions: a repeatable-read serialization failure
// or a deadlock. Conditional-update guards only catch the non-overlapping
// case (a clean zero-row miss); under true overlap postgres aborts the
// blocked writer with one of these instead.
func serializationConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// WithTx executes fn inside a repeatable-read transaction. Every operation
// that touches more than one record (document + history, document + ledger,
// document + cascaded document) runs through here: either all writes commit
// or none do. Serialization failures surface as Conflict, same as a failed
// guard.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		if serializationConflict(err) {
			return fmt.Errorf("platform/db: concurrent update: %w", shared.ErrConflict)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if serializationConflict(err) {
			return fmt.Errorf("platform/db: concurrent update: %w", shared.ErrConflict)
		}
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
