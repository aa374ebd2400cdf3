package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTxConflict reports a serialization failure under RepeatableRead. The
// losing side of two concurrent postings over the same balance-bearing rows
// gets this; callers surface it as a retryable conflict.
var ErrTxConflict = errors.New("platform/db: transaction conflict")

// WithTx executes a function within a transaction using the RepeatableRead
// isolation level. The posting engine relies on this level to serialize
// concurrent writes against the same balance-bearing rows.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// classify folds postgres serialization failures (SQLSTATE 40001) into
// ErrTxConflict. Everything else passes through unchanged.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return fmt.Errorf("%w: %s", ErrTxConflict, pgErr.Message)
	}
	return err
}
