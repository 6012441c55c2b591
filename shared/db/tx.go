package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Executor is the subset of *sql.DB and *sql.Tx the slot stores need
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// WithTx returns a context carrying tx
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom returns the transaction carried by ctx, if any
func TxFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// ExecutorFor returns the transaction in ctx, or conn when there is none
func ExecutorFor(ctx context.Context, conn *sql.DB) Executor {
	if tx, ok := TxFrom(ctx); ok {
		return tx
	}
	return conn
}

// InTx runs fn inside a transaction. An enclosing transaction in ctx is
// joined and left for its owner to commit; otherwise a new one is started
// and committed when fn returns nil, rolled back when it does not.
func InTx(ctx context.Context, conn *sql.DB, fn func(ctx context.Context) error) error {
	if _, ok := TxFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction after error %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
