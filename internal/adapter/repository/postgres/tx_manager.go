package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is what pgx.Tx and the pool have in common.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgxPool is satisfied by *pgxpool.Pool and pgxmock pools.
type pgxPool interface {
	querier
	Begin(context.Context) (pgx.Tx, error)
}

// TxManager runs units of work in a database transaction.
type TxManager struct {
	pool    pgxPool
	retrier *Retrier
}

// NewTxManager creates a new TxManager.
func NewTxManager(pool *pgxpool.Pool, retrier *Retrier) *TxManager {
	return newTxManagerWithPool(pool, retrier)
}

func newTxManagerWithPool(pool pgxPool, retrier *Retrier) *TxManager {
	return &TxManager{pool: pool, retrier: retrier}
}

// Begin starts a new transaction.
func (m *TxManager) Begin(ctx context.Context) (*Tx, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}

	return &Tx{tx: tx}, nil
}

// InTx runs fn in a transaction, committing on success. Deadlocks and
// serialization failures rerun the whole transaction.
func (m *TxManager) InTx(ctx context.Context, fn func(q querier) error) error {
	run := func() error {
		tx, err := m.Begin(ctx)
		if err != nil {
			return err
		}

		if err := fn(tx.tx); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				return errors.Join(err, rbErr)
			}
			return err
		}

		return tx.Commit(ctx)
	}

	if m.retrier == nil {
		return run()
	}
	return m.retrier.Retry(ctx, run)
}

// Tx wraps a pgx transaction.
type Tx struct {
	tx pgx.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// PgxTx returns the underlying pgx.Tx.
func (t *Tx) PgxTx() pgx.Tx {
	return t.tx
}
