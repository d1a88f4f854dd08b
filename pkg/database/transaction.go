package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

type Tx interface {
	Queryer
	IsOpen() bool
	// Owned reports whether this handle began the transaction. Only the owner
	// commits or rolls back; joined handles leave that to the owner.
	Owned() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction is a struct that wraps the sqlx.Tx struct and provides additional functionality
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:       tx,
		logger:   logger,
		isClosed: false,
	}
}

// GetTx joins the open transaction carried by ctx or begins a new one. The returned
// context carries the transaction so nested repository calls run inside it.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if ctxTx := TxFromContext(ctx); ctxTx != nil {
		return ctx, &joinedTx{Transaction: ctxTx}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction")
	}

	newTx := NewTx(tx, logger)
	ctx = context.WithValue(ctx, txKey, newTx)
	return ctx, newTx, nil
}

// TxFromContext returns the open transaction carried by ctx, if any
func TxFromContext(ctx context.Context) *Transaction {
	tx, ok := ctx.Value(txKey).(*Transaction)
	if !ok || tx == nil || !tx.IsOpen() {
		return nil
	}
	return tx
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and rolls back
// otherwise. When ctx already carries a transaction fn joins it.
func WithTx(ctx context.Context, db DB, fn func(ctx context.Context) error) error {
	ctx, tx, err := db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *Transaction) Owned() bool {
	return true
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed {
		return nil // already committed or rolled back
	}

	err := t.Tx.Rollback()
	t.isClosed = true
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction")
	}
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	err := t.Tx.Commit()
	t.isClosed = true
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction: %w", err)
	}
	return nil
}

// joinedTx is a nested handle on a transaction owned by an outer caller
type joinedTx struct {
	*Transaction
}

func (j *joinedTx) Owned() bool {
	return false
}

func (j *joinedTx) Commit(context.Context) error {
	return nil
}

func (j *joinedTx) Rollback(context.Context) error {
	return nil
}
