package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Transaction wraps one GORM transaction with explicit commit/rollback
// bookkeeping, so a deferred rollback after a successful commit is a
// no-op rather than an error.
type Transaction struct {
	tx       *gorm.DB
	finished bool
}

// NewTransaction begins a transaction on db.
func NewTransaction(ctx context.Context, db Database) (Transaction, error) {
	tx := db.Session(ctx).Begin()
	if tx.Error != nil {
		return Transaction{}, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return Transaction{tx: tx}, nil
}

// Session returns the transaction-bound GORM session.
func (t Transaction) Session() *gorm.DB {
	return t.tx
}

// Commit commits the transaction. No-op if already finished.
func (t *Transaction) Commit() error {
	if t.finished {
		return nil
	}
	if err := t.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	t.finished = true
	return nil
}

// Rollback rolls the transaction back. No-op if already finished.
func (t *Transaction) Rollback() error {
	if t.finished {
		return nil
	}
	if err := t.tx.Rollback().Error; err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	t.finished = true
	return nil
}

// WithTransactionResult runs fn inside a transaction and returns its
// result, committing on success and rolling back on any error. This is
// what the job store's dequeue runs its select-then-claim under, so a
// claim never commits against a candidate another worker already took.
func WithTransactionResult[T any](ctx context.Context, db Database, fn func(tx *gorm.DB) (T, error)) (T, error) {
	var result T

	txn, err := NewTransaction(ctx, db)
	if err != nil {
		return result, err
	}
	defer func() {
		if !txn.finished {
			_ = txn.Rollback()
		}
	}()

	result, err = fn(txn.Session())
	if err != nil {
		return result, err
	}
	if err := txn.Commit(); err != nil {
		return result, err
	}
	return result, nil
}
