package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
)

// CreditStore persists user balances and the credit transaction log.
// Balance changes are single atomic statements; callers never read a
// balance and write it back.
type CreditStore interface {
	// Consume decrements the balance by amount only if the balance covers it,
	// and returns the balance after the change. Returns
	// domain.ErrInsufficientCredits when it does not. A user without an
	// account has a zero balance and gets the same error.
	Consume(ctx context.Context, userID uuid.UUID, amount int) (int, error)

	// Refund increments the balance and decrements the lifetime-consumed
	// counter by amount, returning the balance after the change.
	Refund(ctx context.Context, userID uuid.UUID, amount int) (int, error)

	// GetBalance returns the user's credit account.
	// Returns ErrCreditAccountNotFound when the user has no account.
	GetBalance(ctx context.Context, userID uuid.UUID) (*domain.UserCredits, error)

	// InsertTransaction appends a transaction to the credit log.
	InsertTransaction(ctx context.Context, tx *domain.CreditTransaction) error

	// ListTransactionsByTask returns all transactions recorded for a task,
	// oldest first.
	ListTransactionsByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.CreditTransaction, error)

	// WithTx returns a new CreditStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) CreditStore
}
