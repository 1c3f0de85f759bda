package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/presetlab/enhancer/internal/platform/logger"
	"github.com/presetlab/enhancer/internal/store"
)

// PostgresCreditStore implements store.CreditStore.
type PostgresCreditStore struct {
	db store.DBTX
}

// NewPostgresCreditStore creates a new PostgreSQL implementation of the
// CreditStore interface.
func NewPostgresCreditStore(db store.DBTX) *PostgresCreditStore {
	return &PostgresCreditStore{db: db}
}

// Ensure PostgresCreditStore implements store.CreditStore
var _ store.CreditStore = (*PostgresCreditStore)(nil)

// WithTx returns a new store instance that uses the provided transaction.
func (s *PostgresCreditStore) WithTx(tx *sql.Tx) store.CreditStore {
	return &PostgresCreditStore{db: tx}
}

// Consume implements store.CreditStore.
func (s *PostgresCreditStore) Consume(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: credit amount must be positive, got %d", store.ErrInvalidEntity, amount)
	}

	var balance int
	err := s.db.QueryRowContext(ctx, `
		UPDATE user_credits
		SET balance = balance - $2,
			lifetime_consumed = lifetime_consumed + $2,
			updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance`, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrInsufficientCredits
		}
		logger.FromContext(ctx).Error("failed to consume credits",
			slog.String("user_id", userID.String()),
			slog.Int("amount", amount),
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	return balance, nil
}

// Refund implements store.CreditStore via the refund_user_credits database
// function, which returns NULL when the user has no account.
func (s *PostgresCreditStore) Refund(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: credit amount must be positive, got %d", store.ErrInvalidEntity, amount)
	}

	var balance sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT refund_user_credits($1, $2)`, userID, amount).Scan(&balance)
	if err != nil {
		logger.FromContext(ctx).Error("failed to refund credits",
			slog.String("user_id", userID.String()),
			slog.Int("amount", amount),
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}
	if !balance.Valid {
		return 0, store.ErrCreditAccountNotFound
	}

	return int(balance.Int64), nil
}

// GetBalance implements store.CreditStore.
func (s *PostgresCreditStore) GetBalance(ctx context.Context, userID uuid.UUID) (*domain.UserCredits, error) {
	var credits domain.UserCredits
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, lifetime_consumed, updated_at
		FROM user_credits
		WHERE user_id = $1`, userID).Scan(
		&credits.UserID,
		&credits.Balance,
		&credits.LifetimeConsumed,
		&credits.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrCreditAccountNotFound
		}
		return nil, MapError(err)
	}

	return &credits, nil
}

// InsertTransaction implements store.CreditStore.
func (s *PostgresCreditStore) InsertTransaction(ctx context.Context, txn *domain.CreditTransaction) error {
	if txn.CreditsUsed <= 0 {
		return fmt.Errorf("%w: credits_used must be positive", store.ErrInvalidEntity)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			id, user_id, moodboard_id, task_id, transaction_type, credits_used,
			cost_usd, provider, enhancement_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txn.ID,
		txn.UserID,
		nullUUID(txn.MoodboardID),
		nullUUID(txn.TaskID),
		string(txn.TransactionType),
		txn.CreditsUsed,
		txn.CostUSD,
		txn.Provider,
		string(txn.EnhancementType),
		txn.CreatedAt,
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert credit transaction",
			slog.String("user_id", txn.UserID.String()),
			slog.String("type", string(txn.TransactionType)),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	return nil
}

// ListTransactionsByTask implements store.CreditStore.
func (s *PostgresCreditStore) ListTransactionsByTask(
	ctx context.Context,
	taskID uuid.UUID,
) ([]*domain.CreditTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, moodboard_id, task_id, transaction_type, credits_used,
			cost_usd, provider, enhancement_type, created_at
		FROM credit_transactions
		WHERE task_id = $1
		ORDER BY created_at ASC, id`, taskID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	txns := make([]*domain.CreditTransaction, 0)
	for rows.Next() {
		var (
			txn             domain.CreditTransaction
			moodboardID     uuid.NullUUID
			rowTaskID       uuid.NullUUID
			transactionType string
			enhancementType string
		)
		if err := rows.Scan(
			&txn.ID,
			&txn.UserID,
			&moodboardID,
			&rowTaskID,
			&transactionType,
			&txn.CreditsUsed,
			&txn.CostUSD,
			&txn.Provider,
			&enhancementType,
			&txn.CreatedAt,
		); err != nil {
			return nil, MapError(err)
		}

		txn.TransactionType = domain.TransactionType(transactionType)
		txn.EnhancementType = domain.EnhancementType(enhancementType)
		if moodboardID.Valid {
			id := moodboardID.UUID
			txn.MoodboardID = &id
		}
		if rowTaskID.Valid {
			id := rowTaskID.UUID
			txn.TaskID = &id
		}
		txns = append(txns, &txn)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return txns, nil
}
