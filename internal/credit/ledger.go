package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/presetlab/enhancer/internal/platform/logger"
	"github.com/presetlab/enhancer/internal/store"
)

// ErrInvalidAmount is returned for non-positive credit amounts.
var ErrInvalidAmount = errors.New("credit amount must be positive")

// Reservation describes credits taken from a user's balance.
type Reservation struct {
	Credits int
	CostUSD float64
	// Balance is the user's balance after the reservation.
	Balance int
}

// Ledger reserves, refunds and records credits.
type Ledger struct {
	credits          store.CreditStore
	db               *sql.DB
	costPerCreditUSD float64
	logger           *slog.Logger
}

// NewLedger creates a Ledger. When db is non-nil, RefundAndLog runs the
// balance change and the transaction insert in one database transaction;
// otherwise they run as two statements.
func NewLedger(credits store.CreditStore, db *sql.DB, costPerCreditUSD float64, logger *slog.Logger) (*Ledger, error) {
	if credits == nil {
		return nil, fmt.Errorf("credit store cannot be nil")
	}
	if costPerCreditUSD < 0 {
		return nil, fmt.Errorf("cost per credit cannot be negative: %v", costPerCreditUSD)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Ledger{
		credits:          credits,
		db:               db,
		costPerCreditUSD: costPerCreditUSD,
		logger:           logger.With("component", "credit_ledger"),
	}, nil
}

// CheckAndConsume takes amount credits from the user's balance if, and only
// if, the balance covers it. It returns domain.ErrInsufficientCredits without
// changing anything otherwise.
func (l *Ledger) CheckAndConsume(
	ctx context.Context,
	userID uuid.UUID,
	amount int,
	enhancementType domain.EnhancementType,
) (Reservation, error) {
	if amount <= 0 {
		return Reservation{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	balance, err := l.credits.Consume(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			l.log(ctx).Info("credit reservation rejected",
				slog.String("user_id", userID.String()),
				slog.Int("amount", amount),
				slog.String("enhancement_type", string(enhancementType)))
			return Reservation{}, domain.ErrInsufficientCredits
		}
		return Reservation{}, fmt.Errorf("failed to reserve credits: %w", err)
	}

	l.log(ctx).Debug("credits reserved",
		slog.String("user_id", userID.String()),
		slog.Int("amount", amount),
		slog.Int("balance", balance),
		slog.String("enhancement_type", string(enhancementType)))

	return Reservation{
		Credits: amount,
		CostUSD: l.CostUSD(amount),
		Balance: balance,
	}, nil
}

// CostUSD prices amount credits.
func (l *Ledger) CostUSD(amount int) float64 {
	return float64(amount) * l.costPerCreditUSD
}

// Refund returns amount credits to the user's balance without logging a
// transaction. It is used to undo a reservation that never became a task.
func (l *Ledger) Refund(ctx context.Context, userID uuid.UUID, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	balance, err := l.credits.Refund(ctx, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}

	l.log(ctx).Info("credits refunded",
		slog.String("user_id", userID.String()),
		slog.Int("amount", amount),
		slog.Int("balance", balance))
	return nil
}

// RefundAndLog returns entry.CreditsUsed to entry.UserID and appends entry,
// which must be a refund, to the transaction log.
func (l *Ledger) RefundAndLog(ctx context.Context, entry *domain.CreditTransaction) error {
	if entry.TransactionType != domain.TransactionTypeRefund {
		return fmt.Errorf("%w: expected refund transaction, got %q", domain.ErrValidation, entry.TransactionType)
	}
	l.prepare(entry)

	if l.db == nil {
		if err := l.Refund(ctx, entry.UserID, entry.CreditsUsed); err != nil {
			return err
		}
		return l.LogTransaction(ctx, entry)
	}

	return store.RunInTransaction(ctx, l.db, func(ctx context.Context, tx *sql.Tx) error {
		credits := l.credits.WithTx(tx)
		balance, err := credits.Refund(ctx, entry.UserID, entry.CreditsUsed)
		if err != nil {
			return fmt.Errorf("failed to refund credits: %w", err)
		}
		if err := credits.InsertTransaction(ctx, entry); err != nil {
			return fmt.Errorf("failed to log refund transaction: %w", err)
		}

		l.log(ctx).Info("credits refunded",
			slog.String("user_id", entry.UserID.String()),
			slog.Int("amount", entry.CreditsUsed),
			slog.Int("balance", balance))
		return nil
	})
}

// RecordDeduction appends entry, which must be a deduction, to the
// transaction log in the same database transaction as apply, so the entry
// exists exactly when apply's writes do. apply receives the transaction;
// without a database handle it gets nil and the two writes run in sequence.
func (l *Ledger) RecordDeduction(ctx context.Context, entry *domain.CreditTransaction, apply store.TxFn) error {
	if entry.TransactionType != domain.TransactionTypeDeduction {
		return fmt.Errorf("%w: expected deduction transaction, got %q", domain.ErrValidation, entry.TransactionType)
	}
	if entry.CreditsUsed <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, entry.CreditsUsed)
	}
	l.prepare(entry)

	if l.db == nil {
		if err := apply(ctx, nil); err != nil {
			return err
		}
		return l.LogTransaction(ctx, entry)
	}

	return store.RunInTransaction(ctx, l.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := apply(ctx, tx); err != nil {
			return err
		}
		if err := l.credits.WithTx(tx).InsertTransaction(ctx, entry); err != nil {
			return fmt.Errorf("failed to log deduction transaction: %w", err)
		}
		return nil
	})
}

// LogTransaction appends entry to the transaction log.
func (l *Ledger) LogTransaction(ctx context.Context, entry *domain.CreditTransaction) error {
	if entry.CreditsUsed <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, entry.CreditsUsed)
	}
	l.prepare(entry)

	if err := l.credits.InsertTransaction(ctx, entry); err != nil {
		return fmt.Errorf("failed to log %s transaction: %w", entry.TransactionType, err)
	}
	return nil
}

// Balance returns the user's current credit account.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (*domain.UserCredits, error) {
	return l.credits.GetBalance(ctx, userID)
}

func (l *Ledger) prepare(entry *domain.CreditTransaction) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}

func (l *Ledger) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOr(ctx, l.logger)
}
