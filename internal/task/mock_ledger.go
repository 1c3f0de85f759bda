package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/credit"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/presetlab/enhancer/internal/store"
)

// MockLedger is an in-memory CreditLedger for tests. Balances change under
// one lock, so concurrent reservations never overdraw.
type MockLedger struct {
	mutex        sync.Mutex
	balances     map[uuid.UUID]int
	transactions []domain.CreditTransaction

	// CostPerCredit prices reservations.
	CostPerCredit float64

	// ConsumeErr and RefundErr force the matching call to fail. LogErr fails
	// every call that appends to the transaction log.
	ConsumeErr error
	RefundErr  error
	LogErr     error

	// RefundCalls counts Refund and RefundAndLog calls, failed ones included.
	RefundCalls int
}

var _ CreditLedger = (*MockLedger)(nil)

// NewMockLedger creates a ledger pricing credits at 0.10 USD.
func NewMockLedger() *MockLedger {
	return &MockLedger{
		balances:      make(map[uuid.UUID]int),
		CostPerCredit: 0.10,
	}
}

// SetBalance sets the user's balance.
func (l *MockLedger) SetBalance(userID uuid.UUID, balance int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.balances[userID] = balance
}

// Balance returns the user's balance.
func (l *MockLedger) Balance(userID uuid.UUID) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.balances[userID]
}

// Transactions returns the logged entries for taskID, in order.
func (l *MockLedger) Transactions(taskID uuid.UUID) []domain.CreditTransaction {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	var out []domain.CreditTransaction
	for _, txn := range l.transactions {
		if txn.TaskID != nil && *txn.TaskID == taskID {
			out = append(out, txn)
		}
	}
	return out
}

// TransactionCount returns the number of logged entries.
func (l *MockLedger) TransactionCount() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.transactions)
}

// CheckAndConsume implements CreditLedger.
func (l *MockLedger) CheckAndConsume(
	_ context.Context,
	userID uuid.UUID,
	amount int,
	_ domain.EnhancementType,
) (credit.Reservation, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.ConsumeErr != nil {
		return credit.Reservation{}, l.ConsumeErr
	}
	if l.balances[userID] < amount {
		return credit.Reservation{}, domain.ErrInsufficientCredits
	}
	l.balances[userID] -= amount
	return credit.Reservation{
		Credits: amount,
		CostUSD: float64(amount) * l.CostPerCredit,
		Balance: l.balances[userID],
	}, nil
}

// Refund implements CreditLedger.
func (l *MockLedger) Refund(_ context.Context, userID uuid.UUID, amount int) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.RefundCalls++
	if l.RefundErr != nil {
		return l.RefundErr
	}
	l.balances[userID] += amount
	return nil
}

// RefundAndLog implements CreditLedger.
func (l *MockLedger) RefundAndLog(_ context.Context, entry *domain.CreditTransaction) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.RefundCalls++
	if l.RefundErr != nil {
		return l.RefundErr
	}
	if l.LogErr != nil {
		return l.LogErr
	}
	l.balances[entry.UserID] += entry.CreditsUsed
	l.transactions = append(l.transactions, *entry)
	return nil
}

// RecordDeduction implements CreditLedger. Like the SQL ledger it is all or
// nothing: with LogErr set, apply never runs.
func (l *MockLedger) RecordDeduction(ctx context.Context, entry *domain.CreditTransaction, apply store.TxFn) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.LogErr != nil {
		return l.LogErr
	}
	if err := apply(ctx, nil); err != nil {
		return err
	}
	l.transactions = append(l.transactions, *entry)
	return nil
}
