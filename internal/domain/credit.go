package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a credit movement.
type TransactionType string

// Credit transaction types
const (
	TransactionTypeDeduction TransactionType = "deduction"
	TransactionTypeRefund    TransactionType = "refund"
)

// CreditTransaction is one append-only ledger entry. Every credit movement
// made by the pipeline produces exactly one of these.
type CreditTransaction struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	MoodboardID     *uuid.UUID      `json:"moodboard_id,omitempty"`
	TaskID          *uuid.UUID      `json:"task_id,omitempty"`
	TransactionType TransactionType `json:"transaction_type"`
	CreditsUsed     int             `json:"credits_used"`
	CostUSD         float64         `json:"cost_usd"`
	Provider        string          `json:"provider"`
	EnhancementType EnhancementType `json:"enhancement_type"`
	CreatedAt       time.Time       `json:"created_at"`
}

// UserCredits is a user's spendable balance.
type UserCredits struct {
	UserID           uuid.UUID `json:"user_id"`
	Balance          int       `json:"balance"`
	LifetimeConsumed int       `json:"lifetime_consumed"`
	UpdatedAt        time.Time `json:"updated_at"`
}
