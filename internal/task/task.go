package task

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/credit"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/presetlab/enhancer/internal/provider"
	"github.com/presetlab/enhancer/internal/store"
)

// TaskQueueReader provides read-only access to the task channel
// allowing workers to consume task ids without the ability to enqueue
type TaskQueueReader interface {
	// GetChannel returns a read-only channel for consuming task ids
	GetChannel() <-chan uuid.UUID
}

// CreditLedger is the part of the credit ledger the manager depends on.
// *credit.Ledger satisfies it.
type CreditLedger interface {
	// CheckAndConsume reserves amount credits or fails with
	// domain.ErrInsufficientCredits without side effects.
	CheckAndConsume(
		ctx context.Context,
		userID uuid.UUID,
		amount int,
		enhancementType domain.EnhancementType,
	) (credit.Reservation, error)

	// Refund returns credits without logging a transaction.
	Refund(ctx context.Context, userID uuid.UUID, amount int) error

	// RefundAndLog returns credits and appends the refund entry.
	RefundAndLog(ctx context.Context, entry *domain.CreditTransaction) error

	// RecordDeduction appends entry, a deduction, in the same database
	// transaction as apply. Neither is persisted unless both succeed.
	RecordDeduction(ctx context.Context, entry *domain.CreditTransaction, apply store.TxFn) error
}

// ProviderRegistry selects the provider client for a task.
// *provider.Registry satisfies it.
type ProviderRegistry interface {
	// Get returns the client named name, or the default client.
	Get(name string) provider.Client

	// Default returns the client new tasks are assigned to.
	Default() provider.Client
}

// Config tunes the manager.
type Config struct {
	// CreditsPerTask is reserved on submit and refunded on failure.
	CreditsPerTask int

	// WorkerCount determines how many concurrent workers process queued tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// SweepBatchSize caps how many pending tasks one sweep selects and
	// processes concurrently
	SweepBatchSize int

	// ProviderTimeout bounds a single provider call
	ProviderTimeout time.Duration

	// RetentionDays is the age after which completed tasks are deleted
	RetentionDays int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		CreditsPerTask:  1,
		WorkerCount:     4,
		QueueSize:       100,
		SweepBatchSize:  5,
		ProviderTimeout: 5 * time.Minute,
		RetentionDays:   30,
	}
}

// withDefaults replaces non-positive values with their defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CreditsPerTask <= 0 {
		c.CreditsPerTask = d.CreditsPerTask
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = d.SweepBatchSize
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = d.ProviderTimeout
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
	return c
}
