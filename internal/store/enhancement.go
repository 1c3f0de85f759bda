package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
)

// EnhancementTaskStore persists enhancement tasks. Every status-changing
// method is conditional on the task's current status, so two callers racing
// on the same row can never both succeed.
type EnhancementTaskStore interface {
	// Create saves a new task. The task must be pending.
	Create(ctx context.Context, task *domain.EnhancementTask) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.EnhancementTask, error)

	// ListByUser returns up to limit tasks owned by userID, most recent first.
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.EnhancementTask, error)

	// ListPending returns up to limit pending tasks, oldest first.
	ListPending(ctx context.Context, limit int) ([]*domain.EnhancementTask, error)

	// Claim atomically moves a task from pending to processing and returns
	// the claimed row. Returns ErrStaleStatus if the task is no longer pending
	// and ErrTaskNotFound if it does not exist.
	Claim(ctx context.Context, id uuid.UUID) (*domain.EnhancementTask, error)

	// Complete moves a processing task to completed, recording the result
	// URL, the provider's task reference and the reported cost.
	// Returns ErrStaleStatus if the task is not processing.
	Complete(ctx context.Context, id uuid.UUID, resultURL string, apiTaskID string, costUSD float64) error

	// Fail moves a processing task to failed with the given message.
	// Returns ErrStaleStatus if the task is not processing.
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error

	// DeleteCompletedBefore removes completed tasks created before cutoff
	// and returns how many rows were deleted. Other statuses are never touched.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// WithTx returns a new EnhancementTaskStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) EnhancementTaskStore
}
