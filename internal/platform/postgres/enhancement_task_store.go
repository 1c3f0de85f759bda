package postgres

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

const taskColumns = `id, user_id, moodboard_id, input_image_url, enhancement_type, prompt,
	strength, status, provider, api_task_id, result_url, cost_usd, error_message,
	created_at, updated_at`

// PostgresEnhancementTaskStore implements store.EnhancementTaskStore.
type PostgresEnhancementTaskStore struct {
	db store.DBTX
}

// NewPostgresEnhancementTaskStore creates a new PostgreSQL implementation of
// the EnhancementTaskStore interface. db may be a *sql.DB or a *sql.Tx.
func NewPostgresEnhancementTaskStore(db store.DBTX) *PostgresEnhancementTaskStore {
	return &PostgresEnhancementTaskStore{db: db}
}

// Ensure PostgresEnhancementTaskStore implements store.EnhancementTaskStore
var _ store.EnhancementTaskStore = (*PostgresEnhancementTaskStore)(nil)

// WithTx returns a new store instance that uses the provided transaction.
func (s *PostgresEnhancementTaskStore) WithTx(tx *sql.Tx) store.EnhancementTaskStore {
	return &PostgresEnhancementTaskStore{db: tx}
}

// Create implements store.EnhancementTaskStore.
func (s *PostgresEnhancementTaskStore) Create(ctx context.Context, task *domain.EnhancementTask) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	if task.Status != domain.TaskStatusPending {
		return fmt.Errorf("%w: new tasks must be pending, got %s", store.ErrInvalidEntity, task.Status)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enhancement_tasks (
			id, user_id, moodboard_id, input_image_url, enhancement_type, prompt,
			strength, status, provider, cost_usd, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		task.ID,
		task.UserID,
		nullUUID(task.MoodboardID),
		task.InputImageURL,
		string(task.EnhancementType),
		task.Prompt,
		task.Strength,
		string(task.Status),
		task.Provider,
		task.CostUSD,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to insert enhancement task",
			slog.String("task_id", task.ID.String()),
			slog.String("user_id", task.UserID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	log.Debug("enhancement task created", slog.String("task_id", task.ID.String()))
	return nil
}

// GetByID implements store.EnhancementTaskStore.
func (s *PostgresEnhancementTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.EnhancementTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM enhancement_tasks WHERE id = $1`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContext(ctx).Error("failed to get enhancement task",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return task, nil
}

// ListByUser implements store.EnhancementTaskStore.
func (s *PostgresEnhancementTaskStore) ListByUser(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
) ([]*domain.EnhancementTask, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM enhancement_tasks
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, userID, limit)
}

// ListPending implements store.EnhancementTaskStore.
func (s *PostgresEnhancementTaskStore) ListPending(ctx context.Context, limit int) ([]*domain.EnhancementTask, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM enhancement_tasks
		WHERE status = 'pending'
		ORDER BY created_at ASC, id
		LIMIT $1`, limit)
}

// Claim implements store.EnhancementTaskStore. The status check and the
// update happen in one statement, so at most one caller wins a given task.
func (s *PostgresEnhancementTaskStore) Claim(ctx context.Context, id uuid.UUID) (*domain.EnhancementTask, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE enhancement_tasks
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING `+taskColumns, id, time.Now().UTC())

	task, err := scanTask(row)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		logger.FromContext(ctx).Error("failed to claim enhancement task",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return nil, s.missOrStale(ctx, id)
}

// Complete implements store.EnhancementTaskStore.
func (s *PostgresEnhancementTaskStore) Complete(
	ctx context.Context,
	id uuid.UUID,
	resultURL string,
	apiTaskID string,
	costUSD float64,
) error {
	if resultURL == "" {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrResultURLMismatch)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE enhancement_tasks
		SET status = 'completed',
			result_url = $2,
			api_task_id = NULLIF($3, ''),
			cost_usd = $4,
			updated_at = $5
		WHERE id = $1 AND status = 'processing'`,
		id, resultURL, apiTaskID, costUSD, time.Now().UTC())
	if err != nil {
		logger.FromContext(ctx).Error("failed to complete enhancement task",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	return s.checkTransition(ctx, id, result)
}

// Fail implements store.EnhancementTaskStore.
func (s *PostgresEnhancementTaskStore) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	if errorMessage == "" {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrErrorMsgMismatch)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE enhancement_tasks
		SET status = 'failed',
			error_message = $2,
			updated_at = $3
		WHERE id = $1 AND status = 'processing'`,
		id, errorMessage, time.Now().UTC())
	if err != nil {
		logger.FromContext(ctx).Error("failed to mark enhancement task failed",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	return s.checkTransition(ctx, id, result)
}

// DeleteCompletedBefore implements store.EnhancementTaskStore.
func (s *PostgresEnhancementTaskStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM enhancement_tasks
		WHERE status = 'completed' AND created_at < $1`, cutoff.UTC())
	if err != nil {
		logger.FromContext(ctx).Error("failed to delete completed enhancement tasks",
			slog.Time("cutoff", cutoff),
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	return CheckRowsAffected(result, nil)
}

func (s *PostgresEnhancementTaskStore) checkTransition(ctx context.Context, id uuid.UUID, result sql.Result) error {
	n, err := CheckRowsAffected(result, nil)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	return s.missOrStale(ctx, id)
}

// missOrStale explains a conditional update that matched no rows.
func (s *PostgresEnhancementTaskStore) missOrStale(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM enhancement_tasks WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return MapError(err)
	}
	if !exists {
		return store.ErrTaskNotFound
	}
	return store.ErrStaleStatus
}

func (s *PostgresEnhancementTaskStore) queryTasks(
	ctx context.Context,
	query string,
	args ...any,
) ([]*domain.EnhancementTask, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query enhancement tasks", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.Warn("failed to close rows", slog.String("error", cerr.Error()))
		}
	}()

	tasks := make([]*domain.EnhancementTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan enhancement task row", slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		log.Error("error iterating enhancement task rows", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.EnhancementTask, error) {
	var (
		task            domain.EnhancementTask
		moodboardID     uuid.NullUUID
		enhancementType string
		status          string
		apiTaskID       sql.NullString
		resultURL       sql.NullString
		errorMessage    sql.NullString
	)

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&moodboardID,
		&task.InputImageURL,
		&enhancementType,
		&task.Prompt,
		&task.Strength,
		&status,
		&task.Provider,
		&apiTaskID,
		&resultURL,
		&task.CostUSD,
		&errorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.EnhancementType = domain.EnhancementType(enhancementType)
	task.Status = domain.TaskStatus(status)
	if moodboardID.Valid {
		id := moodboardID.UUID
		task.MoodboardID = &id
	}
	if apiTaskID.Valid {
		ref := apiTaskID.String
		task.APITaskID = &ref
	}
	task.ResultURL = resultURL.String
	task.ErrorMessage = errorMessage.String

	return &task, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
