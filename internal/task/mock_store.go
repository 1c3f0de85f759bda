package task

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/presetlab/enhancer/internal/store"
)

// MockTaskStore is an in-memory store.EnhancementTaskStore for tests.
// Status changes are conditional under the store's lock, like the SQL
// implementation. Setting one of the Fn fields replaces the default.
type MockTaskStore struct {
	mutex sync.Mutex
	tasks map[uuid.UUID]*domain.EnhancementTask

	// history records every status a task was moved to, in order.
	history map[uuid.UUID][]domain.TaskStatus

	CreateFn      func(ctx context.Context, task *domain.EnhancementTask) error
	ListPendingFn func(ctx context.Context, limit int) ([]*domain.EnhancementTask, error)
	CompleteFn    func(ctx context.Context, id uuid.UUID, resultURL, apiTaskID string, costUSD float64) error
	FailFn        func(ctx context.Context, id uuid.UUID, errorMessage string) error
}

var _ store.EnhancementTaskStore = (*MockTaskStore)(nil)

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks:   make(map[uuid.UUID]*domain.EnhancementTask),
		history: make(map[uuid.UUID][]domain.TaskStatus),
	}
}

// Put stores a copy of task as-is, bypassing validation.
func (s *MockTaskStore) Put(task *domain.EnhancementTask) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	s.history[task.ID] = append(s.history[task.ID], task.Status)
}

// Len returns the number of stored tasks.
func (s *MockTaskStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.tasks)
}

// History returns the statuses task id has been moved through.
func (s *MockTaskStore) History(id uuid.UUID) []domain.TaskStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]domain.TaskStatus(nil), s.history[id]...)
}

// Create implements store.EnhancementTaskStore.
func (s *MockTaskStore) Create(ctx context.Context, task *domain.EnhancementTask) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, task)
	}
	if err := task.Validate(); err != nil {
		return store.ErrInvalidEntity
	}
	if task.Status != domain.TaskStatusPending {
		return store.ErrInvalidEntity
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}
	cp := *task
	s.tasks[task.ID] = &cp
	s.history[task.ID] = []domain.TaskStatus{task.Status}
	return nil
}

// GetByID implements store.EnhancementTaskStore.
func (s *MockTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.EnhancementTask, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

// ListByUser implements store.EnhancementTaskStore.
func (s *MockTaskStore) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*domain.EnhancementTask, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var out []*domain.EnhancementTask
	for _, task := range s.tasks {
		if task.UserID == userID {
			cp := *task
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListPending implements store.EnhancementTaskStore.
func (s *MockTaskStore) ListPending(ctx context.Context, limit int) ([]*domain.EnhancementTask, error) {
	if s.ListPendingFn != nil {
		return s.ListPendingFn(ctx, limit)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var out []*domain.EnhancementTask
	for _, task := range s.tasks {
		if task.Status == domain.TaskStatusPending {
			cp := *task
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim implements store.EnhancementTaskStore.
func (s *MockTaskStore) Claim(_ context.Context, id uuid.UUID) (*domain.EnhancementTask, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if !task.Status.CanTransitionTo(domain.TaskStatusProcessing) {
		return nil, store.ErrStaleStatus
	}
	s.transition(task, domain.TaskStatusProcessing)
	cp := *task
	return &cp, nil
}

// Complete implements store.EnhancementTaskStore.
func (s *MockTaskStore) Complete(
	ctx context.Context,
	id uuid.UUID,
	resultURL string,
	apiTaskID string,
	costUSD float64,
) error {
	if s.CompleteFn != nil {
		return s.CompleteFn(ctx, id, resultURL, apiTaskID, costUSD)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	task, err := s.finishing(id, domain.TaskStatusCompleted)
	if err != nil {
		return err
	}
	task.ResultURL = resultURL
	task.CostUSD = costUSD
	if apiTaskID != "" {
		task.APITaskID = &apiTaskID
	}
	s.transition(task, domain.TaskStatusCompleted)
	return nil
}

// Fail implements store.EnhancementTaskStore.
func (s *MockTaskStore) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	if s.FailFn != nil {
		return s.FailFn(ctx, id, errorMessage)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	task, err := s.finishing(id, domain.TaskStatusFailed)
	if err != nil {
		return err
	}
	task.ErrorMessage = errorMessage
	s.transition(task, domain.TaskStatusFailed)
	return nil
}

// DeleteCompletedBefore implements store.EnhancementTaskStore.
func (s *MockTaskStore) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var deleted int64
	for id, task := range s.tasks {
		if task.Status == domain.TaskStatusCompleted && task.CreatedAt.Before(cutoff) {
			delete(s.tasks, id)
			deleted++
		}
	}
	return deleted, nil
}

// WithTx implements store.EnhancementTaskStore. The mock has no
// transactions, so it returns itself.
func (s *MockTaskStore) WithTx(*sql.Tx) store.EnhancementTaskStore {
	return s
}

func (s *MockTaskStore) finishing(id uuid.UUID, next domain.TaskStatus) (*domain.EnhancementTask, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if !task.Status.CanTransitionTo(next) {
		return nil, store.ErrStaleStatus
	}
	return task, nil
}

func (s *MockTaskStore) transition(task *domain.EnhancementTask, next domain.TaskStatus) {
	task.Status = next
	task.UpdatedAt = time.Now().UTC()
	s.history[task.ID] = append(s.history[task.ID], next)
}
