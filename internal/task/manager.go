package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/presetlab/enhancer/internal/events"
	"github.com/presetlab/enhancer/internal/platform/logger"
	"github.com/presetlab/enhancer/internal/platform/metrics"
	"github.com/presetlab/enhancer/internal/provider"
	"github.com/presetlab/enhancer/internal/redact"
	"github.com/presetlab/enhancer/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Query limits for GetUserTasks.
const (
	DefaultUserTasksLimit = 20
	MaxUserTasksLimit     = 100
)

// maxErrorMessageLen bounds the persisted failure message.
const maxErrorMessageLen = 1000

// Errors returned by NewManager.
var (
	ErrNilTaskStore = errors.New("task store cannot be nil")
	ErrNilLedger    = errors.New("credit ledger cannot be nil")
	ErrNilProviders = errors.New("provider registry cannot be nil")
	ErrNilLogger    = errors.New("logger cannot be nil")
)

// SubmitRequest carries the caller's parameters for a new task.
type SubmitRequest struct {
	UserID        uuid.UUID `validate:"required"`
	InputImageURL string    `validate:"required,url"`
	// EnhancementType is normalised; unknown values fall back to the default type.
	EnhancementType string
	Prompt          string `validate:"max=2000"`
	// Strength defaults to domain.DefaultStrength when nil.
	Strength    *float64 `validate:"omitempty,gt=0,lte=1"`
	MoodboardID *uuid.UUID
}

// SubmitResult acknowledges an accepted submission.
type SubmitResult struct {
	TaskID uuid.UUID         `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
}

// SweepResult reports one ProcessPendingTasks run.
type SweepResult struct {
	// Selected is the number of pending tasks read from the store.
	Selected int
	// Processed is how many of them this sweep claimed and drove to a
	// terminal state. Tasks claimed elsewhere in the meantime are skipped.
	Processed int
}

// Dependencies groups the collaborators of a Manager.
type Dependencies struct {
	Store     store.EnhancementTaskStore
	Ledger    CreditLedger
	Providers ProviderRegistry
	// Events receives terminal task events. Optional.
	Events events.EventEmitter
	// Metrics is optional; a private registry is used when nil.
	Metrics *metrics.Collector
}

// Manager orchestrates the enhancement task lifecycle: credit reservation,
// task creation, queued dispatch to a provider, terminal state handling
// with compensating refunds, the pending-task sweep and retention.
type Manager struct {
	store     store.EnhancementTaskStore
	ledger    CreditLedger
	providers ProviderRegistry
	events    events.EventEmitter
	metrics   *metrics.Collector
	queue     *TaskQueue
	pool      *WorkerPool
	config    Config
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a Manager. Workers are not running until Start.
func NewManager(deps Dependencies, config Config, logger *slog.Logger) (*Manager, error) {
	if deps.Store == nil {
		return nil, ErrNilTaskStore
	}
	if deps.Ledger == nil {
		return nil, ErrNilLedger
	}
	if deps.Providers == nil {
		return nil, ErrNilProviders
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	config = config.withDefaults()
	logger = logger.With("component", "task_manager")

	emitter := deps.Events
	if emitter == nil {
		emitter = events.NewInMemoryEventEmitter(logger)
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.New(prometheus.NewRegistry())
	}

	m := &Manager{
		store:     deps.Store,
		ledger:    deps.Ledger,
		providers: deps.Providers,
		events:    emitter,
		metrics:   collector,
		queue:     NewTaskQueue(config.QueueSize, logger),
		config:    config,
		validate:  validator.New(),
		logger:    logger,
		now:       time.Now,
	}
	m.pool = NewWorkerPool(m.queue, m.processQueued, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger)
	m.pool.SetErrorHandler(m.handlePanic)

	return m, nil
}

// Start launches the worker pool.
func (m *Manager) Start() {
	m.pool.Start()
}

// Stop closes the queue and waits for the workers. Ids still buffered stay
// pending in the store and are picked up by the next sweep.
func (m *Manager) Stop() {
	m.queue.Close()
	m.pool.Stop()
	m.metrics.QueueDepth.Set(float64(m.queue.Len()))
}

// Shutdown closes the queue and lets in-flight tasks finish until ctx is
// done, then cancels whatever is still running. Cancelled tasks are failed
// and refunded as usual.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.queue.Close()
	err := m.pool.Shutdown(ctx)
	m.metrics.QueueDepth.Set(float64(m.queue.Len()))
	return err
}

// handlePanic records a panic that escaped task processing before the
// task was claimed or while its failure was being recorded.
func (m *Manager) handlePanic(taskID uuid.UUID, err error) {
	m.metrics.TaskPanics.Inc()
	m.logger.Error("task processing panicked", "task_id", taskID, "error", err)
}

// Submit reserves credits, persists a pending task and queues it for
// processing. It returns as soon as the task is stored; the provider call
// happens asynchronously.
//
// domain.ErrInsufficientCredits is returned before anything is written when
// the user's balance is too low. If the task cannot be stored the reserved
// credits are returned before the error is.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	log := m.log(ctx)

	req.InputImageURL = strings.TrimSpace(req.InputImageURL)
	if err := m.validate.Struct(req); err != nil {
		m.metrics.SubmissionsRejected.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	enhancementType := domain.NormalizeEnhancementType(req.EnhancementType)
	strength := domain.DefaultStrength
	if req.Strength != nil {
		strength = *req.Strength
	}
	providerName := m.providers.Default().Name()

	reservation, err := m.ledger.CheckAndConsume(ctx, req.UserID, m.config.CreditsPerTask, enhancementType)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			m.metrics.SubmissionsRejected.WithLabelValues("insufficient_credits").Inc()
		} else {
			m.metrics.SubmissionsRejected.WithLabelValues("ledger_error").Inc()
		}
		return nil, err
	}

	task, err := domain.NewEnhancementTask(
		req.UserID,
		req.MoodboardID,
		req.InputImageURL,
		enhancementType,
		strings.TrimSpace(req.Prompt),
		strength,
		providerName,
		reservation.CostUSD,
	)
	if err != nil {
		m.refundReservation(ctx, req.UserID, reservation.Credits)
		m.metrics.SubmissionsRejected.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if err := m.store.Create(ctx, task); err != nil {
		log.Error("failed to create task, returning reserved credits",
			"user_id", req.UserID,
			"error", err)
		m.refundReservation(ctx, req.UserID, reservation.Credits)
		m.metrics.SubmissionsRejected.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	m.metrics.TasksSubmitted.WithLabelValues(string(enhancementType)).Inc()
	log.Info("task submitted",
		"task_id", task.ID,
		"user_id", task.UserID,
		"enhancement_type", task.EnhancementType,
		"provider", task.Provider,
		"credits_balance", reservation.Balance)

	if err := m.queue.Enqueue(task.ID); err != nil {
		log.Warn("task not queued, leaving it pending for the sweep",
			"task_id", task.ID,
			"error", err)
	}
	m.metrics.QueueDepth.Set(float64(m.queue.Len()))

	return &SubmitResult{TaskID: task.ID, Status: task.Status}, nil
}

// refundReservation undoes a reservation that never became a task. The
// caller may already be gone, so cancellation is ignored.
func (m *Manager) refundReservation(ctx context.Context, userID uuid.UUID, credits int) {
	if err := m.ledger.Refund(context.WithoutCancel(ctx), userID, credits); err != nil {
		m.metrics.RefundFailures.Inc()
		m.log(ctx).Error("failed to return reserved credits",
			"user_id", userID,
			"credits", credits,
			"error", err)
	}
}

func (m *Manager) processQueued(ctx context.Context, taskID uuid.UUID) {
	m.metrics.QueueDepth.Set(float64(m.queue.Len()))
	m.process(ctx, taskID)
}

// process drives one task from pending to a terminal state. It reports
// whether this call claimed the task. A task that is missing or already
// claimed is skipped silently.
func (m *Manager) process(ctx context.Context, taskID uuid.UUID) (claimed bool) {
	log := m.log(ctx).With("task_id", taskID)

	task, err := m.store.Claim(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) || errors.Is(err, store.ErrStaleStatus) {
			log.Debug("task not claimable, skipping", "reason", err)
			return false
		}
		log.Error("failed to claim task", "error", err)
		return false
	}

	m.metrics.TasksInFlight.Inc()
	defer m.metrics.TasksInFlight.Dec()

	// A claimed task holds the user's credits; a panic must still end in
	// fail and refund.
	defer func() {
		if r := recover(); r != nil {
			m.metrics.TaskPanics.Inc()
			log.Error("panic while processing task", "panic", r, "stack", string(debug.Stack()))
			m.fail(context.WithoutCancel(ctx), log, task, fmt.Errorf("panic while processing task: %v", r))
			claimed = true
		}
	}()

	client := m.providers.Get(task.Provider)
	log = log.With("provider", client.Name(), "enhancement_type", task.EnhancementType)
	log.Info("processing task")

	callCtx, cancel := context.WithTimeout(ctx, m.config.ProviderTimeout)
	start := time.Now()
	result, err := client.EnhanceImage(callCtx, provider.Request{
		TaskID:          task.ID,
		ImageURL:        task.InputImageURL,
		EnhancementType: task.EnhancementType,
		Prompt:          task.Prompt,
		Strength:        task.Strength,
	})
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	m.metrics.TaskDurationSeconds.WithLabelValues(client.Name()).Observe(time.Since(start).Seconds())

	if err == nil && (result == nil || strings.TrimSpace(result.EnhancedURL) == "") {
		err = provider.ErrEmptyResult
	}

	// Terminal writes must land even when ctx was cancelled mid-call,
	// otherwise the task would be stranded in processing.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		if timedOut {
			err = fmt.Errorf("provider timed out after %s: %w", m.config.ProviderTimeout, err)
		}
		m.fail(writeCtx, log, task, err)
		return true
	}

	m.complete(writeCtx, log, task, result)
	return true
}

func (m *Manager) complete(ctx context.Context, log *slog.Logger, task *domain.EnhancementTask, result *provider.Result) {
	// A provider that reports no cost keeps the reserved estimate.
	cost := task.CostUSD
	if result.CostUSD > 0 {
		cost = result.CostUSD
	}
	resultURL := strings.TrimSpace(result.EnhancedURL)

	done := *task
	done.Status = domain.TaskStatusCompleted
	done.ResultURL = resultURL
	done.CostUSD = cost
	if result.ProviderTaskID != "" {
		apiTaskID := result.ProviderTaskID
		done.APITaskID = &apiTaskID
	}

	// The status change and the deduction entry commit together: a completed
	// task always has its charge logged.
	err := m.ledger.RecordDeduction(ctx, m.transaction(&done, domain.TransactionTypeDeduction),
		func(ctx context.Context, tx *sql.Tx) error {
			tasks := m.store
			if tx != nil {
				tasks = m.store.WithTx(tx)
			}
			return tasks.Complete(ctx, task.ID, resultURL, result.ProviderTaskID, cost)
		})
	if err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			log.Warn("task left processing before completion was recorded", "error", err)
			return
		}
		log.Error("failed to record task completion", "error", err)
		m.fail(ctx, log, task, fmt.Errorf("failed to record completion: %w", err))
		return
	}
	*task = done

	m.metrics.TasksFinished.WithLabelValues(task.Provider, string(task.Status)).Inc()
	log.Info("task completed", "cost_usd", cost, "provider_task_id", result.ProviderTaskID)
	m.emit(ctx, log, task)
}

func (m *Manager) fail(ctx context.Context, log *slog.Logger, task *domain.EnhancementTask, cause error) {
	message := failureMessage(cause)

	if err := m.store.Fail(ctx, task.ID, message); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			log.Warn("task left processing before failure was recorded", "error", err)
			return
		}
		// No refund: the task is not failed, and refunding now could pay
		// out twice once the row is repaired.
		log.Error("failed to mark task failed", "error", err, "cause", cause)
		return
	}

	task.Status = domain.TaskStatusFailed
	task.ErrorMessage = message
	log.Warn("task failed", "error", message)

	if err := m.ledger.RefundAndLog(ctx, m.transaction(task, domain.TransactionTypeRefund)); err != nil {
		m.metrics.RefundFailures.Inc()
		log.Error("compensating refund failed, credits need manual reconciliation",
			"user_id", task.UserID,
			"credits", m.config.CreditsPerTask,
			"error", err)
	}

	m.metrics.TasksFinished.WithLabelValues(task.Provider, string(task.Status)).Inc()
	m.emit(ctx, log, task)
}

func (m *Manager) transaction(task *domain.EnhancementTask, kind domain.TransactionType) *domain.CreditTransaction {
	taskID := task.ID
	return &domain.CreditTransaction{
		UserID:          task.UserID,
		MoodboardID:     task.MoodboardID,
		TaskID:          &taskID,
		TransactionType: kind,
		CreditsUsed:     m.config.CreditsPerTask,
		CostUSD:         task.CostUSD,
		Provider:        task.Provider,
		EnhancementType: task.EnhancementType,
	}
}

func (m *Manager) emit(ctx context.Context, log *slog.Logger, task *domain.EnhancementTask) {
	if err := m.events.EmitEvent(ctx, events.NewTaskEvent(task)); err != nil {
		log.Warn("failed to publish task event", "error", err)
	}
}

// failureMessage is the persisted, user-visible form of a failure.
func failureMessage(err error) string {
	msg := strings.TrimSpace(redact.Error(err))
	if msg == "" {
		return "unknown error"
	}
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
		for !utf8.ValidString(msg) {
			msg = msg[:len(msg)-1]
		}
	}
	return msg
}

// ProcessPendingTasks picks up to the sweep batch size of pending tasks,
// oldest first, and processes them concurrently. It waits for every task to
// settle; one task failing never affects the others. Tasks claimed by a
// worker or an overlapping sweep in the meantime are skipped.
func (m *Manager) ProcessPendingTasks(ctx context.Context) (SweepResult, error) {
	log := m.log(ctx)

	tasks, err := m.store.ListPending(ctx, m.config.SweepBatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	if len(tasks) == 0 {
		log.Debug("no pending tasks to sweep")
		return SweepResult{}, nil
	}

	m.metrics.SweepTasksSelected.Add(float64(len(tasks)))
	log.Info("sweeping pending tasks", "count", len(tasks))

	var (
		g         errgroup.Group
		processed atomic.Int32
	)
	g.SetLimit(m.config.SweepBatchSize)
	for _, t := range tasks {
		taskID := t.ID
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					m.handlePanic(taskID, fmt.Errorf("panic while sweeping task: %v", r))
				}
			}()
			if m.process(ctx, taskID) {
				processed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := SweepResult{Selected: len(tasks), Processed: int(processed.Load())}
	log.Info("sweep finished", "selected", result.Selected, "processed", result.Processed)
	return result, nil
}

// CleanupOldTasks deletes completed tasks older than the retention period
// and returns how many were removed. Failed and in-flight tasks are kept.
func (m *Manager) CleanupOldTasks(ctx context.Context) (int64, error) {
	cutoff := m.now().UTC().AddDate(0, 0, -m.config.RetentionDays)

	deleted, err := m.store.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed tasks: %w", err)
	}

	m.metrics.CleanupTasksDeleted.Add(float64(deleted))
	m.log(ctx).Info("old tasks cleaned up",
		"deleted", deleted,
		"cutoff", cutoff,
		"retention_days", m.config.RetentionDays)
	return deleted, nil
}

// GetTaskStatus returns the task, or nil when it does not exist.
func (m *Manager) GetTaskStatus(ctx context.Context, taskID uuid.UUID) (*domain.EnhancementTask, error) {
	task, err := m.store.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// GetUserTasks lists the user's tasks, most recent first. limit defaults to
// DefaultUserTasksLimit and is capped at MaxUserTasksLimit.
func (m *Manager) GetUserTasks(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.EnhancementTask, error) {
	if limit <= 0 {
		limit = DefaultUserTasksLimit
	}
	if limit > MaxUserTasksLimit {
		limit = MaxUserTasksLimit
	}

	tasks, err := m.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list user tasks: %w", err)
	}
	return tasks, nil
}

func (m *Manager) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOr(ctx, m.logger)
}
