package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ProcessFunc handles one task id taken from the queue.
type ProcessFunc func(ctx context.Context, taskID uuid.UUID)

// WorkerPool manages a pool of worker goroutines that process task ids
// from a task queue. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	// taskQueue provides read access to the task ids to be processed
	taskQueue TaskQueueReader

	// process is run for every received task id
	process ProcessFunc

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is used for cancellation and shutdown signaling
	ctx context.Context

	// cancel is the function to call to cancel the context
	cancel context.CancelFunc

	// quit stops workers from taking further ids while in-flight tasks finish
	quit     chan struct{}
	quitOnce sync.Once

	// logger for structured logging
	logger *slog.Logger

	// errorHandler is called when processing a task panics
	// If nil, errors are only logged
	errorHandler func(taskID uuid.UUID, err error)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	taskQueue TaskQueueReader,
	process ProcessFunc,
	config WorkerPoolConfig,
	logger *slog.Logger,
) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		taskQueue:   taskQueue,
		process:     process,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		quit:        make(chan struct{}),
		logger:      logger,
	}
}

// SetErrorHandler allows setting a custom error handler for task panics
func (p *WorkerPool) SetErrorHandler(handler func(taskID uuid.UUID, err error)) {
	p.errorHandler = handler
}

// Start launches the workers. It returns immediately.
func (p *WorkerPool) Start() {
	p.logger.Info("starting worker pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels the workers' context and waits for them to return. A task
// being processed sees the cancellation through its context.
func (p *WorkerPool) Stop() {
	p.quitOnce.Do(func() { close(p.quit) })
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Shutdown stops workers from taking new ids and lets in-flight tasks
// finish until ctx is done. Tasks still running then are cancelled and
// Shutdown waits for them to return.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.quitOnce.Do(func() { close(p.quit) })

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.cancel()
		p.logger.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-drained
		p.logger.Warn("worker pool shutdown timed out, in-flight tasks cancelled")
		return fmt.Errorf("worker pool: %w", ctx.Err())
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)
	tasks := p.taskQueue.GetChannel()

	for {
		// quit wins over a ready task id
		select {
		case <-p.quit:
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		default:
		}

		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return

		case <-p.quit:
			p.logger.Debug("stopping worker", "worker_id", id)
			return

		case taskID, ok := <-tasks:
			if !ok {
				p.logger.Debug("task channel closed, stopping worker", "worker_id", id)
				return
			}
			p.run(id, taskID)
		}
	}
}

// run processes one task, turning a panic into an error for the handler so
// a single bad task cannot take the worker down.
func (p *WorkerPool) run(workerID int, taskID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while processing task: %v", r)
			p.logger.Error("task processing panicked",
				"worker_id", workerID,
				"task_id", taskID,
				"error", err)
			if p.errorHandler != nil {
				p.errorHandler(taskID, err)
			}
		}
	}()

	p.process(p.ctx, taskID)
}
