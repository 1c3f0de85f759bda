// Package scheduler runs the periodic pipeline jobs: the sweep that recovers
// pending tasks and the retention cleanup. Each run takes a named lock first so
// that, with several replicas, only one of them does the work per tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/presetlab/enhancer/internal/platform/metrics"
	"github.com/presetlab/enhancer/internal/task"
	"github.com/robfig/cron/v3"
)

// Job names, also used as lock names and metric labels.
const (
	JobSweep   = "sweep"
	JobCleanup = "cleanup"
)

const defaultLockTTL = 55 * time.Second

// Jobs is the work the scheduler drives. *task.Manager implements it.
type Jobs interface {
	ProcessPendingTasks(ctx context.Context) (task.SweepResult, error)
	CleanupOldTasks(ctx context.Context) (int64, error)
}

// Locker grants named, expiring locks without waiting. *redislock.Locker
// implements it.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// NopLocker always grants the lock. It is used when no Redis is configured,
// which is only safe with a single replica.
type NopLocker struct{}

// TryAcquire implements Locker.
func (NopLocker) TryAcquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// Config holds the cron expressions of each job. Both the standard five
// field syntax and descriptors such as "@every 1m" or "@daily" are accepted.
type Config struct {
	SweepSchedule   string
	CleanupSchedule string
	// LockTTL is how long a run holds its lock. It keeps other replicas
	// from starting the same tick; it does not bound the run itself.
	LockTTL time.Duration
}

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron    *cron.Cron
	jobs    Jobs
	locker  Locker
	lockTTL time.Duration
	metrics *metrics.Collector
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New validates the schedules and registers both jobs. Nothing runs until
// Start is called.
func New(cfg Config, jobs Jobs, locker Locker, m *metrics.Collector, logger *slog.Logger) (*Scheduler, error) {
	if jobs == nil {
		return nil, errors.New("scheduler: jobs cannot be nil")
	}
	if m == nil {
		return nil, errors.New("scheduler: metrics cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("scheduler: logger cannot be nil")
	}
	if locker == nil {
		locker = NopLocker{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}

	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		jobs:    jobs,
		locker:  locker,
		lockTTL: cfg.LockTTL,
		metrics: m,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	entries := []struct {
		name, schedule string
		run            func(context.Context) error
	}{
		{JobSweep, cfg.SweepSchedule, s.sweep},
		{JobCleanup, cfg.CleanupSchedule, s.cleanup},
	}
	for _, e := range entries {
		if e.schedule == "" {
			cancel()
			return nil, fmt.Errorf("scheduler: empty schedule for %s", e.name)
		}
		name, run := e.name, e.run
		if _, err := s.cron.AddFunc(e.schedule, func() { s.RunLocked(name, run) }); err != nil {
			cancel()
			return nil, fmt.Errorf("scheduler: parse %s schedule %q: %w", e.name, e.schedule, err)
		}
	}
	return s, nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for running ones until ctx is done.
// Runs still going at that point are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	defer s.cancel()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: waiting for running jobs: %w", ctx.Err())
	}
}

// RunLocked executes run under the lock named name. A run is skipped when
// another holder has the lock or the lock backend is unreachable.
//
// The run context is only cancelled by Stop. A sweep outliving the lock TTL
// may overlap the next replica's sweep, which is safe because tasks are
// claimed conditionally; provider calls keep their own deadline.
func (s *Scheduler) RunLocked(name string, run func(context.Context) error) {
	log := s.logger.With(slog.String("job", name))

	release, ok, err := s.locker.TryAcquire(s.ctx, name, s.lockTTL)
	if err != nil {
		log.Error("failed to acquire job lock", slog.String("error", err.Error()))
		s.metrics.SchedulerJobsSkipped.WithLabelValues(name).Inc()
		return
	}
	if !ok {
		log.Debug("job lock held elsewhere, skipping run")
		s.metrics.SchedulerJobsSkipped.WithLabelValues(name).Inc()
		return
	}
	defer func() {
		if err := release(context.WithoutCancel(s.ctx)); err != nil {
			log.Warn("failed to release job lock", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	if err := run(s.ctx); err != nil {
		log.Error("scheduled job failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return
	}
	log.Debug("scheduled job finished", slog.Duration("elapsed", time.Since(start)))
}

func (s *Scheduler) sweep(ctx context.Context) error {
	res, err := s.jobs.ProcessPendingTasks(ctx)
	if err != nil {
		return err
	}
	if res.Selected > 0 {
		s.logger.Info("sweep finished",
			slog.Int("selected", res.Selected),
			slog.Int("processed", res.Processed))
	}
	return nil
}

func (s *Scheduler) cleanup(ctx context.Context) error {
	deleted, err := s.jobs.CleanupOldTasks(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("cleanup finished", slog.Int64("deleted", deleted))
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
