package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/presetlab/enhancer/internal/platform/metrics"
	"github.com/presetlab/enhancer/internal/provider"
	"github.com/presetlab/enhancer/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	mu         sync.Mutex
	sweeps     int
	cleanups   int
	sweepErr   error
	cleanupErr error
	deadline   bool
}

func (f *fakeJobs) ProcessPendingTasks(ctx context.Context) (task.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	_, f.deadline = ctx.Deadline()
	return task.SweepResult{Selected: 2, Processed: 2}, f.sweepErr
}

func (f *fakeJobs) CleanupOldTasks(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return 3, f.cleanupErr
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released []string
	ttl      time.Duration
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) TryAcquire(_ context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ttl = ttl
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
		l.released = append(l.released, name)
		return nil
	}, true, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		SweepSchedule:   "@every 1m",
		CleanupSchedule: "@daily",
		LockTTL:         30 * time.Second,
	}
}

func newTestScheduler(t *testing.T, jobs Jobs, locker Locker) (*Scheduler, *metrics.Collector) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	s, err := New(testConfig(), jobs, locker, m, testLogger())
	require.NoError(t, err)
	return s, m
}

func TestNew(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	t.Run("registers both jobs", func(t *testing.T) {
		s, err := New(testConfig(), &fakeJobs{}, nil, m, testLogger())
		require.NoError(t, err)
		assert.Len(t, s.cron.Entries(), 2)
		assert.IsType(t, NopLocker{}, s.locker)
	})

	t.Run("standard cron expressions", func(t *testing.T) {
		cfg := testConfig()
		cfg.SweepSchedule = "*/2 * * * *"
		cfg.CleanupSchedule = "0 3 * * *"
		_, err := New(cfg, &fakeJobs{}, nil, m, testLogger())
		assert.NoError(t, err)
	})

	t.Run("default lock ttl", func(t *testing.T) {
		cfg := testConfig()
		cfg.LockTTL = 0
		s, err := New(cfg, &fakeJobs{}, nil, m, testLogger())
		require.NoError(t, err)
		assert.Equal(t, defaultLockTTL, s.lockTTL)
	})

	t.Run("invalid schedule", func(t *testing.T) {
		cfg := testConfig()
		cfg.SweepSchedule = "every minute"
		_, err := New(cfg, &fakeJobs{}, nil, m, testLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sweep")
	})

	t.Run("empty schedule", func(t *testing.T) {
		cfg := testConfig()
		cfg.CleanupSchedule = ""
		_, err := New(cfg, &fakeJobs{}, nil, m, testLogger())
		assert.Error(t, err)
	})

	t.Run("nil dependencies", func(t *testing.T) {
		_, err := New(testConfig(), nil, nil, m, testLogger())
		assert.Error(t, err)
		_, err = New(testConfig(), &fakeJobs{}, nil, nil, testLogger())
		assert.Error(t, err)
		_, err = New(testConfig(), &fakeJobs{}, nil, m, nil)
		assert.Error(t, err)
	})
}

func TestRunLocked_RunsAndReleases(t *testing.T) {
	jobs := &fakeJobs{}
	locker := newFakeLocker()
	s, m := newTestScheduler(t, jobs, locker)

	s.RunLocked(JobSweep, s.sweep)
	s.RunLocked(JobCleanup, s.cleanup)

	assert.Equal(t, 1, jobs.sweeps)
	assert.Equal(t, 1, jobs.cleanups)
	assert.False(t, jobs.deadline, "runs are not bounded by the lock ttl")
	assert.Equal(t, 30*time.Second, locker.ttl)
	assert.Equal(t, []string{JobSweep, JobCleanup}, locker.released)
	assert.Zero(t, testutil.ToFloat64(m.SchedulerJobsSkipped.WithLabelValues(JobSweep)))
}

func TestRunLocked_SkipsWhenHeldElsewhere(t *testing.T) {
	jobs := &fakeJobs{}
	locker := newFakeLocker()
	locker.held[JobSweep] = true
	s, m := newTestScheduler(t, jobs, locker)

	s.RunLocked(JobSweep, s.sweep)

	assert.Zero(t, jobs.sweeps)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerJobsSkipped.WithLabelValues(JobSweep)))

	// Other jobs are unaffected
	s.RunLocked(JobCleanup, s.cleanup)
	assert.Equal(t, 1, jobs.cleanups)
}

func TestRunLocked_SkipsWhenLockBackendFails(t *testing.T) {
	jobs := &fakeJobs{}
	locker := newFakeLocker()
	locker.err = errors.New("redis: connection refused")
	s, m := newTestScheduler(t, jobs, locker)

	s.RunLocked(JobCleanup, s.cleanup)

	assert.Zero(t, jobs.cleanups)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerJobsSkipped.WithLabelValues(JobCleanup)))
}

func TestRunLocked_ReleasesAfterJobError(t *testing.T) {
	jobs := &fakeJobs{sweepErr: errors.New("list pending: connection reset")}
	locker := newFakeLocker()
	s, _ := newTestScheduler(t, jobs, locker)

	s.RunLocked(JobSweep, s.sweep)

	assert.Equal(t, 1, jobs.sweeps)
	assert.Equal(t, []string{JobSweep}, locker.released)

	// The next tick can take the lock again
	s.RunLocked(JobSweep, s.sweep)
	assert.Equal(t, 2, jobs.sweeps)
}

func TestSweepOutlivesLockTTL(t *testing.T) {
	logger := testLogger()
	tasks := task.NewMockTaskStore()
	ledger := task.NewMockLedger()
	slow := task.NewMockProvider("nanobanana")
	slow.EnhanceFn = func(ctx context.Context, _ provider.Request) (*provider.Result, error) {
		select {
		case <-time.After(150 * time.Millisecond):
			return &provider.Result{EnhancedURL: "https://cdn.example.com/out.png"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	registry, err := provider.NewRegistry("nanobanana", slow)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	manager, err := task.NewManager(task.Dependencies{
		Store:     tasks,
		Ledger:    ledger,
		Providers: registry,
		Metrics:   m,
	}, task.DefaultConfig(), logger)
	require.NoError(t, err)

	// Workers are not started, so the task waits for the sweep.
	userID := uuid.New()
	ledger.SetBalance(userID, 1)
	res, err := manager.Submit(context.Background(), task.SubmitRequest{
		UserID:        userID,
		InputImageURL: "https://img.example.com/in.png",
	})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.LockTTL = 20 * time.Millisecond
	s, err := New(cfg, manager, newFakeLocker(), m, logger)
	require.NoError(t, err)

	s.RunLocked(JobSweep, s.sweep)

	got, err := tasks.GetByID(context.Background(), res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Zero(t, ledger.Balance(userID))
}

// blockingJobs holds the sweep until its context is cancelled.
type blockingJobs struct {
	fakeJobs
	started chan struct{}
	stopped chan struct{}
}

func (b *blockingJobs) ProcessPendingTasks(ctx context.Context) (task.SweepResult, error) {
	close(b.started)
	<-ctx.Done()
	close(b.stopped)
	return task.SweepResult{}, ctx.Err()
}

func TestStopCancelsRunningJobs(t *testing.T) {
	jobs := &blockingJobs{started: make(chan struct{}), stopped: make(chan struct{})}
	s, _ := newTestScheduler(t, jobs, NopLocker{})

	go s.RunLocked(JobSweep, s.sweep)
	<-jobs.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = s.Stop(ctx)

	select {
	case <-jobs.stopped:
	case <-time.After(time.Second):
		t.Fatal("running sweep was not cancelled")
	}
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeJobs{}, NopLocker{})
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	assert.Error(t, s.ctx.Err(), "stop cancels the run context")
}

func TestNopLocker(t *testing.T) {
	release, ok, err := NopLocker{}.TryAcquire(context.Background(), JobSweep, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, release(context.Background()))
}
