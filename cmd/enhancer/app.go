package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/presetlab/enhancer/internal/config"
	"github.com/presetlab/enhancer/internal/credit"
	"github.com/presetlab/enhancer/internal/events"
	"github.com/presetlab/enhancer/internal/platform/kafka"
	"github.com/presetlab/enhancer/internal/platform/metrics"
	"github.com/presetlab/enhancer/internal/platform/postgres"
	"github.com/presetlab/enhancer/internal/platform/redislock"
	"github.com/presetlab/enhancer/internal/provider"
	"github.com/presetlab/enhancer/internal/provider/gemini"
	"github.com/presetlab/enhancer/internal/provider/nanobanana"
	"github.com/presetlab/enhancer/internal/scheduler"
	"github.com/presetlab/enhancer/internal/service/auth"
	"github.com/presetlab/enhancer/internal/storage"
	"github.com/presetlab/enhancer/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// application holds the shared dependencies of every command and closes
// them on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	registry *prometheus.Registry
	metrics  *metrics.Collector

	jwtService auth.JWTService
	ledger     *credit.Ledger
	files      *storage.FileStore
	manager    *task.Manager

	publisher *kafka.Publisher
	redis     *redis.Client
	scheduler *scheduler.Scheduler
}

// newApplication wires the stores, ledger, providers and task manager.
// Workers and the scheduler are not started here; serve does that.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: metrics.NewRegistry(),
	}
	app.metrics = metrics.New(app.registry)

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	taskStore := postgres.NewPostgresEnhancementTaskStore(db)
	creditStore := postgres.NewPostgresCreditStore(db)

	app.ledger, err = credit.NewLedger(creditStore, db, cfg.Credits.CostPerCreditUSD, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create credit ledger: %w", err)
	}

	app.files, err = storage.NewFileStore(cfg.Storage.Path, cfg.Storage.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create result storage: %w", err)
	}

	providers, err := app.setupProviders(ctx)
	if err != nil {
		return nil, err
	}

	emitter := events.NewInMemoryEventEmitter(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		app.publisher = kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		emitter.RegisterHandler(app.publisher)
		logger.Info("publishing task events to kafka",
			slog.String("topic", cfg.Kafka.Topic),
			slog.Int("brokers", len(cfg.Kafka.Brokers)))
	}

	app.manager, err = task.NewManager(task.Dependencies{
		Store:     taskStore,
		Ledger:    app.ledger,
		Providers: providers,
		Events:    emitter,
		Metrics:   app.metrics,
	}, task.Config{
		CreditsPerTask:  cfg.Credits.PerTask,
		WorkerCount:     cfg.Tasks.WorkerCount,
		QueueSize:       cfg.Tasks.QueueSize,
		SweepBatchSize:  cfg.Tasks.SweepBatchSize,
		ProviderTimeout: cfg.Tasks.ProviderTimeout,
		RetentionDays:   cfg.Tasks.RetentionDays,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task manager: %w", err)
	}

	logger.Info("application initialized",
		slog.String("default_provider", providers.Default().Name()),
		slog.Any("providers", providers.Names()))
	return app, nil
}

// setupProviders creates a client for every provider with an API key.
func (app *application) setupProviders(ctx context.Context) (*provider.Registry, error) {
	cfg := app.config.Provider
	var clients []provider.Client

	if cfg.NanoBanana.APIKey != "" {
		c, err := nanobanana.NewClient(nanobanana.Options{
			APIKey:        cfg.NanoBanana.APIKey,
			BaseURL:       cfg.NanoBanana.BaseURL,
			PollInterval:  cfg.NanoBanana.PollInterval,
			SubmitRetries: cfg.NanoBanana.SubmitRetries,
			Logger:        app.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create nanobanana client: %w", err)
		}
		clients = append(clients, c)
	}

	if cfg.Gemini.APIKey != "" {
		c, err := gemini.NewClient(ctx, app.logger, gemini.Config{
			APIKey:          cfg.Gemini.APIKey,
			Model:           cfg.Gemini.Model,
			CostPerImageUSD: cfg.Gemini.CostPerImageUSD,
			Retries:         cfg.Gemini.Retries,
		}, app.files)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		clients = append(clients, c)
	}

	registry, err := provider.NewRegistry(app.config.Tasks.DefaultProvider, clients...)
	if err != nil {
		return nil, fmt.Errorf("failed to set up providers: %w", err)
	}
	return registry, nil
}

// setupScheduler creates the cron scheduler. With a Redis address the jobs
// are guarded by a Redis lock; without one every replica runs them.
func (app *application) setupScheduler(ctx context.Context) error {
	cfg := app.config

	var locker scheduler.Locker = scheduler.NopLocker{}
	if cfg.Redis.Addr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := app.redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		locker = redislock.New(app.redis)
	} else {
		app.logger.Warn("redis not configured, scheduled jobs run unlocked on every replica")
	}

	var err error
	app.scheduler, err = scheduler.New(scheduler.Config{
		SweepSchedule:   cfg.Scheduler.SweepSchedule,
		CleanupSchedule: cfg.Scheduler.CleanupSchedule,
		LockTTL:         cfg.Scheduler.LockTTL,
	}, app.manager, locker, app.metrics, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	return nil
}

// cleanup releases resources in reverse order of acquisition.
func (app *application) cleanup(ctx context.Context) error {
	var errs []error

	if app.scheduler != nil {
		if err := app.scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if app.manager != nil {
		if err := app.manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain task workers: %w", err))
		}
	}
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka publisher: %w", err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		app.logger.Error("shutdown finished with errors", slog.String("error", err.Error()))
		return err
	}
	app.logger.Info("application shutdown completed")
	return nil
}
