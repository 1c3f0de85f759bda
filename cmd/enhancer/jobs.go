package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Process pending tasks once and exit",
	Long: `Selects the oldest pending tasks and runs each of them through its provider.
Useful when the in-process scheduler is disabled and an external cron drives
recovery instead.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd, func(ctx context.Context, app *application) error {
			result, err := app.manager.ProcessPendingTasks(ctx)
			if err != nil {
				return err
			}
			app.logger.Info("sweep finished",
				slog.Int("selected", result.Selected),
				slog.Int("processed", result.Processed))
			return nil
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete completed tasks older than the retention window and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd, func(ctx context.Context, app *application) error {
			deleted, err := app.manager.CleanupOldTasks(ctx)
			if err != nil {
				return err
			}
			app.logger.Info("cleanup finished", slog.Int64("deleted", deleted))
			return nil
		})
	},
}

// runOnce builds the application without workers, runs job and releases
// everything.
func runOnce(cmd *cobra.Command, job func(ctx context.Context, app *application) error) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	db, err := setupAppDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, log, db)
	if err != nil {
		_ = db.Close()
		return err
	}

	jobErr := job(ctx, app)
	if jobErr != nil {
		log.Error("job failed", slog.String("error", jobErr.Error()))
	}
	cleanupCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.cleanup(cleanupCtx); err != nil && jobErr == nil {
		return err
	}
	return jobErr
}
