package main

import (
	"context"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the task workers and the scheduled jobs",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "HTTP listen port")
	serveCmd.Flags().Bool("scheduler", true, "run the sweep and cleanup jobs in this process")
	serveCmd.Flags().String("redis-addr", "", "Redis address used to lock scheduled jobs across replicas")
}

// serveFlagBindings extends the persistent bindings with serve-only flags.
var serveFlagBindings = map[string]string{
	"server.port":       "port",
	"scheduler.enabled": "scheduler",
	"redis.addr":        "redis-addr",
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd, serveFlagBindings)
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

	if cfg.Scheduler.Enabled {
		if err := app.setupScheduler(ctx); err != nil {
			_ = app.cleanup(context.Background())
			return err
		}
	}

	app.manager.Start()
	if app.scheduler != nil {
		app.scheduler.Start()
	}

	return app.startHTTPServer(ctx, app.setupRouter())
}
