package main

import (
	"github.com/presetlab/enhancer/internal/platform/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|reset|status|version]",
	Short:     "Run database migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "reset", "status", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
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
		defer func() { _ = db.Close() }()

		return postgres.Migrate(ctx, db, args[0], log)
	},
}
