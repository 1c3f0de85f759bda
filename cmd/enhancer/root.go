package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/presetlab/enhancer/internal/config"
	"github.com/presetlab/enhancer/internal/platform/logger"
	"github.com/spf13/cobra"
)

var cfgFile string

// flagBindings maps config keys to the persistent flags that override them.
var flagBindings = map[string]string{
	"server.log_level": "log-level",
	"database.url":     "database-url",
}

var rootCmd = &cobra.Command{
	Use:          "enhancer",
	Short:        "Asynchronous AI image enhancement service",
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")

	rootCmd.AddCommand(serveCmd, sweepCmd, cleanupCmd, migrateCmd, tokenCmd)
}

// loadConfig reads configuration for cmd and builds the process logger.
// extra adds command-specific flag bindings to the persistent ones.
func loadConfig(cmd *cobra.Command, extra ...map[string]string) (*config.Config, *slog.Logger, error) {
	bindings := make(map[string]string, len(flagBindings))
	for _, set := range append([]map[string]string{flagBindings}, extra...) {
		for key, name := range set {
			if cmd.Flags().Lookup(name) != nil {
				bindings[key] = name
			}
		}
	}

	cfg, err := config.LoadWithFlags(cfgFile, cmd.Flags(), bindings)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server.LogLevel).With(slog.String("command", cmd.Name()))
	return cfg, log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
