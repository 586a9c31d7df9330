// Package cmd defines the CLI commands for the pinharvest executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/config"
	"github.com/jfaulkner/pinharvest/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pinharvest",
		Short: "A resumable keyword scraper with concurrent asset download.",
		Long: `pinharvest collects content records for a search keyword into an
isolated per-keyword SQLite partition, resumes interrupted runs where they
left off, and downloads the associated assets through a worker pool.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus PINHARVEST_* env)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newMergeCmd())

	return cmd
}

// Execute is the main entry point. It installs signal handling so an
// interrupt lands as a context cancellation, which downstream records as
// a resumable interrupted session.
func Execute() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildLogger loads configuration and a logger in one step, since every
// subcommand needs both.
func buildLogger() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
