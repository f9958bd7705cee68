package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/scriptdeck"
	"github.com/loykin/scriptdeck/internal/logger"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the scriptdeck daemon",
		Long: `Start the daemon serving the dashboard API.
Settings come from the optional TOML file, SCRIPTDECK_* environment
variables and PORT.

Examples:
  scriptdeck serve                     # defaults and environment only
  scriptdeck serve config.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, path)
		},
	}
}

// runServe loads the config and runs the daemon until ctx is done.
func runServe(ctx context.Context, configPath string) error {
	cfg, err := scriptdeck.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()

	d, err := scriptdeck.NewDaemon(cfg, log)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
