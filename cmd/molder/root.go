package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"molder/internal/config"
	"molder/internal/logger"
)

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "molder",
	Short: "Cycle controller for a small injection molding machine.",
	Long: `molder drives the mold-close, inject and eject outputs of an ` +
		`injection molding machine through its automatic cycle, and ` +
		`publishes state and part counts to Redis.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (none, error, warn, info, debug), overrides the config file")
}

// setup loads the configuration and creates the service logger.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	return cfg, logger.NewStdout(level), nil
}
