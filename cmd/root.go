// Package cmd wires the zapfield CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zapfield/zapfield/internal/config"
)

var configFlag string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zapfield",
		Short: "Multi-tenant WhatsApp session gateway",
		Long:  "zapfield keeps one live gateway session per device account, pairs new devices, reconnects dropped ones, and fans lifecycle events out to tenant subscribers.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file path (default ~/.zapfield/config.yaml)")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(accountsCmd())
	cmd.AddCommand(sendCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath honors the --config flag, then ZAPFIELD_CONFIG, then
// the default location.
func resolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if env := os.Getenv("ZAPFIELD_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath()
}

func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		// Config errors surface later with context; log defaults for now.
		cfg = nil
	}

	level := slog.LevelInfo
	format := "text"
	if cfg != nil {
		switch cfg.Log.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		format = cfg.Log.Format
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
