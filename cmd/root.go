// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dashplay/internal/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagEngine  string
	flagMPVPath string
	flagDebug   bool
)

// cfg holds the loaded configuration (merged: defaults < config file < flags).
var cfg *config.Config

// logger is configured by loadConfig; commands that take over the terminal
// redirect it with logToFile.
var logger = zerolog.Nop()

var rootCmd = &cobra.Command{
	Use:   "dashplay",
	Short: "Play DASH streams, including DRM-protected ones, from the terminal",
	Long: `dashplay loads a DASH manifest into a streaming engine, configures
license acquisition for protected content, and gives you playback controls
in the terminal or over MPRIS.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagEngine, "engine", "e", "", "Engine backend: mpv | virtual")
	rootCmd.PersistentFlags().StringVar(&flagMPVPath, "mpv-path", "", "Path to the mpv binary")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")

	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(tracksCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration: defaults < config file < CLI flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file values
	if flagEngine != "" {
		cfg.Engine = flagEngine
	}
	if flagMPVPath != "" {
		cfg.MPVPath = flagMPVPath
	}
	if flagDebug {
		cfg.Debug = true
	}

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger = newLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}

func newLogger(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg != nil && cfg.Debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// logToFile points logger at the configured log file so log lines do not
// draw over the terminal UI. The returned func closes the file.
func logToFile() (func(), error) {
	path, err := cfg.LogPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	logger = newLogger(f)
	return func() { f.Close() }, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dashplay %s\n", Version)
	},
}
