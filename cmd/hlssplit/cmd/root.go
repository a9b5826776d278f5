// Package cmd implements the CLI commands for hlssplit.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/hlssplit/internal/config"
	"github.com/jmylchreest/hlssplit/internal/observability"
	"github.com/jmylchreest/hlssplit/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "hlssplit",
	Short:   "Record a live HLS stream into fixed-duration files",
	Version: version.Short(),
	Long: `hlssplit connects to a live HLS stream, typically a Safie camera's live
playlist, and writes it to disk as a series of files of roughly equal
duration. Every file starts on a keyframe and its timestamps start at zero,
so each one plays on its own.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		if err := config.Configure(viper.GetViper(), cfgFile); err != nil {
			return err
		}
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintln(os.Stderr, "Using config file:", used)
		}
		return initLogging()
	}

	// Global flags
	// Note: These flags are NOT bound to viper. Instead, we check if they were
	// explicitly set using Changed() and only then override the config/env values.
	// This preserves the correct priority: CLI flag > env var > config > default
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./hlssplit.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "shorthand for --log-level debug")
}

// initLogging configures the default slog logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format, --verbose) - only if explicitly provided
//  2. Environment variables (HLSSPLIT_LOGGING_LEVEL, HLSSPLIT_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, text)
func initLogging() error {
	logCfg := config.LoggingConfig{
		Level:      viper.GetString("logging.level"),
		Format:     viper.GetString("logging.format"),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}

	flags := rootCmd.PersistentFlags()
	if verbose, _ := flags.GetBool("verbose"); verbose && flags.Changed("verbose") {
		logCfg.Level = "debug"
	}
	if flags.Changed("log-level") {
		logCfg.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		logCfg.Format, _ = flags.GetString("log-format")
	}

	logCfg.Level = strings.ToLower(logCfg.Level)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}
	logCfg.Format = strings.ToLower(logCfg.Format)

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName)
	observability.SetDefault(logger)

	return nil
}

// loadConfig decodes the settings gathered by PersistentPreRunE and applies
// the logging flags so the returned config matches the active logger.
func loadConfig() (*config.Config, error) {
	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		viper.Set("logging.level", level)
	} else if verbose, _ := flags.GetBool("verbose"); verbose {
		viper.Set("logging.level", "debug")
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		viper.Set("logging.format", format)
	}

	cfg, err := config.Unmarshal(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
