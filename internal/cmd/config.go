package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/gauntlet/internal/config"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View Gauntlet configuration",
		Long: `View Gauntlet configuration.

Without arguments, displays the effective configuration.`,
		RunE: runConfigShow,
	}
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "init",
			Short: "Create a default config file",
			Long:  `Create a default config file at ~/.config/gauntlet/gauntlet.yaml with all available options.`,
			RunE:  runConfigInit,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path",
			RunE:  runConfigPath,
		},
	)
	return configCmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(w, "Config file: %s\n\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(w, "Config file: (none - using defaults)\n\n")
	}

	fmt.Fprintln(w, "scheduler:")
	fmt.Fprintf(w, "  max_parallelism: %d (effective %d)\n", cfg.Scheduler.MaxParallelism, cfg.Scheduler.Parallelism())
	fmt.Fprintf(w, "  retry_backoff_ms: %d\n", cfg.Scheduler.RetryBackoffMs)
	fmt.Fprintf(w, "  default_timeout_ms: %d\n", cfg.Scheduler.DefaultTimeoutMs)
	fmt.Fprintf(w, "  default_retry_limit: %d\n", cfg.Scheduler.DefaultRetryLimit)
	fmt.Fprintf(w, "  interactive: %v\n", cfg.Scheduler.Interactive)
	fmt.Fprintf(w, "  fail_fast: %v\n", cfg.Scheduler.FailFast)

	fmt.Fprintln(w, "logging:")
	fmt.Fprintf(w, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(w, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  dir: %s\n", cfg.Logging.Dir)

	fmt.Fprintln(w, "report:")
	fmt.Fprintf(w, "  format: %s\n", cfg.Report.Format)
	fmt.Fprintf(w, "  color: %s\n", cfg.Report.Color)
	fmt.Fprintf(w, "  output: %s\n", cfg.Report.Output)
	fmt.Fprintf(w, "  slowest: %d\n", cfg.Report.Slowest)
	return nil
}

const defaultConfigFile = `# Gauntlet Configuration

scheduler:
  # Maximum concurrently running units (0 = number of CPUs)
  max_parallelism: 0
  # Delay before retry N is N times this many milliseconds
  retry_backoff_ms: 0
  # Timeout for units that declare none, in milliseconds (0 = none)
  default_timeout_ms: 0
  # Retry limit for units that declare none
  default_retry_limit: 0
  # Disable retries, as when a debugger is attached
  interactive: false
  # Cancel the remaining units after the first failure
  fail_fast: false

logging:
  # Write JSON debug logs
  enabled: false
  # Options: debug, info, warn, error
  level: info
  # Directory receiving gauntlet.log (empty = stderr)
  dir: ""

report:
  # Options: text, json, junit
  format: text
  # Options: auto, always, never
  color: auto
  # Report file (empty = stdout)
  output: ""
  # Number of slowest units listed in the text report
  slowest: 5
`

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(w, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(w, "Default path: %s (not created)\n", config.ConfigFile())
	}

	// Also show config search paths
	fmt.Fprintln(w, "\nSearch paths:")
	fmt.Fprintf(w, "  1. %s\n", config.ConfigFile())
	fmt.Fprintf(w, "  2. ./gauntlet.yaml (current directory)\n")
	fmt.Fprintln(w, "\nEnvironment variables: GAUNTLET_* (e.g., GAUNTLET_SCHEDULER_MAX_PARALLELISM)")
	return nil
}
