package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete gauntlet configuration
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Report    ReportConfig    `mapstructure:"report"`
}

// SchedulerConfig controls how units are dispatched
type SchedulerConfig struct {
	// MaxParallelism bounds concurrently executing parallel and group units.
	// 0 means runtime.NumCPU().
	MaxParallelism int `mapstructure:"max_parallelism"`
	// RetryBackoffMs is the delay before retry N, multiplied by N (0 = retry immediately)
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
	// DefaultTimeoutMs applies to units that declare no timeout (0 = none)
	DefaultTimeoutMs int `mapstructure:"default_timeout_ms"`
	// DefaultRetryLimit applies to units that declare no retry limit
	DefaultRetryLimit int `mapstructure:"default_retry_limit"`
	// Interactive disables retries, as when a debugger is attached
	Interactive bool `mapstructure:"interactive"`
	// FailFast cancels the rest of the run after the first failed unit
	FailFast bool `mapstructure:"fail_fast"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled turns on JSON debug logging (default: false)
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory receiving gauntlet.log. Empty writes to stderr.
	Dir string `mapstructure:"dir"`
}

// ReportConfig controls how results are presented
type ReportConfig struct {
	// Format is one of "text", "json", "junit" (default: "text")
	Format string `mapstructure:"format"`
	// Color is one of "auto", "always", "never" (default: "auto")
	Color string `mapstructure:"color"`
	// Output is the destination file. Empty writes to stdout.
	Output string `mapstructure:"output"`
	// Slowest is how many of the slowest units the text summary lists (0 = none)
	Slowest int `mapstructure:"slowest"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxParallelism:    0, // NumCPU
			RetryBackoffMs:    0,
			DefaultTimeoutMs:  0,
			DefaultRetryLimit: 0,
			Interactive:       false,
			FailFast:          false,
		},
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
			Dir:     "",
		},
		Report: ReportConfig{
			Format:  "text",
			Color:   "auto",
			Output:  "",
			Slowest: 5,
		},
	}
}

// Parallelism returns the effective parallelism limit
func (c *SchedulerConfig) Parallelism() int {
	if c.MaxParallelism <= 0 {
		return runtime.NumCPU()
	}
	return c.MaxParallelism
}

// RetryBackoff returns the base retry backoff as a time.Duration
func (c *SchedulerConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// DefaultTimeout returns the default unit timeout as a time.Duration (0 means none)
func (c *SchedulerConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Scheduler defaults
	viper.SetDefault("scheduler.max_parallelism", defaults.Scheduler.MaxParallelism)
	viper.SetDefault("scheduler.retry_backoff_ms", defaults.Scheduler.RetryBackoffMs)
	viper.SetDefault("scheduler.default_timeout_ms", defaults.Scheduler.DefaultTimeoutMs)
	viper.SetDefault("scheduler.default_retry_limit", defaults.Scheduler.DefaultRetryLimit)
	viper.SetDefault("scheduler.interactive", defaults.Scheduler.Interactive)
	viper.SetDefault("scheduler.fail_fast", defaults.Scheduler.FailFast)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	// Report defaults
	viper.SetDefault("report.format", defaults.Report.Format)
	viper.SetDefault("report.color", defaults.Report.Color)
	viper.SetDefault("report.output", defaults.Report.Output)
	viper.SetDefault("report.slowest", defaults.Report.Slowest)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gauntlet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gauntlet"
	}
	return filepath.Join(home, ".config", "gauntlet")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "gauntlet.yaml")
}
