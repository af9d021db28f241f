package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "scheduler.max_parallelism")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidReportFormats returns the list of valid report formats
func ValidReportFormats() []string {
	return []string{"text", "json", "junit"}
}

// ValidColorModes returns the list of valid color modes
func ValidColorModes() []string {
	return []string{"auto", "always", "never"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateReport()...)
	return errors
}

// validateScheduler validates the SchedulerConfig
func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError

	// 0 means NumCPU, negative is a mistake
	if c.Scheduler.MaxParallelism < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.max_parallelism",
			Value:   c.Scheduler.MaxParallelism,
			Message: "must be non-negative",
		})
	}

	const maxParallelism = 4096
	if c.Scheduler.MaxParallelism > maxParallelism {
		errors = append(errors, ValidationError{
			Field:   "scheduler.max_parallelism",
			Value:   c.Scheduler.MaxParallelism,
			Message: fmt.Sprintf("exceeds maximum of %d", maxParallelism),
		})
	}

	if c.Scheduler.RetryBackoffMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.retry_backoff_ms",
			Value:   c.Scheduler.RetryBackoffMs,
			Message: "must be non-negative",
		})
	}

	if c.Scheduler.DefaultTimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.default_timeout_ms",
			Value:   c.Scheduler.DefaultTimeoutMs,
			Message: "must be non-negative",
		})
	}

	if c.Scheduler.DefaultRetryLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.default_retry_limit",
			Value:   c.Scheduler.DefaultRetryLimit,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if strings.ContainsRune(c.Logging.Dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "logging.dir",
			Value:   c.Logging.Dir,
			Message: "path contains invalid null character",
		})
	}

	return errors
}

// validateReport validates the ReportConfig
func (c *Config) validateReport() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidReportFormats(), c.Report.Format) {
		errors = append(errors, ValidationError{
			Field:   "report.format",
			Value:   c.Report.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidReportFormats(), ", ")),
		})
	}

	if !slices.Contains(ValidColorModes(), c.Report.Color) {
		errors = append(errors, ValidationError{
			Field:   "report.color",
			Value:   c.Report.Color,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidColorModes(), ", ")),
		})
	}

	if c.Report.Slowest < 0 {
		errors = append(errors, ValidationError{
			Field:   "report.slowest",
			Value:   c.Report.Slowest,
			Message: "must be non-negative",
		})
	}

	if strings.ContainsRune(c.Report.Output, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "report.output",
			Value:   c.Report.Output,
			Message: "path contains invalid null character",
		})
	}

	return errors
}
