package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/gauntlet/internal/config"
	"github.com/Iron-Ham/gauntlet/internal/engine"
	gerrors "github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/event"
	"github.com/Iron-Ham/gauntlet/internal/logging"
	"github.com/Iron-Ham/gauntlet/internal/planfile"
	"github.com/Iron-Ham/gauntlet/internal/report"
)

// ErrTestsFailed is returned by the run command when a unit failed or
// timed out. The report has already been written.
var ErrTestsFailed = errors.New("tests failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a test plan",
		Long: `Execute every unit of a plan file and write the report.

Units run in parallel up to --parallel at a time, subject to their
dependencies and parallel constraints. The command exits non-zero when a
unit fails or times out.`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}

	f := cmd.Flags()
	f.IntP("parallel", "p", 0, "maximum concurrently running units (0 = number of CPUs)")
	f.Int("retry-backoff-ms", 0, "linear delay between retry attempts in milliseconds")
	f.Int("timeout-ms", 0, "timeout for units that declare none (0 = none)")
	f.Int("retries", 0, "retry limit for units that declare none")
	f.Bool("interactive", false, "disable retries, as when a debugger is attached")
	f.Bool("fail-fast", false, "cancel the remaining units after the first failure")
	f.StringP("format", "f", "text", "report format: text, json, junit")
	f.StringP("output", "o", "", "write the report to a file instead of stdout")
	f.String("color", "auto", "color mode: auto, always, never")
	f.Int("slowest", 5, "number of slowest units listed in the text report")
	f.String("log-dir", "", "write JSON debug logs to this directory")
	f.String("log-level", "info", "minimum log level: debug, info, warn, error")
	f.BoolP("verbose", "v", false, "include captured output of failed units")

	configFlag(cmd, "parallel", "scheduler.max_parallelism")
	configFlag(cmd, "retry-backoff-ms", "scheduler.retry_backoff_ms")
	configFlag(cmd, "timeout-ms", "scheduler.default_timeout_ms")
	configFlag(cmd, "retries", "scheduler.default_retry_limit")
	configFlag(cmd, "interactive", "scheduler.interactive")
	configFlag(cmd, "fail-fast", "scheduler.fail_fast")
	configFlag(cmd, "format", "report.format")
	configFlag(cmd, "output", "report.output")
	configFlag(cmd, "color", "report.color")
	configFlag(cmd, "slowest", "report.slowest")
	configFlag(cmd, "log-dir", "logging.dir")
	configFlag(cmd, "log-level", "logging.level")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	plan, err := planfile.Load(args[0])
	if err != nil {
		return err
	}
	built, err := plan.Build()
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus(logger)
	collector := report.NewCollector(bus)
	defer collector.Close()

	opts := engine.OptionsFromConfig(cfg)
	opts.Bus = bus
	opts.Logger = logger
	session := engine.NewSession(opts)
	session.AddUnits(built.Units...)
	for _, h := range built.Hooks {
		if err := session.RegisterHook(h); err != nil {
			return err
		}
	}

	summary, runErr := session.Run(ctx)
	if runErr != nil && summary == nil {
		return runErr
	}
	rep := collector.Report(session.Units())

	verbose, _ := cmd.Flags().GetBool("verbose")
	if err := writeReport(cmd.OutOrStdout(), cfg, rep, verbose); err != nil {
		return err
	}
	switch {
	case errors.Is(runErr, gerrors.ErrCanceled):
		return fmt.Errorf("run %s interrupted: %w", summary.RunID, runErr)
	case runErr != nil:
		return runErr
	case summary.Failed():
		return ErrTestsFailed
	}
	return nil
}

// newLogger returns the JSON debug logger, or a discarding logger when
// logging is neither enabled in the config nor requested on the command line.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled && !cmd.Flags().Changed("log-dir") && !cmd.Flags().Changed("log-level") {
		return logging.NopLogger(), nil
	}
	return logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
}

func writeReport(stdout io.Writer, cfg *config.Config, rep *report.Report, verbose bool) error {
	w := stdout
	if cfg.Report.Output != "" {
		f, err := os.Create(cfg.Report.Output)
		if err != nil {
			return fmt.Errorf("creating report file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	return report.Write(w, rep, cfg.Report.Format, report.TextOptions{
		Color:   cfg.Report.Color,
		Slowest: cfg.Report.Slowest,
		Verbose: verbose,
	})
}
