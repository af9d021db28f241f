// Package logging provides structured logging for gauntlet runs.
//
// It wraps Go's log/slog with a JSON handler so that a run can be
// reconstructed after the fact: which bucket dispatched a unit, which scope
// fired its hooks, and why a unit was retried or skipped.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/tmp/run-logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("run started", "units", 42)
//
// # Context Propagation
//
// Child loggers carry persistent attributes:
//
//	unitLog := logger.WithRun("r-1").WithBucket("keyed:db").WithUnit("pkg.C.Test1")
//	unitLog.Warn("retrying", "attempt", 2)
//
// Output:
//
//	{"time":"...","level":"WARN","msg":"retrying","run_id":"r-1","bucket":"keyed:db","unit":"pkg.C.Test1","attempt":2}
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a
// bytes.Buffer to assert on entries.
package logging
