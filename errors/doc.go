// Package errors provides the structured error taxonomy used by shutdownkit.
//
// # Error Categories
//
// Errors are classified by where they surface:
//
//   - Configuration: bad phase graphs or settings, returned when a coordinator is built
//   - Registration: tasks registered against unknown phases or without a body
//   - Task: a single task failed; logged and absorbed, never fails a run
//   - Run: a non-recovering phase timed out, failing the whole run
//   - Internal: unexpected errors
//
// # Error Codes
//
//   - CYCLE_DETECTED: phase graph contains a dependency cycle
//   - UNKNOWN_PHASE: phase name not present in the graph
//   - SHUTDOWN_TIMEOUT: phase with recover=false exceeded its timeout
//   - CONFIGURATION: inconsistent settings
//   - TASK_FAILED / PANIC: individual task failures
//
// # Usage
//
//	if err := coord.Run(ctx, shutdown.ReasonUnknown); errors.IsTimeout(err) {
//	    log.Printf("phase %s did not finish", errors.PhaseOf(err))
//	}
//
// Errors support JSON serialization so run results can be exported.
package errors
