package shutdown

import (
	"context"
	"time"
)

// Task is a unit of shutdown work registered against a phase.
// The context is cancelled once the executor stops waiting on the phase,
// either because every task finished or because the phase timed out.
type Task func(ctx context.Context) error

// TaskEntry is a named task as handed to the executor.
type TaskEntry struct {
	Name string
	Run  Task
}

// Reason explains why a shutdown run was triggered.
// Applications may define their own values.
type Reason string

// Predefined reasons.
const (
	ReasonUnknown          Reason = "unknown"
	ReasonSignal           Reason = "signal"
	ReasonExitHook         Reason = "exit-hook"
	ReasonRuntimeTerminate Reason = "runtime-terminate"
	ReasonClusterDowning   Reason = "cluster-downing"
	ReasonClusterLeaving   Reason = "cluster-leaving"
)

type reasonKey struct{}

// WithReason returns a context carrying the run reason.
func WithReason(ctx context.Context, reason Reason) context.Context {
	return context.WithValue(ctx, reasonKey{}, reason)
}

// ReasonFromContext returns the reason of the run a task belongs to,
// or ReasonUnknown outside a run.
func ReasonFromContext(ctx context.Context) Reason {
	if r, ok := ctx.Value(reasonKey{}).(Reason); ok {
		return r
	}
	return ReasonUnknown
}

// Outcome is the terminal result of one phase.
type Outcome string

const (
	// OutcomeCompleted means every task finished (successfully or not) in time.
	OutcomeCompleted Outcome = "completed"

	// OutcomeTimedOutRecovered means the timeout fired and the phase recovers.
	OutcomeTimedOutRecovered Outcome = "timed_out_recovered"

	// OutcomeTimedOutAborted means the timeout fired and the run fails.
	OutcomeTimedOutAborted Outcome = "timed_out_aborted"

	// OutcomeSkipped means the phase is disabled. Treated like OutcomeCompleted.
	OutcomeSkipped Outcome = "skipped"
)

// RunState is the lifecycle of a coordinator's single run.
type RunState int32

const (
	StateNotStarted RunState = iota
	StateRunning
	StateCompleted
)

func (s RunState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "invalid"
	}
}

// PhaseResult contains the result of one executed phase.
type PhaseResult struct {
	// Name of the phase.
	Name string

	// Outcome of the phase.
	Outcome Outcome

	// Tasks is the number of tasks in the phase snapshot.
	Tasks int

	// Failed lists tasks that returned an error or panicked before the
	// executor stopped waiting.
	Failed []string

	// Duration the executor spent on the phase.
	Duration time.Duration
}

// RunResult contains the complete run result.
type RunResult struct {
	// RunID uniquely identifies the run in logs and traces.
	RunID string

	// Reason recorded by the first trigger.
	Reason Reason

	// Started is when the first phase began.
	Started time.Time

	// TotalDuration of the entire run.
	TotalDuration time.Duration

	// Phases in execution order.
	Phases []PhaseResult

	// Err is the run error (nil unless a non-recovering phase timed out).
	Err error
}

// Failed returns true if the run failed.
func (r *RunResult) Failed() bool {
	return r.Err != nil
}

// FailedTasks returns "phase/task" for every task failure observed.
// Task failures never fail the run; this is diagnostics only.
func (r *RunResult) FailedTasks() []string {
	var failed []string
	for _, p := range r.Phases {
		for _, t := range p.Failed {
			failed = append(failed, p.Name+"/"+t)
		}
	}
	return failed
}

// RecoveredPhases returns phases that timed out but were allowed to continue.
func (r *RunResult) RecoveredPhases() []string {
	var phases []string
	for _, p := range r.Phases {
		if p.Outcome == OutcomeTimedOutRecovered {
			phases = append(phases, p.Name)
		}
	}
	return phases
}
