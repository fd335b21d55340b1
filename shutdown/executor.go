package shutdown

import (
	"context"
	"sync"
	"time"

	kerrors "github.com/vinayprograms/shutdownkit/errors"
	"github.com/vinayprograms/shutdownkit/logging"
	"github.com/vinayprograms/shutdownkit/telemetry"
)

// TaskSource supplies the tasks of a phase at the moment it starts.
type TaskSource interface {
	Snapshot(phase string) []TaskEntry
}

// Executor runs the tasks of a single phase.
type Executor struct {
	logger  *logging.Logger
	tracer  *telemetry.Tracer
	metrics *Metrics
}

// NewExecutor creates an executor. Nil arguments fall back to a discarding
// logger, the global tracer and no metrics.
func NewExecutor(logger *logging.Logger, tracer *telemetry.Tracer, metrics *Metrics) *Executor {
	if logger == nil {
		logger = logging.Discard()
	}
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}
	return &Executor{logger: logger, tracer: tracer, metrics: metrics}
}

// Execute runs every task of phase concurrently and waits until they all
// finish or the phase timeout fires, whichever comes first.
//
// Task errors and panics are logged and otherwise ignored. The returned error
// is non-nil only when the timeout fired on a phase that does not recover.
// The context passed to tasks is cancelled when Execute returns.
func (e *Executor) Execute(ctx context.Context, phase Phase, source TaskSource) (PhaseResult, error) {
	result := PhaseResult{Name: phase.Name}
	if !phase.Enabled {
		e.logger.PhaseDisabled(phase.Name)
		result.Outcome = OutcomeSkipped
		e.metrics.observePhase(result)
		return result, nil
	}

	tasks := source.Snapshot(phase.Name)
	result.Tasks = len(tasks)

	start := time.Now()
	ctx, span := e.tracer.StartPhaseSpan(ctx, phase.Name)
	e.logger.PhaseStart(phase.Name, len(tasks))

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		failed []string
		wg     sync.WaitGroup
	)
	allDone := make(chan struct{})

	if len(tasks) == 0 {
		close(allDone)
	}
	wg.Add(len(tasks))
	for _, task := range tasks {
		go func(task TaskEntry) {
			defer wg.Done()
			if err := e.runTask(taskCtx, phase.Name, task); err != nil {
				mu.Lock()
				failed = append(failed, task.Name)
				mu.Unlock()
			}
		}(task)
	}
	if len(tasks) > 0 {
		go func() {
			wg.Wait()
			close(allDone)
		}()
	}

	var err error
	timer := time.NewTimer(phase.Timeout)
	defer timer.Stop()

	select {
	case <-allDone:
		result.Outcome = OutcomeCompleted
	case <-timer.C:
		e.logger.PhaseTimeout(phase.Name, phase.Timeout, phase.Recover)
		if phase.Recover {
			result.Outcome = OutcomeTimedOutRecovered
		} else {
			result.Outcome = OutcomeTimedOutAborted
			err = kerrors.ShutdownTimeout(phase.Name, phase.Timeout)
		}
	}

	mu.Lock()
	result.Failed = append([]string(nil), failed...)
	mu.Unlock()
	result.Duration = time.Since(start)

	e.logger.PhaseComplete(phase.Name, result.Duration, string(result.Outcome))
	e.metrics.observePhase(result)
	e.tracer.EndPhaseSpan(span, telemetry.PhaseSpanOptions{
		Outcome:  string(result.Outcome),
		Tasks:    result.Tasks,
		Failed:   len(result.Failed),
		Timeout:  phase.Timeout,
		Duration: result.Duration,
	}, err)

	return result, err
}

func (e *Executor) runTask(ctx context.Context, phase string, task TaskEntry) (err error) {
	ctx, span := e.tracer.StartTaskSpan(ctx, phase, task.Name)
	defer func() {
		if r := recover(); r != nil {
			err = kerrors.RecoverPanic(r)
		}
		if err != nil {
			e.logger.TaskFailed(phase, task.Name, err)
			e.metrics.taskFailed(phase)
		}
		e.tracer.EndTaskSpan(span, err)
	}()
	return task.Run(ctx)
}
