package shutdown

import (
	"context"
	"fmt"

	kerrors "github.com/vinayprograms/shutdownkit/errors"
)

// Terminable is anything whose termination can be observed.
type Terminable interface {
	Done() <-chan struct{}
}

// TerminationTask returns a task that completes when target has terminated.
// When target is still alive the task calls stop (if not nil) first.
// Several tasks may watch the same target.
func TerminationTask(target Terminable, stop func()) Task {
	return func(ctx context.Context) error {
		select {
		case <-target.Done():
			return nil
		default:
		}

		if stop != nil {
			stop()
		}

		select {
		case <-target.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AddTerminationTask registers a task in phase that stops target and waits
// for it to terminate.
func (c *Coordinator) AddTerminationTask(phase, name string, target Terminable, stop func()) error {
	if target == nil {
		return kerrors.New(kerrors.ErrCodeInvalidTask, fmt.Sprintf("termination task %q has no target", name),
			kerrors.WithPhase(phase), kerrors.WithTask(name))
	}
	return c.AddTask(phase, name, TerminationTask(target, stop))
}
