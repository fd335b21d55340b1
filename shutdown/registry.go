package shutdown

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	kerrors "github.com/vinayprograms/shutdownkit/errors"
	"github.com/vinayprograms/shutdownkit/logging"
)

const (
	handlePending int32 = iota
	handleCancelled
	handleStarted
)

// Cancellable is the handle of a cancellable registration.
type Cancellable struct {
	id    string
	state atomic.Int32
}

func newCancellable() *Cancellable {
	return &Cancellable{id: uuid.NewString()}
}

// ID returns the unique handle identifier.
func (c *Cancellable) ID() string {
	return c.id
}

// Cancel withdraws the registration. It returns false once the owner has
// started (or the handle was already cancelled).
func (c *Cancellable) Cancel() bool {
	return c.state.CompareAndSwap(handlePending, handleCancelled)
}

// IsCancelled reports whether Cancel succeeded.
func (c *Cancellable) IsCancelled() bool {
	return c.state.Load() == handleCancelled
}

func (c *Cancellable) start() bool {
	return c.state.CompareAndSwap(handlePending, handleStarted)
}

type registration struct {
	name   string
	task   Task
	handle *Cancellable // nil for plain registrations
}

// Registry maps phase names to the tasks registered against them.
// It is safe for concurrent use, including from tasks that are running.
type Registry struct {
	mu      sync.Mutex
	tasks   map[string][]registration
	started map[string]bool
	logger  *logging.Logger
}

// NewRegistry creates a registry accepting tasks for the given phases.
func NewRegistry(phases []string, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Registry{
		tasks:   make(map[string][]registration, len(phases)),
		started: make(map[string]bool, len(phases)),
		logger:  logger,
	}
	for _, p := range phases {
		r.tasks[p] = nil
	}
	return r
}

// AddTask registers a task that always runs with its phase.
func (r *Registry) AddTask(phase, name string, task Task) error {
	return r.add(phase, name, task, nil)
}

// AddCancellableTask registers a task that can be withdrawn until its phase starts.
func (r *Registry) AddCancellableTask(phase, name string, task Task) (*Cancellable, error) {
	handle := newCancellable()
	if err := r.add(phase, name, task, handle); err != nil {
		return nil, err
	}
	return handle, nil
}

func (r *Registry) add(phase, name string, task Task, handle *Cancellable) error {
	if name == "" {
		return kerrors.New(kerrors.ErrCodeInvalidTask, "task name must not be empty", kerrors.WithPhase(phase))
	}
	if task == nil {
		return kerrors.New(kerrors.ErrCodeInvalidTask, fmt.Sprintf("task %q has no body", name),
			kerrors.WithPhase(phase), kerrors.WithTask(name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[phase]; !ok {
		return kerrors.UnknownPhase(phase)
	}
	if r.started[phase] {
		r.logger.Debug("task registered after phase started", map[string]interface{}{
			"phase": phase,
			"task":  name,
		})
	}
	r.tasks[phase] = append(r.tasks[phase], registration{name: name, task: task, handle: handle})
	return nil
}

// Snapshot returns the tasks to run for phase and marks their handles
// started so later Cancel calls fail. Cancelled registrations are skipped.
func (r *Registry) Snapshot(phase string) []TaskEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.started[phase] = true
	regs := r.tasks[phase]
	entries := make([]TaskEntry, 0, len(regs))
	for _, reg := range regs {
		if reg.handle != nil && !reg.handle.start() {
			continue
		}
		entries = append(entries, TaskEntry{Name: reg.name, Run: reg.task})
	}
	return entries
}

// Len returns the number of registrations for phase, cancelled ones included.
func (r *Registry) Len(phase string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks[phase])
}
