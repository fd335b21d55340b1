package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	kerrors "github.com/vinayprograms/shutdownkit/errors"
	"github.com/vinayprograms/shutdownkit/logging"
	"github.com/vinayprograms/shutdownkit/telemetry"
)

// signalWaitGrace is added to TotalTimeout when a signal hook waits for a run.
const signalWaitGrace = time.Second

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithRuntime sets the runtime terminated by the runtime-terminate phase.
func WithRuntime(rt *Runtime) Option {
	return func(c *Coordinator) {
		c.runtime = rt
	}
}

// WithExitHooks sets the hook registry used by RunOnSignal.
// Default: ProcessExitHooks()
func WithExitHooks(h *ExitHooks) Option {
	return func(c *Coordinator) {
		c.exitHooks = h
	}
}

// Coordinator runs the registered shutdown tasks phase by phase, once.
type Coordinator struct {
	config   Config
	phases   map[string]Phase
	order    []string
	registry *Registry
	logger   *logging.Logger
	tracer   *telemetry.Tracer

	runtime   *Runtime
	exitHooks *ExitHooks
	exitHook  *Cancellable

	state atomic.Int32
	done  chan struct{}

	mu        sync.Mutex
	reason    Reason
	reasonSet bool
	result    *RunResult
	err       error
}

// NewCoordinator validates cfg, computes the phase order and returns a
// coordinator ready to accept tasks.
func NewCoordinator(cfg Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	phases := cfg.phases()
	order, err := ComputeOrder(phases)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
		logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	}
	logger = logger.WithComponent("shutdown")

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}

	c := &Coordinator{
		config:   cfg,
		phases:   phases,
		order:    order,
		registry: NewRegistry(order, logger),
		logger:   logger,
		tracer:   tracer,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.TerminateRuntime {
		if c.runtime == nil {
			c.runtime = NewRuntime(context.Background())
		}
		rt := c.runtime
		if err := c.AddTerminationTask(PhaseRuntimeTerminate, "terminate-runtime", rt, rt.Terminate); err != nil {
			return nil, err
		}
	}
	if cfg.RunByRuntimeTerminate {
		go c.watchRuntime()
	}
	if cfg.RunOnSignal {
		c.HandleSignals()
	}
	return c, nil
}

// HandleSignals runs the shutdown when the process receives SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	c.mu.Lock()
	if c.exitHooks == nil {
		c.exitHooks = ProcessExitHooks()
	}
	hooks := c.exitHooks
	if c.exitHook == nil {
		c.exitHook = hooks.Add(func() {
			reason := ReasonExitHook
			if hooks.Signal() != nil {
				reason = ReasonSignal
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.TotalTimeout()+signalWaitGrace)
			defer cancel()
			_ = c.Run(ctx, reason)
		})
	}
	c.mu.Unlock()

	hooks.Notify(syscall.SIGTERM, syscall.SIGINT)
}

func (c *Coordinator) watchRuntime() {
	select {
	case <-c.runtime.Terminating():
		_ = c.Run(context.Background(), ReasonRuntimeTerminate)
	case <-c.done:
	}
}

// AddTask registers task to run during phase.
func (c *Coordinator) AddTask(phase, name string, task Task) error {
	return c.registry.AddTask(phase, name, task)
}

// AddCancellableTask registers task to run during phase unless the returned
// handle is cancelled before the phase starts.
func (c *Coordinator) AddCancellableTask(phase, name string, task Task) (*Cancellable, error) {
	return c.registry.AddCancellableTask(phase, name, task)
}

// Run starts the shutdown with reason, or joins the run already started,
// and waits for it to finish or for ctx to end. The first caller's reason is
// the one recorded.
func (c *Coordinator) Run(ctx context.Context, reason Reason) error {
	return c.run(ctx, reason, c.order)
}

// RunFrom is like Run but skips every phase ordered before fromPhase.
// It has no effect on a run that has already started.
func (c *Coordinator) RunFrom(ctx context.Context, reason Reason, fromPhase string) error {
	i := slices.Index(c.order, fromPhase)
	if i < 0 {
		return kerrors.UnknownPhase(fromPhase)
	}
	return c.run(ctx, reason, c.order[i:])
}

func (c *Coordinator) run(ctx context.Context, reason Reason, order []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if !c.reasonSet {
		c.reason = reason
		c.reasonSet = true
	}
	c.mu.Unlock()

	if c.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		go c.execute(order)
	}

	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return kerrors.Wrap(ctx.Err(), "waiting for shutdown")
	}
}

func (c *Coordinator) execute(order []string) {
	reason, _ := c.Reason()
	runID := uuid.NewString()
	logger := c.logger.WithTraceID(runID)
	executor := NewExecutor(logger, c.tracer, c.config.Metrics)

	result := &RunResult{
		RunID:   runID,
		Reason:  reason,
		Started: time.Now(),
		Phases:  make([]PhaseResult, 0, len(order)),
	}

	ctx, span := c.tracer.StartRunSpan(WithReason(context.Background(), reason), runID, string(reason))
	logger.RunStart(string(reason), len(order))

	var err error
	for _, name := range order {
		pr, perr := executor.Execute(ctx, c.phases[name], c.registry)
		result.Phases = append(result.Phases, pr)
		if c.config.OnProgress != nil {
			c.config.OnProgress(pr)
		}
		if perr != nil {
			err = perr
			break
		}
	}

	result.TotalDuration = time.Since(result.Started)
	result.Err = err

	c.tracer.EndRunSpan(span, len(result.Phases), err)
	logger.RunComplete(string(reason), result.TotalDuration, err)
	c.config.Metrics.observeRun(reason, result.TotalDuration, err)

	c.mu.Lock()
	c.result = result
	c.err = err
	hook := c.exitHook
	c.mu.Unlock()

	if hook != nil {
		hook.Cancel()
	}
	c.state.Store(int32(StateCompleted))
	close(c.done)
}

// Done returns a channel that is closed when the run is complete.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the run error, or nil while the run has not finished.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Result returns the run result, or nil while the run has not finished.
func (c *Coordinator) Result() *RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Reason returns the recorded reason. ok is false before any trigger.
func (c *Coordinator) Reason() (reason Reason, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.reasonSet
}

// State returns the run state.
func (c *Coordinator) State() RunState {
	return RunState(c.state.Load())
}

// Running reports whether the run has started and not finished.
func (c *Coordinator) Running() bool {
	return c.State() == StateRunning
}

// Runtime returns the runtime terminated by the runtime-terminate phase,
// or nil when runtime termination is off.
func (c *Coordinator) Runtime() *Runtime {
	return c.runtime
}

// Order returns the phase execution order.
func (c *Coordinator) Order() []string {
	return slices.Clone(c.order)
}

// Phases returns a copy of the phase graph.
func (c *Coordinator) Phases() map[string]Phase {
	phases := make(map[string]Phase, len(c.phases))
	for name, p := range c.phases {
		phases[name] = p.clone()
	}
	return phases
}

// PhaseTimeout returns the timeout of the named phase.
func (c *Coordinator) PhaseTimeout(phase string) (time.Duration, error) {
	p, ok := c.phases[phase]
	if !ok {
		return 0, kerrors.UnknownPhase(phase)
	}
	return p.Timeout, nil
}

// TotalTimeout is the longest a full run can take: the sum of the timeouts
// of every enabled phase.
func (c *Coordinator) TotalTimeout() time.Duration {
	var total time.Duration
	for _, name := range c.order {
		if p := c.phases[name]; p.Enabled {
			total += p.Timeout
		}
	}
	return total
}

// Registry returns the task registry, for diagnostics.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}
