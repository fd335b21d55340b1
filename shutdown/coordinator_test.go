package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	kerrors "github.com/vinayprograms/shutdownkit/errors"
	"github.com/vinayprograms/shutdownkit/logging"
	"github.com/vinayprograms/shutdownkit/telemetry"
)

// testConfig builds a config for a custom graph with runtime integration off.
func testConfig(phases map[string]PhaseConfig) Config {
	return Config{
		Phases:         phases,
		DefaultTimeout: Duration(5 * time.Second),
		Logger:         logging.Discard(),
	}
}

func newTestCoordinator(t *testing.T, phases map[string]PhaseConfig, opts ...Option) *Coordinator {
	t.Helper()
	coord, err := NewCoordinator(testConfig(phases), opts...)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return coord
}

// recorder collects task names in completion order.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) task(name string) Task {
	return func(ctx context.Context) error {
		r.mu.Lock()
		r.order = append(r.order, name)
		r.mu.Unlock()
		return nil
	}
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func chainABC() map[string]PhaseConfig {
	return map[string]PhaseConfig{
		"a": {},
		"b": {DependsOn: []string{"a"}},
		"c": {DependsOn: []string{"b"}},
	}
}

// TestCoordinator_BasicRun tests a run with a single task.
func TestCoordinator_BasicRun(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{"a": {}})

	called := false
	if err := coord.AddTask("a", "test", func(ctx context.Context) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := coord.Run(context.Background(), ReasonUnknown); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected task to be called")
	}

	select {
	case <-coord.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}
	if coord.Err() != nil {
		t.Fatalf("expected Err() to be nil, got %v", coord.Err())
	}
	if coord.State() != StateCompleted {
		t.Fatalf("expected completed state, got %s", coord.State())
	}

	result := coord.Result()
	if result == nil {
		t.Fatal("expected Result to be non-nil")
	}
	if result.RunID == "" {
		t.Fatal("expected a run ID")
	}
	if len(result.Phases) != 1 || result.Phases[0].Outcome != OutcomeCompleted {
		t.Fatalf("expected one completed phase, got %+v", result.Phases)
	}
	if result.Failed() {
		t.Fatal("expected result.Failed() to be false")
	}
}

func TestCoordinator_DependencyOrder(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{
		"a": {},
		"b": {DependsOn: []string{"a"}},
	})

	rec := &recorder{}
	// Register in reverse order
	coord.AddTask("b", "tb", rec.task("tb"))
	coord.AddTask("a", "ta", rec.task("ta"))

	if err := coord.Run(context.Background(), ReasonUnknown); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got := rec.names()
	if len(got) != 2 || got[0] != "ta" || got[1] != "tb" {
		t.Fatalf("expected [ta tb], got %v", got)
	}
}

// TestCoordinator_SharedDependencies covers a, b(a), c(a, b).
func TestCoordinator_SharedDependencies(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{
		"a": {},
		"b": {DependsOn: []string{"a"}},
		"c": {DependsOn: []string{"a", "b"}},
	})

	rec := &recorder{}
	coord.AddTask("c", "c1", rec.task("c1"))
	coord.AddTask("a", "a1", rec.task("a1"))
	coord.AddTask("b", "b1", rec.task("b1"))
	coord.AddTask("a", "a2", rec.task("a2"))

	if err := coord.Run(context.Background(), ReasonUnknown); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got := rec.names()
	if len(got) != 4 {
		t.Fatalf("expected 4 tasks, got %v", got)
	}
	if indexOf(got, "b1") < indexOf(got, "a1") || indexOf(got, "b1") < indexOf(got, "a2") {
		t.Fatalf("expected a tasks before b, got %v", got)
	}
	if got[3] != "c1" {
		t.Fatalf("expected c1 last, got %v", got)
	}
}

// TestCoordinator_Idempotent tests that concurrent triggers run the tasks once.
func TestCoordinator_Idempotent(t *testing.T) {
	coord := newTestCoordinator(t, chainABC())

	var calls atomic.Int32
	for _, p := range []string{"a", "b", "c"} {
		coord.AddTask(p, "count", func(ctx context.Context) error {
			calls.Add(1)
			return nil
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := coord.Run(context.Background(), ReasonUnknown); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 3 {
		t.Fatalf("expected each task once (3 calls), got %d", calls.Load())
	}

	// A later call returns the same outcome without running anything.
	if err := coord.Run(context.Background(), ReasonSignal); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected no extra calls, got %d", calls.Load())
	}
}

func TestCoordinator_FirstReasonWins(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{"a": {}})

	if _, ok := coord.Reason(); ok {
		t.Fatal("expected no reason before a trigger")
	}

	coord.Run(context.Background(), ReasonClusterDowning)
	coord.Run(context.Background(), ReasonSignal)

	reason, ok := coord.Reason()
	if !ok || reason != ReasonClusterDowning {
		t.Fatalf("expected %s, got %s (ok=%v)", ReasonClusterDowning, reason, ok)
	}
	if coord.Result().Reason != ReasonClusterDowning {
		t.Fatalf("expected result reason %s, got %s", ReasonClusterDowning, coord.Result().Reason)
	}
}

func TestCoordinator_TimeoutRecoverContinues(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{
		"a": {Timeout: Duration(50 * time.Millisecond)},
		"b": {DependsOn: []string{"a"}},
	})

	block := make(chan struct{})
	defer close(block)
	coord.AddTask("a", "stuck", func(ctx context.Context) error {
		<-block
		return nil
	})
	ranB := false
	coord.AddTask("b", "after", func(ctx context.Context) error {
		ranB = true
		return nil
	})

	if err := coord.Run(context.Background(), ReasonUnknown); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ranB {
		t.Fatal("expected phase b to run after a recovered timeout")
	}
	if rec := coord.Result().RecoveredPhases(); len(rec) != 1 || rec[0] != "a" {
		t.Fatalf("expected [a] recovered, got %v", rec)
	}
}

func TestCoordinator_TimeoutAbortStops(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{
		"a": {Timeout: Duration(50 * time.Millisecond), Recover: Bool(false)},
		"b": {DependsOn: []string{"a"}},
	})

	block := make(chan struct{})
	defer close(block)
	coord.AddTask("a", "stuck", func(ctx context.Context) error {
		<-block
		return nil
	})
	ranB := false
	coord.AddTask("b", "after", func(ctx context.Context) error {
		ranB = true
		return nil
	})

	err := coord.Run(context.Background(), ReasonUnknown)
	if !kerrors.IsTimeout(err) {
		t.Fatalf("expected SHUTDOWN_TIMEOUT, got %v", err)
	}
	if kerrors.PhaseOf(err) != "a" {
		t.Fatalf("expected phase a on error, got %q", kerrors.PhaseOf(err))
	}
	if ranB {
		t.Fatal("expected phase b not to run after an aborting timeout")
	}
	if !kerrors.IsTimeout(coord.Err()) {
		t.Fatalf("expected Err() to be the timeout, got %v", coord.Err())
	}
	if len(coord.Result().Phases) != 1 {
		t.Fatalf("expected only phase a in the result, got %+v", coord.Result().Phases)
	}
}

func TestCoordinator_TaskFailureDoesNotFailRun(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{"a": {}})

	coord.AddTask("a", "bad", func(ctx context.Context) error { return context.DeadlineExceeded })
	coord.AddTask("a", "panics", func(ctx context.Context) error { panic("boom") })

	if err := coord.Run(context.Background(), ReasonUnknown); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if failed := coord.Result().FailedTasks(); len(failed) != 2 {
		t.Fatalf("expected 2 failed tasks, got %v", failed)
	}
}

func TestCoordinator_DisabledPhase(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{
		"a": {Enabled: Bool(false)},
		"b": {DependsOn: []string{"a"}},
	})

	ranA, ranB := false, false
	coord.AddTask("a", "skipped", func(ctx context.Context) error {
		ranA = true
		return nil
	})
	coord.AddTask("b", "runs", func(ctx context.Context) error {
		ranB = true
		return nil
	})

	if err := coord.Run(context.Background(), ReasonUnknown); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ranA {
		t.Fatal("expected disabled phase's task not to run")
	}
	if !ranB {
		t.Fatal("expected dependent phase to run")
	}
	if coord.Result().Phases[0].Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped outcome, got %s", coord.Result().Phases[0].Outcome)
	}
}

func TestCoordinator_CancelledTask(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{"a": {}})

	ran := false
	handle, err := coord.AddCancellableTask("a", "maybe", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !handle.Cancel() {
		t.Fatal("expected Cancel to succeed")
	}

	coord.Run(context.Background(), ReasonUnknown)
	if ran {
		t.Fatal("expected cancelled task not to run")
	}
}

// TestCoordinator_CancelAfterPhaseStarted tests that a running task can't be withdrawn.
func TestCoordinator_CancelAfterPhaseStarted(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{"a": {}})

	started := make(chan struct{})
	release := make(chan struct{})
	handle, _ := coord.AddCancellableTask("a", "running", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	go coord.Run(context.Background(), ReasonUnknown)
	<-started

	if handle.Cancel() {
		t.Fatal("expected Cancel to fail once the phase started")
	}
	close(release)
	<-coord.Done()
}

// TestCoordinator_RegisterFromRunningTask tests registration into a later phase mid-run.
func TestCoordinator_RegisterFromRunningTask(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{
		"a": {},
		"b": {DependsOn: []string{"a"}},
	})

	ranLate := false
	coord.AddTask("a", "registers", func(ctx context.Context) error {
		return coord.AddTask("b", "late", func(ctx context.Context) error {
			ranLate = true
			return nil
		})
	})

	if err := coord.Run(context.Background(), ReasonUnknown); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ranLate {
		t.Fatal("expected task registered during phase a to run in phase b")
	}
	if failed := coord.Result().FailedTasks(); len(failed) != 0 {
		t.Fatalf("expected registration to succeed, got failures %v", failed)
	}
}

func TestCoordinator_RunFrom(t *testing.T) {
	coord := newTestCoordinator(t, chainABC())

	rec := &recorder{}
	coord.AddTask("a", "ta", rec.task("ta"))
	coord.AddTask("b", "tb", rec.task("tb"))
	coord.AddTask("c", "tc", rec.task("tc"))

	if err := coord.RunFrom(context.Background(), ReasonUnknown, "b"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got := rec.names()
	if len(got) != 2 || got[0] != "tb" || got[1] != "tc" {
		t.Fatalf("expected [tb tc], got %v", got)
	}
}

func TestCoordinator_RunFromUnknownPhase(t *testing.T) {
	coord := newTestCoordinator(t, chainABC())

	err := coord.RunFrom(context.Background(), ReasonUnknown, "nope")
	if !kerrors.IsUnknownPhase(err) {
		t.Fatalf("expected UNKNOWN_PHASE, got %v", err)
	}
	if coord.State() != StateNotStarted {
		t.Fatalf("expected run not started, got %s", coord.State())
	}
	if _, ok := coord.Reason(); ok {
		t.Fatal("expected no reason recorded")
	}
}

func TestCoordinator_CallerContextEnds(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{"a": {}})

	release := make(chan struct{})
	coord.AddTask("a", "slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := coord.Run(ctx, ReasonUnknown)
	if !kerrors.Is(err, kerrors.ErrCodeCanceled) {
		t.Fatalf("expected CANCELED for the waiting caller, got %v", err)
	}

	// The run itself keeps going.
	if !coord.Running() {
		t.Fatal("expected the run to continue")
	}
	close(release)
	<-coord.Done()
	if coord.Err() != nil {
		t.Fatalf("expected run to succeed, got %v", coord.Err())
	}
}

func TestCoordinator_UnknownPhaseRegistration(t *testing.T) {
	coord := newTestCoordinator(t, chainABC())

	if err := coord.AddTask("zzz", "t", noop); !kerrors.IsUnknownPhase(err) {
		t.Fatalf("expected UNKNOWN_PHASE, got %v", err)
	}
}

func TestCoordinator_ConfigurationErrors(t *testing.T) {
	tests := map[string]Config{
		"cycle": testConfig(map[string]PhaseConfig{
			"a": {DependsOn: []string{"b"}},
			"b": {DependsOn: []string{"a"}},
		}),
		"undeclared dependency": testConfig(map[string]PhaseConfig{
			"a": {DependsOn: []string{"ghost"}},
		}),
		"negative timeout": testConfig(map[string]PhaseConfig{
			"a": {Timeout: Duration(-time.Second)},
		}),
		"runtime watcher without termination": {
			Phases:                DefaultPhaseConfigs(),
			RunByRuntimeTerminate: true,
			Logger:                logging.Discard(),
		},
		"terminate without phase": {
			Phases:           map[string]PhaseConfig{"a": {}},
			TerminateRuntime: true,
			Logger:           logging.Discard(),
		},
		"terminate phase disabled": {
			Phases:           map[string]PhaseConfig{PhaseRuntimeTerminate: {Enabled: Bool(false)}},
			TerminateRuntime: true,
			Logger:           logging.Discard(),
		},
	}

	for name, cfg := range tests {
		coord, err := NewCoordinator(cfg)
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		if coord != nil {
			t.Errorf("%s: expected nil coordinator", name)
		}
		if name == "cycle" {
			if !kerrors.IsCycle(err) {
				t.Errorf("%s: expected CYCLE_DETECTED, got %v", name, err)
			}
		} else if !kerrors.IsConfiguration(err) {
			t.Errorf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestCoordinator_Queries(t *testing.T) {
	coord := newTestCoordinator(t, map[string]PhaseConfig{
		"a": {Timeout: Duration(2 * time.Second)},
		"b": {DependsOn: []string{"a"}},
		"c": {DependsOn: []string{"b"}, Enabled: Bool(false), Timeout: Duration(time.Minute)},
	})

	order := coord.Order()
	if len(order) != 3 || order[0] != "a" || order[2] != "c" {
		t.Fatalf("expected [a b c], got %v", order)
	}

	timeout, err := coord.PhaseTimeout("a")
	if err != nil || timeout != 2*time.Second {
		t.Fatalf("expected 2s, got %s (%v)", timeout, err)
	}
	timeout, _ = coord.PhaseTimeout("b")
	if timeout != 5*time.Second {
		t.Fatalf("expected default 5s for b, got %s", timeout)
	}
	if _, err := coord.PhaseTimeout("x"); !kerrors.IsUnknownPhase(err) {
		t.Fatalf("expected UNKNOWN_PHASE, got %v", err)
	}

	if total := coord.TotalTimeout(); total != 7*time.Second {
		t.Fatalf("expected total 7s (disabled c excluded), got %s", total)
	}

	phases := coord.Phases()
	phases["a"] = Phase{Name: "a", Timeout: time.Hour}
	if timeout, _ := coord.PhaseTimeout("a"); timeout != 2*time.Second {
		t.Fatal("expected Phases to return a copy")
	}
	if coord.Result() != nil || coord.Err() != nil {
		t.Fatal("expected no result before the run")
	}
}

func TestCoordinator_OnProgressAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var mu sync.Mutex
	var progress []string

	cfg := testConfig(chainABC())
	cfg.Metrics = metrics
	cfg.OnProgress = func(r PhaseResult) {
		mu.Lock()
		progress = append(progress, r.Name)
		mu.Unlock()
	}
	coord, err := NewCoordinator(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := coord.Run(context.Background(), ReasonSignal); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) != 3 || progress[0] != "a" || progress[2] != "c" {
		t.Fatalf("expected progress for [a b c], got %v", progress)
	}
	if got := testutil.ToFloat64(metrics.runs.WithLabelValues(string(ReasonSignal), "completed")); got != 1 {
		t.Fatalf("expected 1 completed run recorded, got %v", got)
	}
}

func TestCoordinator_DefaultGraph(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logger = logging.Discard()
	coord, err := NewCoordinator(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	rt := coord.Runtime()
	if rt == nil {
		t.Fatal("expected a runtime")
	}
	stopped := make(chan struct{})
	rt.Go("worker", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})

	if err := coord.Run(context.Background(), ReasonUnknown); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	select {
	case <-rt.Done():
	default:
		t.Fatal("expected runtime terminated by the last phase")
	}
	select {
	case <-stopped:
	default:
		t.Fatal("expected runtime goroutine to have returned")
	}
	if len(coord.Result().Phases) != len(DefaultPhases()) {
		t.Fatalf("expected every default phase, got %d", len(coord.Result().Phases))
	}
}

// TestCoordinator_RunByRuntimeTerminate tests that ending the runtime triggers the run.
func TestCoordinator_RunByRuntimeTerminate(t *testing.T) {
	rt := NewRuntime(context.Background())

	cfg := DefaultConfig()
	cfg.Logger = logging.Discard()
	coord, err := NewCoordinator(cfg, WithRuntime(rt))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	rt.Terminate()

	select {
	case <-coord.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected runtime termination to run the shutdown")
	}
	if reason, _ := coord.Reason(); reason != ReasonRuntimeTerminate {
		t.Fatalf("expected %s, got %s", ReasonRuntimeTerminate, reason)
	}
}

func TestCoordinator_SignalHook(t *testing.T) {
	hooks := NewExitHooks(nil)
	cfg := testConfig(map[string]PhaseConfig{"a": {}})
	coord, err := NewCoordinator(cfg, WithExitHooks(hooks))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	coord.HandleSignals()
	defer hooks.Stop()

	// Running the hooks directly stands in for process exit.
	hooks.Run()

	select {
	case <-coord.Done():
	default:
		t.Fatal("expected exit hook to run the shutdown to completion")
	}
	if reason, _ := coord.Reason(); reason != ReasonExitHook {
		t.Fatalf("expected %s, got %s", ReasonExitHook, reason)
	}
}

func TestCoordinator_SignalHookCancelledAfterRun(t *testing.T) {
	hooks := NewExitHooks(nil)
	coord, err := NewCoordinator(testConfig(map[string]PhaseConfig{"a": {}}), WithExitHooks(hooks))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	coord.HandleSignals()
	defer hooks.Stop()

	coord.Run(context.Background(), ReasonClusterLeaving)
	if !coord.exitHook.IsCancelled() {
		t.Fatal("expected exit hook cancelled once the run completed")
	}
}

func TestCoordinator_Spans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))

	cfg := testConfig(chainABC())
	cfg.Tracer = telemetry.NewTracerFromProvider(tp, "test", true)
	coord, err := NewCoordinator(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	coord.AddTask("b", "tb", noop)

	if err := coord.Run(context.Background(), ReasonUnknown); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	names := make(map[string]bool)
	for _, s := range exp.GetSpans() {
		names[s.Name] = true
	}
	for _, want := range []string{"shutdown.run", "shutdown.phase.a", "shutdown.phase.b", "shutdown.phase.c", "shutdown.task.tb"} {
		if !names[want] {
			t.Errorf("expected span %q, got %v", want, names)
		}
	}
}
