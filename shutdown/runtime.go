package shutdown

import (
	"context"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Runtime is the root of a process's long-running work: a context that
// ends on termination plus the named goroutines started under it.
// Done closes once the context has ended and every goroutine returned.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	wg       sync.WaitGroup
	running  map[string]int
	stopping bool
	done     chan struct{}
}

// NewRuntime creates a runtime that also terminates when parent ends.
func NewRuntime(parent context.Context) *Runtime {
	ctx, cancel := context.WithCancel(parent)
	r := &Runtime{
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]int),
		done:    make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		r.mu.Lock()
		r.stopping = true
		r.mu.Unlock()
		r.wg.Wait()
		close(r.done)
	}()
	return r
}

// Context returns the runtime context. It is cancelled by Terminate.
func (r *Runtime) Context() context.Context {
	return r.ctx
}

// Go runs fn in a goroutine tracked by the runtime. It returns false
// without running fn once termination has begun.
func (r *Runtime) Go(name string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return false
	}
	r.wg.Add(1)
	r.running[name]++
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.running[name]--
			if r.running[name] == 0 {
				delete(r.running, name)
			}
			r.mu.Unlock()
			r.wg.Done()
		}()
		fn(r.ctx)
	}()
	return true
}

// Running returns the names of goroutines that have not returned yet.
func (r *Runtime) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := maps.Keys(r.running)
	slices.Sort(names)
	return names
}

// Terminate begins termination. Safe to call more than once.
func (r *Runtime) Terminate() {
	r.cancel()
}

// Terminating is closed when termination has begun.
func (r *Runtime) Terminating() <-chan struct{} {
	return r.ctx.Done()
}

// Done is closed when termination has finished.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}
