package shutdown

import (
	"os"
	ossignal "os/signal"
	"sync"

	kerrors "github.com/vinayprograms/shutdownkit/errors"
	"github.com/vinayprograms/shutdownkit/logging"
)

type exitHook struct {
	action func()
	handle *Cancellable
}

// ExitHooks runs registered actions once when the process is about to exit.
type ExitHooks struct {
	mu      sync.Mutex
	hooks   []exitHook
	ran     bool
	runOnce sync.Once
	done    chan struct{}
	signals chan os.Signal
	caught  os.Signal
	stopCh  chan struct{}
	logger  *logging.Logger
}

var (
	processHooks     *ExitHooks
	processHooksOnce sync.Once
)

// ProcessExitHooks returns the process-wide hook registry.
func ProcessExitHooks() *ExitHooks {
	processHooksOnce.Do(func() {
		processHooks = NewExitHooks(logging.New().WithComponent("exit-hooks"))
	})
	return processHooks
}

// NewExitHooks creates an empty registry.
func NewExitHooks(logger *logging.Logger) *ExitHooks {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ExitHooks{
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Add registers action. The returned handle can withdraw it until the
// hooks run. Adding after the hooks ran returns an already started handle.
func (h *ExitHooks) Add(action func()) *Cancellable {
	handle := newCancellable()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ran {
		handle.start()
		return handle
	}
	h.hooks = append(h.hooks, exitHook{action: action, handle: handle})
	return handle
}

// Run starts every hook that was not cancelled, concurrently, and waits for
// all of them. Only the first call runs anything; later calls wait.
func (h *ExitHooks) Run() {
	h.runOnce.Do(func() {
		h.mu.Lock()
		h.ran = true
		hooks := h.hooks
		h.mu.Unlock()

		var wg sync.WaitGroup
		for _, hook := range hooks {
			if !hook.handle.start() {
				continue
			}
			wg.Add(1)
			go func(hook exitHook) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						h.logger.Warn("exit hook panicked", map[string]interface{}{
							"hook":  hook.handle.ID(),
							"error": kerrors.RecoverPanic(r).Error(),
						})
					}
				}()
				hook.action()
			}(hook)
		}
		wg.Wait()
		close(h.done)
	})
	<-h.done
}

// Done is closed after Run has finished.
func (h *ExitHooks) Done() <-chan struct{} {
	return h.done
}

// Notify runs the hooks on the first of the given signals. Delivery is
// uninstalled before the hooks run, so a second signal gets the default
// behaviour. Calling Notify again while installed does nothing.
func (h *ExitHooks) Notify(signals ...os.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.signals != nil || h.ran {
		return
	}

	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	h.signals = sigCh
	h.stopCh = stopCh
	ossignal.Notify(sigCh, signals...)

	go func() {
		select {
		case sig := <-sigCh:
			ossignal.Stop(sigCh)
			h.mu.Lock()
			h.caught = sig
			h.mu.Unlock()
			h.logger.Info("signal received", map[string]interface{}{"signal": sig.String()})
			h.Run()
		case <-stopCh:
		}
	}()
}

// Signal returns the signal that triggered Run, or nil when Run was
// called directly.
func (h *ExitHooks) Signal() os.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caught
}

// Stop uninstalls signal delivery installed by Notify.
func (h *ExitHooks) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.signals == nil {
		return
	}
	ossignal.Stop(h.signals)
	close(h.stopCh)
	h.signals = nil
	h.stopCh = nil
}
