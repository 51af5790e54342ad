// Package shutdown runs named cleanup hooks when the process is asked to stop.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// HookTimeout bounds the context handed to every hook.
const HookTimeout = 10 * time.Second

// Hook releases one resource.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

var (
	mut     sync.Mutex     //nolint:gochecknoglobals
	hooks   []namedHook    //nolint:gochecknoglobals
	channel chan os.Signal //nolint:gochecknoglobals
)

// BeforeShutdown registers a hook. Hooks run in reverse registration order,
// so a resource opened later is released first.
func BeforeShutdown(name string, h Hook) {
	mut.Lock()
	defer mut.Unlock()

	hooks = append(hooks, namedHook{name: name, fn: h})
}

// Shutdown triggers the shutdown process programmatically.
func Shutdown() {
	mut.Lock()
	ch := channel
	mut.Unlock()

	if ch != nil {
		ch <- os.Interrupt
	}
}

// SetupHandler listens for SIGINT and SIGTERM and returns a context that is
// canceled once every hook has run.
func SetupHandler(parent context.Context) context.Context {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	mut.Lock()
	channel = ch
	mut.Unlock()

	ctx, cancel := context.WithCancel(parent)

	go func() {
		sig := <-ch

		signal.Stop(ch)

		mut.Lock()
		channel = nil
		mut.Unlock()

		slog.Warn("Received " + sig.String() + ", shutting down...")

		Run(ctx)
		cancel()
	}()

	return ctx
}

// Run executes and clears every registered hook. Failures are logged.
func Run(ctx context.Context) {
	mut.Lock()
	pending := hooks
	hooks = nil
	mut.Unlock()

	for i := len(pending) - 1; i >= 0; i-- {
		h := pending[i]

		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), HookTimeout)

		if err := h.fn(hookCtx); err != nil {
			slog.Error("shutdown hook failed", "hook", h.name, "error", err)
		} else {
			slog.Debug("shutdown hook finished", "hook", h.name)
		}

		cancel()
	}
}
