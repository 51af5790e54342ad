// Package bgworker runs fire-and-forget work on a bounded pond pool.
package bgworker

import (
	"context"
	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/osf-moderation/shutdown"
)

const defaultWorkerCount = 10

// Pool is a named worker pool.
type Pool struct {
	name string
	pool pond.Pool
}

// New starts a pool with the given concurrency. A non-positive count uses
// the default.
func New(name string, workers int) *Pool {
	if workers <= 0 {
		workers = defaultWorkerCount
	}

	slog.Debug("Initializing background worker pool", "pool", name, "count", workers)

	return &Pool{name: name, pool: pond.NewPool(workers)}
}

// StopOnShutdown drains the pool from a shutdown hook.
func (p *Pool) StopOnShutdown() *Pool {
	shutdown.BeforeShutdown("bgworker "+p.name, func(context.Context) error {
		slog.Debug("Stopping background worker pool", "pool", p.name)
		p.pool.StopAndWait()
		slog.Debug("Background worker pool stopped", "pool", p.name)

		return nil
	})

	return p
}

// Submit queues f and returns a Task that can be waited on.
func (p *Pool) Submit(f func()) pond.Task { //nolint:ireturn
	return p.pool.Submit(f)
}

// Go queues f. It returns an error if the pool is stopped.
func (p *Pool) Go(f func()) error {
	return p.pool.Go(f)
}

// Running is the number of busy workers.
func (p *Pool) Running() int64 {
	return p.pool.RunningWorkers()
}

// StopAndWait stops accepting work and waits for queued tasks.
func (p *Pool) StopAndWait() {
	p.pool.StopAndWait()
}
