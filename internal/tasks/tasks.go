// Package tasks runs named background tasks with tracked completion.
// The upload workflow dispatches document processing through a Runner so
// shutdown can wait for in-flight work instead of dropping it, and so tests
// can observe when a background task has finished.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agrodocs/agrodocs-go/internal/logging"
)

// Runner executes background tasks. It is safe for concurrent use.
type Runner struct {
	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRunner constructs a Runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Go runs fn on its own goroutine and returns a channel that receives fn's
// result exactly once and is then closed. The task context is detached from
// ctx's cancellation so an HTTP request finishing does not cancel the
// processing it started; ctx's values (logger, request ID) are kept.
//
// After Drain has been called, Go rejects new tasks and the returned channel
// yields an error immediately.
func (r *Runner) Go(ctx context.Context, name string, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		done <- fmt.Errorf("tasks: runner is draining, rejected %q", name)
		close(done)
		return done
	}
	r.wg.Add(1)
	r.mu.Unlock()

	taskCtx := context.WithoutCancel(ctx)
	log := logging.FromContext(ctx)

	go func() {
		defer r.wg.Done()
		defer close(done)

		start := time.Now()
		err := fn(taskCtx)
		if err != nil {
			log.Error("task failed",
				slog.String("task", name),
				slog.Duration("elapsed", time.Since(start)),
				slog.Any("error", err))
		} else {
			log.Debug("task finished",
				slog.String("task", name),
				slog.Duration("elapsed", time.Since(start)))
		}
		done <- err
	}()

	return done
}

// Drain stops accepting new tasks and waits for in-flight tasks to finish,
// or for ctx to be cancelled, whichever comes first.
func (r *Runner) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks: drain interrupted: %w", ctx.Err())
	}
}
