// Package tasks runs best-effort background work (audit logging, timestamp touches)
// whose failures are recorded but never reach the caller.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voltmoto/site/backend/internal/metrics"
)

// ErrRunnerClosed is returned by Go after Shutdown has started
var ErrRunnerClosed = errors.New("task runner is shut down")

// DefaultTimeout bounds a single task
const DefaultTimeout = 10 * time.Second

// Runner executes fire-and-forget tasks detached from the request context.
type Runner struct {
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a Runner. A zero timeout uses DefaultTimeout.
func NewRunner(logger *slog.Logger, timeout time.Duration) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{logger: logger, timeout: timeout}
}

// Go schedules fn. The parent context only contributes its values: cancellation of the
// request does not cancel the task.
func (r *Runner) Go(parent context.Context, name string, fn func(ctx context.Context) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.record(name, ErrRunnerClosed)
		return ErrRunnerClosed
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
		defer cancel()

		r.record(name, r.safeRun(ctx, fn))
	}()
	return nil
}

func (r *Runner) safeRun(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Runner) record(name string, err error) {
	if err == nil {
		return
	}
	metrics.TasksFailed.WithLabelValues(name).Inc()
	r.logger.Warn("Background task failed", "task", name, "error", err)
}

// Wait blocks until every scheduled task has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown refuses new tasks and waits for running ones or for ctx to expire
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
