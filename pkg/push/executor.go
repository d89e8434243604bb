package push

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrExecutorClosed is returned by Pool.Submit after Close.
var ErrExecutorClosed = errors.New("push: executor closed")

// Executor runs broadcast tasks.
type Executor interface {
	// Submit schedules task. Implementations may run it on the caller's
	// goroutine. An error means the task was not scheduled.
	Submit(task func()) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(task func()) error

// Submit calls f(task).
func (f ExecutorFunc) Submit(task func()) error { return f(task) }

// CallerRuns runs every task synchronously on the submitting goroutine.
var CallerRuns Executor = ExecutorFunc(func(task func()) error {
	task()
	return nil
})

// GoExecutor runs every task on a new goroutine.
var GoExecutor Executor = ExecutorFunc(func(task func()) error {
	go task()
	return nil
})

// Pool runs tasks on goroutines, at most size at a time.
type Pool struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool running at most size tasks concurrently.
// A size below one is treated as one.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger.With("component", "push_pool"),
	}
}

// Submit schedules task. It blocks while the pool is saturated.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrExecutorClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	if err := p.sem.Acquire(context.Background(), 1); err != nil {
		p.wg.Done()
		return err
	}

	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		task()
	}()
	return nil
}

// Wait blocks until every submitted task has finished or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further submissions and waits for running tasks.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Wait(ctx)
}
