package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/redback/pkg/observability"
)

// ErrPoolClosed is returned by Submit after Shutdown
var ErrPoolClosed = errors.New("worker pool shut down")

// SafeGo runs fn in a goroutine bounded by timeout. Panics and errors are
// logged rather than propagated.
//
// Example:
//
//	SafeGo(ctx, logger, 10*time.Second, "directory probe", factory.Ping)
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer observability.RecoverPanic(logger.WithField("task", taskName), "background task")

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("Background task failed")
		}
	}()
}

// WorkerPool runs submitted tasks on a fixed number of workers. Task errors
// and panics are logged with the pool's task name.
type WorkerPool struct {
	workers  int
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	mu     sync.RWMutex
	closed bool
	workCh chan func(context.Context) error
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool starts workers goroutines. queue bounds the number of tasks
// waiting for a worker; Submit blocks while the queue is full.
//
//	pool := NewWorkerPool(ctx, logger, 2, 128, "audit", 5*time.Second)
//	defer pool.Shutdown(5 * time.Second)
func NewWorkerPool(ctx context.Context, logger *observability.Logger, workers, queue int, taskName string, timeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   logger.WithField("pool", taskName),
		workCh:   make(chan func(context.Context) error, queue),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go func(id int) {
			defer pool.wg.Done()
			pool.worker(id)
		}(i)
	}
	return pool
}

// Submit queues fn. It fails once the pool is shut down or its context is done.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Shutdown stops accepting tasks and waits up to timeout for queued tasks to
// finish. Workers still running after the timeout have their context cancelled.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.workCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool %s shutdown timed out after %v", p.taskName, timeout)
	}
}

func (p *WorkerPool) worker(id int) {
	for fn := range p.workCh {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer observability.RecoverPanic(p.logger.WithField("worker", id), p.taskName)

	if err := fn(ctx); err != nil {
		p.logger.WithError(err).WithField("worker", id).Warn("Task failed")
	}
}
