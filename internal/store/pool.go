package store

import (
	"context"
	"sync"
)

// Pool runs submitted functions on a fixed set of workers. Callers block
// until their function completes or their context is done, so cancellation
// never leaks a waiting goroutine.
type Pool struct {
	tasks chan poolTask

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

type poolTask struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// NewPool starts workers goroutines.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		tasks: make(chan poolTask),
		done:  make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			if err := task.ctx.Err(); err != nil {
				task.result <- err
				continue
			}
			task.result <- task.fn(task.ctx)
		case <-p.done:
			return
		}
	}
}

// Do runs fn on a pool worker and returns its error. If ctx is done before
// a worker picks the task up, Do returns the context error and fn never runs.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	task := poolTask{
		ctx:    ctx,
		fn:     fn,
		result: make(chan error, 1),
	}

	select {
	case p.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return context.Canceled
	}

	select {
	case err := <-task.result:
		return err
	case <-ctx.Done():
		// The worker still finishes fn; the buffered result channel keeps
		// it from blocking.
		return ctx.Err()
	}
}

// Close stops the workers. Pending Do calls return context.Canceled.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
