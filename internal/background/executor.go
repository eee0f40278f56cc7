// Package background runs fire-and-forget side work (turn capture, summary
// checks, embedding backfill, archive sync) on a bounded executor. Tasks
// never surface errors to the request that spawned them.
package background

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Executor is a fixed worker pool behind a bounded queue. When the queue is
// full the task is dropped and logged rather than blocking the caller or
// spawning an unbounded goroutine.
type Executor struct {
	queue   chan task
	logger  *slog.Logger
	timeout time.Duration
	observe func(name, status string)
	depth   func(delta int)

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

type task struct {
	name string
	fn   func(context.Context) error
}

// Config configures the executor.
type Config struct {
	// Workers defaults to 4.
	Workers int
	// QueueSize defaults to 64.
	QueueSize int
	// TaskTimeout bounds each task; default 60s. Tasks get a detached
	// context so a finished HTTP request cannot cancel its side work.
	TaskTimeout time.Duration
	Logger      *slog.Logger
	// Observe, when set, receives (task name, ok|error|dropped|panic).
	Observe func(name, status string)
	// QueueDepth, when set, receives +1/-1 as tasks enter and leave the queue.
	QueueDepth func(delta int)
}

// New starts the executor's workers.
func New(cfg Config) *Executor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		queue:   make(chan task, queueSize),
		logger:  logger,
		timeout: timeout,
		observe: cfg.Observe,
		depth:   cfg.QueueDepth,
		done:    make(chan struct{}),
	}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

// Submit enqueues fn. A full or closed executor drops the task with a
// warning; the caller never blocks and never sees the task's error.
func (e *Executor) Submit(name string, fn func(context.Context) error) {
	select {
	case <-e.done:
		e.logger.Warn("executor closed, dropping task", "task", name)
		e.record(name, "dropped")
		return
	default:
	}

	select {
	case e.queue <- task{name: name, fn: fn}:
		if e.depth != nil {
			e.depth(1)
		}
	default:
		e.logger.Warn("background queue full, dropping task", "task", name)
		e.record(name, "dropped")
	}
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case t := <-e.queue:
			if e.depth != nil {
				e.depth(-1)
			}
			e.run(t)
		case <-e.done:
			return
		}
	}
}

func (e *Executor) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("background task panicked",
				"task", t.name, "panic", r, "stack", string(debug.Stack()))
			e.record(t.name, "panic")
		}
	}()

	if err := t.fn(ctx); err != nil {
		e.logger.Warn("background task failed", "task", t.name, "error", err)
		e.record(t.name, "error")
		return
	}
	e.record(t.name, "ok")
}

func (e *Executor) record(name, status string) {
	if e.observe != nil {
		e.observe(name, status)
	}
}

// Close stops accepting work and waits for in-flight tasks. Queued but
// unstarted tasks are abandoned.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}
