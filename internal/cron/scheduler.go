// Package cron runs the gateway's scheduled maintenance jobs: the nightly
// diary writer and the embedding janitor.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Job is one scheduled task.
type Job struct {
	Name     string
	Expr     string
	Run      func(ctx context.Context) error
	schedule cron.Schedule

	NextRun   time.Time
	LastRun   time.Time
	LastError string
}

// Scheduler ticks and runs jobs whose next-run time has passed. Schedule
// expressions are evaluated in the configured location, so "30 23 * * *"
// fires at 23:30 wall-clock there.
type Scheduler struct {
	logger       *slog.Logger
	now          func() time.Time
	loc          *time.Location
	tickInterval time.Duration

	mu      sync.Mutex
	jobs    []*Job
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone schedule expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithTickInterval overrides the scheduler tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// New creates an empty scheduler; register jobs with AddJob before Start.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:       slog.Default().With("component", "cron"),
		now:          time.Now,
		loc:          time.Local,
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a job under a cron expression
// (minute hour dom month dow, seconds field optional).
func (s *Scheduler) AddJob(name, expr string, run func(ctx context.Context) error) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("job name required")
	}
	if run == nil {
		return fmt.Errorf("job %s: run func required", name)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("job %s: invalid cron expression %q: %w", name, expr, err)
	}

	job := &Job{
		Name:     name,
		Expr:     expr,
		Run:      run,
		schedule: schedule,
		NextRun:  schedule.Next(s.now().In(s.loc)),
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

// Start begins the tick loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop waits for the scheduler loop to stop.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes due jobs immediately (primarily for tests).
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

// Jobs returns a snapshot of the registered jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now().In(s.loc)
	count := 0

	s.mu.Lock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		s.mu.Lock()
		if job.NextRun.IsZero() || now.Before(job.NextRun) {
			s.mu.Unlock()
			continue
		}
		job.LastRun = now
		job.NextRun = job.schedule.Next(now)
		s.mu.Unlock()

		err := job.Run(ctx)

		s.mu.Lock()
		if err != nil {
			job.LastError = err.Error()
			s.logger.Warn("cron job failed", "job", job.Name, "error", err)
		} else {
			job.LastError = ""
			s.logger.Info("cron job completed", "job", job.Name, "next_run", job.NextRun)
		}
		s.mu.Unlock()
		count++
	}
	return count
}
