// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	corelog "github.com/veilmesh/veilcore/internal/log"
)

// defaultMaxParallel bounds concurrently running task callables (spec
// §4.H: "a bounded parallel-runnable count, default 5").
const defaultMaxParallel = 5

// cronPollInterval is how often the cron loop checks each registered
// cron task's expression against the wall clock.
const cronPollInterval = time.Second

// Scheduler dispatches Once, Interval, and Cron tasks, bounding how many
// callables may run concurrently.
type Scheduler struct {
	logger  zerolog.Logger
	eventID *eventIDGenerator
	sem     chan struct{}

	mu      sync.Mutex
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc

	cronEngine gronx.Gronx
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithMaxParallel overrides the default bounded parallelism.
func WithMaxParallel(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New constructs a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		eventID:    newEventIDGenerator(),
		sem:        make(chan struct{}, defaultMaxParallel),
		tasks:      make(map[string]*Task),
		cancels:    make(map[string]context.CancelFunc),
		cronEngine: gronx.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a task and starts its timer/cron loop immediately, bound
// to ctx: cancelling ctx stops the task's dispatch loop (its in-flight
// run, if any, still completes).
func (s *Scheduler) Register(ctx context.Context, task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("scheduler: task id required")
	}
	if task.Schedule.Kind == ScheduleCron {
		if !s.cronEngine.IsValid(task.Schedule.Cron) {
			return fmt.Errorf("scheduler: invalid cron expression %q", task.Schedule.Cron)
		}
	}

	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: task %q already registered", task.ID)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	s.tasks[task.ID] = task
	s.cancels[task.ID] = cancel
	s.mu.Unlock()

	switch task.Schedule.Kind {
	case ScheduleOnce:
		go s.runOnce(taskCtx, task)
	case ScheduleInterval:
		go s.runInterval(taskCtx, task)
	case ScheduleCron:
		go s.runCron(taskCtx, task)
	default:
		return fmt.Errorf("scheduler: unknown schedule kind %d", task.Schedule.Kind)
	}
	return nil
}

// Unregister stops a task's dispatch loop and removes it.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
	delete(s.tasks, id)
	delete(s.cancels, id)
}

// Task returns the registered task by id, if any.
func (s *Scheduler) Task(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *Scheduler) runOnce(ctx context.Context, task *Task) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(task.Schedule.Once):
	}
	s.dispatch(ctx, task)
}

func (s *Scheduler) runInterval(ctx context.Context, task *Task) {
	ticker := time.NewTicker(task.Schedule.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, task)
		}
	}
}

func (s *Scheduler) runCron(ctx context.Context, task *Task) {
	ticker := time.NewTicker(cronPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.cronEngine.IsDue(task.Schedule.Cron)
			if err != nil || !due {
				continue
			}
			s.dispatch(ctx, task)
		}
	}
}

// dispatch runs task.Run under the parallelism semaphore, tracking the
// Idle/Running(event_id) transition protocol (spec §4.H). A failure is
// recorded and logged; it never crashes the scheduler.
func (s *Scheduler) dispatch(ctx context.Context, task *Task) {
	eventID := s.eventID.Next()
	task.beginRun(eventID)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		task.endRun(eventID, ctx.Err())
		return
	}
	defer func() { <-s.sem }()

	err := func() (result error) {
		defer func() {
			if r := recover(); r != nil {
				result = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return task.Run(ctx)
	}()

	task.endRun(eventID, err)
	if err != nil {
		s.logger.Error().Err(err).Str(corelog.FieldTaskName, task.Name).Int64(corelog.FieldEventID, eventID).Msg("scheduled task failed")
	}
}
