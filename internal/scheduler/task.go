// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler is a thin wrapper over timers and cron expressions,
// running bounded-parallel callables and tracking each task's last-run
// outcome (spec §4.H).
package scheduler

import (
	"context"
	"sync"
	"time"
)

// ScheduleKind distinguishes the three schedule shapes a Task supports.
type ScheduleKind int

const (
	ScheduleOnce ScheduleKind = iota
	ScheduleInterval
	ScheduleCron
)

// Schedule describes when a task runs.
type Schedule struct {
	Kind     ScheduleKind
	Once     time.Duration // delay from registration
	Interval time.Duration
	Cron     string // standard 5-field cron expression
}

// Status is a task's run state.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
)

// RunResult is recorded after every execution.
type RunResult struct {
	Timestamp time.Time
	Err       error
}

// Callable is the work a task performs on each firing.
type Callable func(ctx context.Context) error

// Task is one scheduled unit of work.
type Task struct {
	ID       string
	Name     string
	Schedule Schedule
	Run      Callable

	mu            sync.Mutex
	status        Status
	runningEvent  int64
	latestEvent   int64
	lastRun       *RunResult
}

// State returns the task's current status and, if Running, the event id
// of the in-flight run.
func (t *Task) State() (Status, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.runningEvent
}

// LastRun returns the most recently recorded outcome, or nil if the task
// has never run.
func (t *Task) LastRun() *RunResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun
}

// beginRun marks the task Running(eventID) and records it as the latest
// dispatched event.
func (t *Task) beginRun(eventID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusRunning
	t.runningEvent = eventID
	t.latestEvent = eventID
}

// endRun records the outcome and transitions back to Idle only if eventID
// is still the latest dispatched event, preventing a late finisher from
// stomping a newer run (spec §4.H).
func (t *Task) endRun(eventID int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRun = &RunResult{Timestamp: time.Now(), Err: err}
	if t.latestEvent == eventID {
		t.status = StatusIdle
		t.runningEvent = 0
	}
}
