// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_IntervalTaskRunsRepeatedlyAndRecordsOutcome(t *testing.T) {
	s := New()
	var runs int32

	task := &Task{
		ID:       "tick",
		Name:     "tick",
		Schedule: Schedule{Kind: ScheduleInterval, Interval: 20 * time.Millisecond},
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Register(ctx, task))

	time.Sleep(120 * time.Millisecond)
	cancel()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(3))
	status, _ := task.State()
	assert.Equal(t, StatusIdle, status)
	require.NotNil(t, task.LastRun())
	assert.NoError(t, task.LastRun().Err)
}

func TestScheduler_FailedRunRecordsErrorButKeepsScheduling(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	var runs int32

	task := &Task{
		ID:       "failing",
		Schedule: Schedule{Kind: ScheduleInterval, Interval: 15 * time.Millisecond},
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return boom
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Register(ctx, task))
	time.Sleep(80 * time.Millisecond)
	cancel()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2))
	assert.ErrorIs(t, task.LastRun().Err, boom)
}

func TestScheduler_OnceTaskFiresExactlyOnce(t *testing.T) {
	s := New()
	var runs int32

	task := &Task{
		ID:       "once",
		Schedule: Schedule{Kind: ScheduleOnce, Once: 10 * time.Millisecond},
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Register(ctx, task))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_RejectsDuplicateTaskID(t *testing.T) {
	s := New()
	task := &Task{ID: "dup", Schedule: Schedule{Kind: ScheduleOnce, Once: time.Hour}, Run: func(context.Context) error { return nil }}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Register(ctx, task))
	err := s.Register(ctx, task)
	assert.Error(t, err)
}

func TestScheduler_BoundsParallelRunnableCount(t *testing.T) {
	s := New(WithMaxParallel(2))
	var concurrent int32
	var maxSeen int32
	release := make(chan struct{})

	makeTask := func(id string) *Task {
		return &Task{
			ID:       id,
			Schedule: Schedule{Kind: ScheduleOnce, Once: time.Millisecond},
			Run: func(ctx context.Context) error {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					old := atomic.LoadInt32(&maxSeen)
					if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
						break
					}
				}
				<-release
				atomic.AddInt32(&concurrent, -1)
				return nil
			},
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Register(ctx, makeTask(string(rune('a'+i)))))
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	time.Sleep(50 * time.Millisecond)

	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}
