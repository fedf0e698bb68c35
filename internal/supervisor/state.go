// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor owns at most one proxy core instance at a time,
// presenting one state machine over two execution back-ends: a directly
// spawned child process, or a privileged helper reached over IPC.
package supervisor

import "time"

// CoreState is a node in the core lifecycle FSM.
type CoreState string

const (
	StateStopped  CoreState = "Stopped"
	StateStarting CoreState = "Starting"
	StateRunning  CoreState = "Running"
	StateStopping CoreState = "Stopping"
)

// event drives FSM transitions.
type event string

const (
	eventStart       event = "start"
	eventStartOK     event = "start-ok"
	eventStop        event = "stop"
	eventStopOK      event = "stop-ok"
	eventProcessExit event = "process-exit"
)

// RunMode is the execution back-end in effect for this supervisor
// instance, fixed at construction time (spec §4.D).
type RunMode string

const (
	ModeDirect  RunMode = "Direct"
	ModeService RunMode = "Service"
)

// Status is the public snapshot returned by Supervisor.Status.
type Status struct {
	State          CoreState
	StateChangedAt time.Time
	Mode           RunMode
}
