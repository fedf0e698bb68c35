// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"fmt"
	"sync"
)

// transition describes one edge in the core lifecycle FSM. Guard may reject
// the transition; Action performs the side-effect that actually moves the
// core (spawning a process, sending an IPC request).
type transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(ctx context.Context, from S, event E) error
	Action func(ctx context.Context, from S, to S, event E) error
}

// machine is a small, strict FSM runner: unknown transitions are errors.
type machine[S ~string, E ~string] struct {
	mu    sync.Mutex
	state S
	index map[string]transition[S, E]
}

func newMachine[S ~string, E ~string](initial S, transitions []transition[S, E]) (*machine[S, E], error) {
	idx := make(map[string]transition[S, E], len(transitions))
	for _, t := range transitions {
		k := fsmKey(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &machine[S, E]{state: initial, index: idx}, nil
}

func (m *machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire attempts to apply an event atomically, running Guard and Action
// outside the critical section so they may themselves block.
func (m *machine[S, E]) Fire(ctx context.Context, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	t, ok := m.index[fsmKey(from, event)]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("invalid transition: state=%s event=%s", from, event)
	}
	to := t.To
	m.mu.Unlock()

	if t.Guard != nil {
		if err := t.Guard(ctx, from, event); err != nil {
			return from, err
		}
	}
	if t.Action != nil {
		if err := t.Action(ctx, from, to, event); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return cur, fmt.Errorf("concurrent transition detected: from=%s cur=%s event=%s", from, cur, event)
	}
	m.state = to
	m.mu.Unlock()

	return to, nil
}

func fsmKey[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
