// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package corestate implements the State Coordinator: a reusable
// transactional publisher for any clonable state T, used by the Core
// Supervisor and System Proxy Manager (spec §4.E). Grounded on
// original_source/nyanpasu-core/src/state/coordinator.rs.
package corestate

import (
	"context"
	"fmt"
	"sync"
)

// Subscriber is migrated to a new state in insertion order, and rolled back
// in reverse order if any subscriber's migrate fails.
type Subscriber[T any] interface {
	Name() string
	Migrate(ctx context.Context, prev *T, next T) error
	Rollback(ctx context.Context, prev *T, next T) error
}

// Terminated is an optional capability a Subscriber may implement to let the
// coordinator garbage-collect dead subscribers (spec §4.E: "An auxiliary
// capability is_terminated() ... default false").
type Terminated interface {
	IsTerminated() bool
}

// Coordinator is the generic transactional publisher.
type Coordinator[T any] struct {
	mu sync.Mutex

	names       []string // insertion order
	subscribers map[string]Subscriber[T]

	current *T
}

// New returns an empty Coordinator with no current state.
func New[T any]() *Coordinator[T] {
	return &Coordinator[T]{subscribers: make(map[string]Subscriber[T])}
}

// AddSubscriber registers s, indexed by name, appended to the insertion
// order.
func (c *Coordinator[T]) AddSubscriber(s Subscriber[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := s.Name()
	if _, exists := c.subscribers[name]; !exists {
		c.names = append(c.names, name)
	}
	c.subscribers[name] = s
}

// RemoveSubscriber unregisters the subscriber with the given name.
func (c *Coordinator[T]) RemoveSubscriber(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.subscribers, name)
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			break
		}
	}
}

// CurrentState returns a copy of the coordinator's current state, or nil if
// it has never been set.
func (c *Coordinator[T]) CurrentState() *T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	v := *c.current
	return &v
}

// Builder constructs a candidate state from the previous one. A Validation
// error here aborts before any subscriber is touched.
type Builder[T any] func(prev *T) (T, error)

// Upsert builds a candidate state via builder, then applies it.
func (c *Coordinator[T]) Upsert(ctx context.Context, builder Builder[T]) error {
	c.mu.Lock()
	prev := c.current
	c.mu.Unlock()

	next, err := builder(prev)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return c.UpsertState(ctx, next)
}

// UpsertState applies value directly, skipping the build step.
func (c *Coordinator[T]) UpsertState(ctx context.Context, value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apply(ctx, value)
}

// apply runs the protocol from spec §4.E under the coordinator's exclusive
// lock (concurrent upserts are serialized): migrate every subscriber in
// order; on failure at index k, roll back k+1 subscribers in reverse order
// (the failing one first), collect every error, and leave current_state
// unchanged. On full success, current_state <- value.
func (c *Coordinator[T]) apply(ctx context.Context, value T) error {
	prev := c.current

	migrated := make([]string, 0, len(c.names))
	var failedName string
	var migrateErr error

	for _, name := range c.names {
		sub := c.subscribers[name]
		if err := sub.Migrate(ctx, prev, value); err != nil {
			failedName = name
			migrateErr = err
			break
		}
		migrated = append(migrated, name)
	}

	if migrateErr == nil {
		v := value
		c.current = &v
		c.pruneTerminated()
		return nil
	}

	// Rollback: the failing subscriber first (its own migrate partially
	// took effect), then earlier ones in reverse index order.
	ownRollbackErr := c.subscribers[failedName].Rollback(ctx, prev, value)
	var earlierRollbackErrs []error
	for i := len(migrated) - 1; i >= 0; i-- {
		name := migrated[i]
		if err := c.subscribers[name].Rollback(ctx, prev, value); err != nil {
			earlierRollbackErrs = append(earlierRollbackErrs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch {
	case ownRollbackErr == nil && len(earlierRollbackErrs) == 0:
		return &MigrateError{Name: failedName, Err: migrateErr}
	case ownRollbackErr != nil && len(earlierRollbackErrs) == 0:
		return &MigrateAndRollbackError{
			Migrate:  &MigrateError{Name: failedName, Err: migrateErr},
			Rollback: fmt.Errorf("%s: %w", failedName, ownRollbackErr),
		}
	default:
		all := []error{fmt.Errorf("migrate %s: %w", failedName, migrateErr)}
		if ownRollbackErr != nil {
			all = append(all, fmt.Errorf("rollback %s: %w", failedName, ownRollbackErr))
		}
		all = append(all, earlierRollbackErrs...)
		return &BatchError{Errors: all}
	}
}

// pruneTerminated drops subscribers that report IsTerminated() == true.
func (c *Coordinator[T]) pruneTerminated() {
	var kept []string
	for _, name := range c.names {
		if t, ok := c.subscribers[name].(Terminated); ok && t.IsTerminated() {
			delete(c.subscribers, name)
			continue
		}
		kept = append(kept, name)
	}
	c.names = kept
}
