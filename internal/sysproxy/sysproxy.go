// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sysproxy applies and reverts the host's system proxy setting, and
// runs a drift guard that keeps it pinned to the configured intent (spec
// §4.F).
package sysproxy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Intent is the proxy configuration the manager wants applied.
type Intent struct {
	Enabled    bool
	Host       string // typically "127.0.0.1"
	Port       int    // mixed-port
	Bypass     string
	PACURL     string // when non-empty and the platform supports auto-proxy, wins over the manual block
}

// Setter is the platform hook that actually mutates the host's proxy
// settings. One implementation per OS lives behind a build tag.
type Setter interface {
	Apply(ctx context.Context, intent Intent) error
	Capture(ctx context.Context) (Intent, error)
	SupportsAutoProxy() bool
}

const (
	defaultGuardInterval = 10 * time.Second
	minGuardInterval     = 1 * time.Second

	// minApplyInterval floors how often Manager.Apply actually touches the
	// OS, regardless of how often it is called from the coordinator and the
	// control surface's /apply endpoint combined. The drift guard's ticker
	// calls the Setter directly and is not limited by it.
	minApplyInterval = 250 * time.Millisecond
)

// Manager owns the current intent and the original, captured host state,
// and runs the drift guard.
type Manager struct {
	setter  Setter
	limiter *rate.Limiter

	mu       sync.Mutex
	current  *Intent
	original *Intent

	guardRunning atomic.Bool
	guardCancel  context.CancelFunc
}

// New constructs a Manager bound to a platform Setter.
func New(setter Setter) *Manager {
	return &Manager{
		setter:  setter,
		limiter: rate.NewLimiter(rate.Every(minApplyInterval), 1),
	}
}

// Apply implements the rule table in spec §4.F: PAC URL wins on platforms
// that support it; otherwise the manual proxy block is applied.
func (m *Manager) Apply(ctx context.Context, intent Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.original == nil {
		captured, err := m.setter.Capture(ctx)
		if err == nil {
			m.original = &captured
		}
	}

	effective := intent
	if intent.PACURL != "" && m.setter.SupportsAutoProxy() {
		// PAC wins; the manual block fields are irrelevant to the setter
		// when PACURL is set (spec §4.F: "skip the manual proxy block").
	} else {
		effective.PACURL = ""
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sysproxy: apply rate limit: %w", err)
	}
	if err := m.setter.Apply(ctx, effective); err != nil {
		return fmt.Errorf("sysproxy: apply: %w", err)
	}
	m.current = &effective
	return nil
}

// Reset undoes the applied intent (spec §4.F). If an original was captured
// and its port matches the current intent's, the original is applied with
// Enabled=false; otherwise an enabled current intent is applied with
// Enabled=false. With no current intent it does nothing.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.current != nil && m.original != nil && m.current.Port == m.original.Port:
		restored := *m.original
		restored.Enabled = false
		if err := m.setter.Apply(ctx, restored); err != nil {
			return fmt.Errorf("sysproxy: reset (restore original): %w", err)
		}
	case m.current != nil && m.current.Enabled:
		disabled := *m.current
		disabled.Enabled = false
		if err := m.setter.Apply(ctx, disabled); err != nil {
			return fmt.Errorf("sysproxy: reset (disable current): %w", err)
		}
	}

	m.current = nil
	return nil
}

// StartGuard runs the drift guard at most once concurrently; it exits when
// ctx is cancelled or StopGuard is called. It re-applies the current intent
// unconditionally on every tick, defeating external mutation.
func (m *Manager) StartGuard(ctx context.Context, interval time.Duration) {
	if !m.guardRunning.CompareAndSwap(false, true) {
		return
	}
	if interval < minGuardInterval {
		interval = defaultGuardInterval
	}

	guardCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.guardCancel = cancel
	m.mu.Unlock()

	go func() {
		defer m.guardRunning.Store(false)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-guardCtx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				intent := m.current
				m.mu.Unlock()
				if intent == nil {
					continue
				}
				_ = m.setter.Apply(guardCtx, *intent)
			}
		}
	}()
}

// StopGuard cancels the running guard, if any.
func (m *Manager) StopGuard() {
	m.mu.Lock()
	cancel := m.guardCancel
	m.guardCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
