// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon provides the process lifecycle manager wiring the control
// surface, the core supervisor and the task scheduler together, and
// coordinating graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	corelog "github.com/veilmesh/veilcore/internal/log"
)

// ShutdownHook performs cleanup during graceful shutdown. Hooks run in
// reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Manager owns the process lifecycle: starting the optional control
// surface, and running shutdown hooks on exit.
type Manager interface {
	// Start blocks until ctx is cancelled or a server fails.
	Start(ctx context.Context) error

	// Shutdown runs every registered hook in reverse order, collecting
	// every failure rather than stopping at the first.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook appends a named cleanup function.
	RegisterShutdownHook(name string, hook ShutdownHook)
}

// Deps are the manager's logger and optional servers.
type Deps struct {
	Logger zerolog.Logger

	// ControlHandler, if non-nil, is served on ControlAddr. veilcored serves
	// its /status, /apply and /metrics mux here.
	ControlHandler http.Handler
	ControlAddr    string

	// MetricsHandler, if non-nil, is served on MetricsAddr.
	MetricsHandler http.Handler
	MetricsAddr    string

	ShutdownTimeout time.Duration
}

func (d Deps) validate() error {
	return nil
}

type namedHook struct {
	name string
	hook ShutdownHook
}

type manager struct {
	deps Deps

	controlServer *http.Server
	metricsServer *http.Server

	mu            sync.Mutex
	started       bool
	shutdownHooks []namedHook

	logger zerolog.Logger
}

// NewManager builds a Manager from deps.
func NewManager(deps Deps) (Manager, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon dependencies: %w", err)
	}
	if deps.ShutdownTimeout <= 0 {
		deps.ShutdownTimeout = 10 * time.Second
	}
	return &manager{
		deps:   deps,
		logger: deps.Logger.With().Str(corelog.FieldComponent, "daemon").Logger(),
	}, nil
}

func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().Msg("daemon starting")

	g, gctx := errgroup.WithContext(ctx)

	if m.deps.ControlHandler != nil && m.deps.ControlAddr != "" {
		m.controlServer = &http.Server{Addr: m.deps.ControlAddr, Handler: m.deps.ControlHandler}
		g.Go(func() error {
			m.logger.Info().Str("addr", m.deps.ControlAddr).Msg("control surface listening")
			if err := m.controlServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control surface: %w", err)
			}
			return nil
		})
	}

	if m.deps.MetricsHandler != nil && m.deps.MetricsAddr != "" {
		m.metricsServer = &http.Server{Addr: m.deps.MetricsAddr, Handler: m.deps.MetricsHandler}
		g.Go(func() error {
			m.logger.Info().Str("addr", m.deps.MetricsAddr).Msg("metrics listening")
			if err := m.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	// gctx is cancelled either by ctx itself or by the first non-nil g.Go
	// error; Shutdown stops both servers so their goroutines can return and
	// g.Wait() can report which one (if any) actually failed.
	<-gctx.Done()
	shutdownErr := m.Shutdown(context.Background())
	if err := g.Wait(); err != nil {
		m.logger.Error().Err(err).Msg("server failure, shutting down")
		if shutdownErr != nil {
			return fmt.Errorf("%w (shutdown: %v)", err, shutdownErr)
		}
		return err
	}
	if ctx.Err() != nil {
		m.logger.Info().Msg("shutdown signal received")
	}
	return shutdownErr
}

func (m *manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return ErrManagerNotStarted
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, m.deps.ShutdownTimeout)
	defer cancel()

	var errs []error

	if m.controlServer != nil {
		if err := m.controlServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("control surface shutdown: %w", err))
		}
	}
	if m.metricsServer != nil {
		if err := m.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}

	for i := len(m.shutdownHooks) - 1; i >= 0; i-- {
		hook := m.shutdownHooks[i]
		start := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().Err(err).Str("hook", hook.name).Dur("duration", time.Since(start)).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
			continue
		}
		m.logger.Debug().Str("hook", hook.name).Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}

	m.logger.Info().Msg("daemon stopped cleanly")
	return nil
}

func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHooks = append(m.shutdownHooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
