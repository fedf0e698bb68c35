// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/veilmesh/veilcore/internal/ipc"
	corelog "github.com/veilmesh/veilcore/internal/log"
)

// ErrNotDirect is returned when a Direct-only operation is invoked against a
// Service-mode supervisor.
var ErrNotDirect = errors.New("supervisor: operation requires Direct mode")

const (
	recoveryDelay        = 5 * time.Second
	configPutRetries     = 5
	configPutRetryDelay  = 250 * time.Millisecond
)

// RegenerateConfig rebuilds the "run" file via the enhancement pipeline and
// returns its path. Injected so this package stays independent of the
// profile/enhance packages.
type RegenerateConfig func(ctx context.Context) (runFilePath string, err error)

// Config wires a Supervisor instance.
type Config struct {
	Mode RunMode

	// Direct mode.
	BinaryName  string // e.g. "mihomo"
	SearchDirs  []string // app data dir first, then install dir, per spec §4.D
	DataDir     string
	PIDFilePath string

	// Service mode.
	IPCClient *ipc.Client

	// Shared.
	CoreType          string
	ConfigEndpoint    string // e.g. "http://127.0.0.1:9090/configs"
	HTTPClient        *http.Client
	Regenerate        RegenerateConfig
	Logger            zerolog.Logger
	RingCapacity      int
}

// Supervisor owns at most one core instance, presenting one lifecycle FSM
// regardless of back-end (spec §4.D).
type Supervisor struct {
	mode RunMode
	cfg  Config

	mu    sync.Mutex
	fsm   *machine[CoreState, event]
	ring  *logRing
	logger zerolog.Logger

	stateChangedAt time.Time

	// Direct mode.
	cmd        *exec.Cmd
	killFlag   atomic.Bool
	exitedCh   chan struct{}

	// Service mode.
	ipcClient *ipc.Client
}

// New constructs a Supervisor in the mode fixed by cfg.Mode.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Mode == ModeService && cfg.IPCClient == nil {
		return nil, fmt.Errorf("supervisor: service mode requires an IPC client")
	}
	if cfg.Mode == ModeDirect && cfg.BinaryName == "" {
		return nil, fmt.Errorf("supervisor: direct mode requires a binary name")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	s := &Supervisor{
		mode:      cfg.Mode,
		cfg:       cfg,
		ring:      newLogRing(cfg.RingCapacity),
		logger:    cfg.Logger.With().Str(corelog.FieldComponent, "supervisor").Logger(),
		ipcClient: cfg.IPCClient,
	}

	m, err := newMachine(StateStopped, []transition[CoreState, event]{
		{From: StateStopped, Event: eventStart, To: StateStarting, Action: s.actionStart},
		{From: StateStarting, Event: eventStartOK, To: StateRunning},
		{From: StateStarting, Event: eventStop, To: StateStopping, Action: s.actionStop},
		{From: StateRunning, Event: eventStop, To: StateStopping, Action: s.actionStop},
		{From: StateStopping, Event: eventStopOK, To: StateStopped},
		{From: StateRunning, Event: eventProcessExit, To: StateStopped, Action: s.actionRecover},
		{From: StateStarting, Event: eventProcessExit, To: StateStopped, Action: s.actionRecover},
	})
	if err != nil {
		return nil, err
	}
	s.fsm = m
	s.stateChangedAt = time.Now()
	return s, nil
}

// Status reports the current lifecycle state without blocking writers
// (spec §5: "status() may read without blocking writers").
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	changedAt := s.stateChangedAt
	s.mu.Unlock()
	return Status{State: s.fsm.State(), StateChangedAt: changedAt, Mode: s.mode}
}

// Start spawns (Direct) or requests (Service) the core. In Direct mode it
// returns once the process has been spawned; it does not wait for any
// readiness signal from the core. In Service mode it returns once the helper
// acknowledges.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	to, err := s.fsm.Fire(ctx, eventStart)
	if err != nil {
		return err
	}
	s.markChanged(to)

	to, err = s.fsm.Fire(ctx, eventStartOK)
	if err != nil {
		return err
	}
	s.markChanged(to)
	return nil
}

// Stop halts the core, waiting for exit.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	to, err := s.fsm.Fire(ctx, eventStop)
	if err != nil {
		return err
	}
	s.markChanged(to)

	to, err = s.fsm.Fire(ctx, eventStopOK)
	if err != nil {
		return err
	}
	s.markChanged(to)
	return nil
}

// Restart stops then starts the core.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

func (s *Supervisor) markChanged(state CoreState) {
	s.stateChangedAt = time.Now()
	s.logger.Info().Str(corelog.FieldSupervisorState, string(state)).Msg("supervisor state changed")
}

// UpdateConfig regenerates the run file and pushes it to the core's config
// endpoint, retrying up to configPutRetries times (spec §4.D).
func (s *Supervisor) UpdateConfig(ctx context.Context) error {
	if s.cfg.Regenerate == nil {
		return fmt.Errorf("supervisor: no config regenerator configured")
	}
	runFile, err := s.cfg.Regenerate(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: regenerate config: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < configPutRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(configPutRetryDelay):
			}
		}
		if err := s.putConfig(ctx, runFile); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("supervisor: update config failed after %d attempts: %w", configPutRetries, lastErr)
}

func (s *Supervisor) putConfig(ctx context.Context, runFile string) error {
	if s.cfg.ConfigEndpoint == "" {
		return fmt.Errorf("supervisor: no config endpoint configured")
	}
	body := fmt.Sprintf(`{"path":%q}`, runFile)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.cfg.ConfigEndpoint, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("config endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// ChangeCore swaps the running core type, reverting to the previous type on
// any failure (spec §4.D).
func (s *Supervisor) ChangeCore(ctx context.Context, newType string) error {
	previous := s.cfg.CoreType
	s.cfg.CoreType = newType
	s.logger.Info().Str(corelog.FieldCoreType, newType).Msg("changing core type")

	revert := func(cause error) error {
		s.cfg.CoreType = previous
		if startErr := s.Start(ctx); startErr != nil {
			return fmt.Errorf("%w (revert start also failed: %v)", cause, startErr)
		}
		return cause
	}

	if err := s.UpdateConfig(ctx); err != nil {
		return revert(fmt.Errorf("regenerate config: %w", err))
	}
	if _, err := s.CheckConfig(ctx); err != nil {
		return revert(fmt.Errorf("sanity check: %w", err))
	}
	if err := s.Stop(ctx); err != nil {
		return revert(fmt.Errorf("stop: %w", err))
	}
	if err := s.Start(ctx); err != nil {
		return revert(fmt.Errorf("start: %w", err))
	}
	return nil
}

// checkConfigMarkerStart and checkConfigMarkerEnd bound the error substring
// mihomo-family cores print on a failed one-shot config check.
const (
	checkConfigMarkerStart = "configuration file "
	checkConfigMarkerEnd   = "\n"
)

// CheckConfig invokes the core binary in one-shot check mode and returns
// nil on a zero exit, or the parsed error substring otherwise.
func (s *Supervisor) CheckConfig(ctx context.Context) (string, error) {
	if s.mode != ModeDirect {
		return "", ErrNotDirect
	}
	binaryPath, err := s.resolveBinary()
	if err != nil {
		return "", err
	}
	runFile, err := s.cfg.Regenerate(ctx)
	if err != nil {
		return "", fmt.Errorf("supervisor: regenerate config: %w", err)
	}

	cmd := exec.CommandContext(ctx, binaryPath, "-t", "-d", s.cfg.DataDir, "-f", runFile)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	if runErr == nil {
		return "", nil
	}
	return extractCheckError(out.String()), fmt.Errorf("supervisor: config check failed: %w", runErr)
}

func extractCheckError(output string) string {
	idx := strings.Index(output, checkConfigMarkerStart)
	if idx < 0 {
		return strings.TrimSpace(output)
	}
	rest := output[idx+len(checkConfigMarkerStart):]
	if end := strings.Index(rest, checkConfigMarkerEnd); end >= 0 {
		return strings.TrimSpace(rest[:end])
	}
	return strings.TrimSpace(rest)
}

func (s *Supervisor) resolveBinary() (string, error) {
	for _, dir := range s.cfg.SearchDirs {
		candidate := filepath.Join(dir, s.cfg.BinaryName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("supervisor: binary %q not found in search dirs %v", s.cfg.BinaryName, s.cfg.SearchDirs)
}

// RecentLogs returns the last lines drained from the core's stdout/stderr
// in Direct mode.
func (s *Supervisor) RecentLogs() []string {
	return s.ring.Recent()
}

func (s *Supervisor) actionStart(ctx context.Context, from, to CoreState, ev event) error {
	if s.mode == ModeService {
		runFile, err := s.cfg.Regenerate(ctx)
		if err != nil {
			return err
		}
		resp, err := s.ipcClient.StartCore(ctx, runFile, s.cfg.CoreType)
		if err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("helper refused start: %s", resp.Error)
		}
		return nil
	}
	return s.startDirect(ctx)
}

func (s *Supervisor) actionStop(ctx context.Context, from, to CoreState, ev event) error {
	if s.mode == ModeService {
		resp, err := s.ipcClient.StopCore(ctx)
		if err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("helper refused stop: %s", resp.Error)
		}
		return nil
	}
	return s.stopDirect(ctx)
}

func (s *Supervisor) actionRecover(ctx context.Context, from, to CoreState, ev event) error {
	if s.killFlag.Load() {
		return nil
	}
	go func() {
		select {
		case <-time.After(recoveryDelay):
		case <-ctx.Done():
			return
		}
		if s.killFlag.Load() {
			return
		}
		if err := s.Start(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("recovery restart failed")
		}
	}()
	return nil
}

func (s *Supervisor) startDirect(ctx context.Context) error {
	binaryPath, err := s.resolveBinary()
	if err != nil {
		return err
	}
	runFile, err := s.cfg.Regenerate(ctx)
	if err != nil {
		return err
	}

	s.killFlag.Store(false)
	cmd := exec.Command(binaryPath, runFile, s.cfg.DataDir, s.cfg.PIDFilePath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: spawn core: %w", err)
	}

	s.cmd = cmd
	s.exitedCh = make(chan struct{})

	go s.drain(stdout)
	go s.drain(stderr)
	go s.waitForExit(cmd)

	return nil
}

func (s *Supervisor) drain(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		s.ring.Append(line)
		s.logger.Debug().Str("source", "core").Msg(line)
	}
}

func (s *Supervisor) waitForExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	close(s.exitedCh)

	if s.killFlag.Load() {
		return
	}
	if err == nil {
		return
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		s.logger.Warn().Int(corelog.FieldCoreExitCode, exitErr.ExitCode()).Msg("core exited unexpectedly")
	}
	if _, err := s.fsm.Fire(context.Background(), eventProcessExit); err != nil {
		s.logger.Error().Err(err).Msg("failed to record unexpected core exit")
	}
}

func (s *Supervisor) stopDirect(ctx context.Context) error {
	s.killFlag.Store(true)
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = s.cmd.Process.Kill()
	}
	select {
	case <-s.exitedCh:
	case <-ctx.Done():
		_ = s.cmd.Process.Kill()
	}
	return nil
}
