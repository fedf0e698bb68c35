// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/veilmesh/veilcore/internal/appconfig"
	"github.com/veilmesh/veilcore/internal/auth"
	"github.com/veilmesh/veilcore/internal/core/pathutil"
	"github.com/veilmesh/veilcore/internal/corestate"
	"github.com/veilmesh/veilcore/internal/daemon"
	"github.com/veilmesh/veilcore/internal/enhance"
	"github.com/veilmesh/veilcore/internal/ipc"
	xglog "github.com/veilmesh/veilcore/internal/log"
	"github.com/veilmesh/veilcore/internal/profile"
	"github.com/veilmesh/veilcore/internal/scheduler"
	"github.com/veilmesh/veilcore/internal/subscription"
	"github.com/veilmesh/veilcore/internal/supervisor"
	"github.com/veilmesh/veilcore/internal/sysproxy"
	"github.com/veilmesh/veilcore/internal/telemetry"
	"github.com/veilmesh/veilcore/internal/version"
)

// runtimeState is the thin descriptor the State Coordinator publishes to
// the Core Supervisor and System Proxy Manager whenever the active profile
// chain or proxy intent changes (spec §4.E: "used by the supervisor and
// system-proxy managers").
type runtimeState struct {
	runFilePath string
	proxy       sysproxy.Intent
}

type supervisorSubscriber struct {
	sup *supervisor.Supervisor
}

func (supervisorSubscriber) Name() string { return "supervisor" }

func (s supervisorSubscriber) Migrate(ctx context.Context, _ *runtimeState, _ runtimeState) error {
	return s.sup.UpdateConfig(ctx)
}

func (s supervisorSubscriber) Rollback(ctx context.Context, _ *runtimeState, _ runtimeState) error {
	return s.sup.UpdateConfig(ctx)
}

type proxySubscriber struct {
	mgr    *sysproxy.Manager
	logger zerolog.Logger
}

func (proxySubscriber) Name() string { return "sysproxy" }

func (p proxySubscriber) Migrate(ctx context.Context, _ *runtimeState, next runtimeState) error {
	p.logger.Info().
		Bool(xglog.FieldProxyEnabled, next.proxy.Enabled).
		Str(xglog.FieldProxyHost, next.proxy.Host).
		Int(xglog.FieldProxyPort, next.proxy.Port).
		Str(xglog.FieldPACURL, next.proxy.PACURL).
		Msg("applying system proxy intent")
	return p.mgr.Apply(ctx, next.proxy)
}

func (p proxySubscriber) Rollback(ctx context.Context, prev *runtimeState, _ runtimeState) error {
	if prev == nil {
		return p.mgr.Reset(ctx)
	}
	return p.mgr.Apply(ctx, prev.proxy)
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configDir := flag.String("config-dir", "", "app config directory (defaults to the platform config dir)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{Level: "info", Service: "veilcore", Version: version.Version})
	logger := xglog.WithComponent("veilcored")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dir := strings.TrimSpace(*configDir)
	if dir == "" {
		dir = appconfig.ConfigDir()
	}
	cfg, err := appconfig.Load(dir)
	if err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "config.load_failed").Str("dir", dir).Msg("failed to load app config")
	}
	xglog.Configure(xglog.Config{Level: "info", Service: "veilcore", Version: version.Version})
	logger.Info().Str(xglog.FieldEvent, "config.loaded").Str("dir", dir).Msg("loaded app configuration")

	dataDir := filepath.Join(dir, "data")
	profileDir := filepath.Join(dataDir, "profiles")
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create profile directory")
	}

	store, err := profile.Open(filepath.Join(dataDir, "profiles.yaml"), profileDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open profile store")
	}

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        false,
		ServiceName:    "veilcore",
		ServiceVersion: version.Version,
		Environment:    "production",
		SamplingRate:   1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry provider")
	}

	runFilePath := filepath.Join(dataDir, "run.yaml")

	regenerate := func(ctx context.Context) (string, error) {
		tracer := telemetry.Tracer("pipeline")
		_, span := tracer.Start(ctx, "enhance.run")
		defer span.End()

		_, _, _, err := enhance.Run(ctx, enhance.Deps{
			Store:       store,
			ProfileDir:  profileDir,
			RunFilePath: runFilePath,
		})
		if err != nil {
			return "", err
		}
		return runFilePath, nil
	}

	binaryName := "mihomo"
	if cfg.ClashCore != nil {
		binaryName = string(*cfg.ClashCore)
	}

	var sup *supervisor.Supervisor
	if cfg.EnableServiceMode != nil && *cfg.EnableServiceMode {
		ipcClient := ipc.NewClient(ipc.UnixDialer(filepath.Join(dir, "veilcore-helper.sock")), 5*time.Second)
		sup, err = supervisor.New(supervisor.Config{
			Mode:           supervisor.ModeService,
			IPCClient:      ipcClient,
			CoreType:       binaryName,
			ConfigEndpoint: fmt.Sprintf("http://127.0.0.1:%d/configs", portOrDefault(cfg)),
			HTTPClient:     http.DefaultClient,
			Regenerate:     regenerate,
			Logger:         logger,
		})
	} else {
		sup, err = supervisor.New(supervisor.Config{
			Mode:           supervisor.ModeDirect,
			BinaryName:     binaryName,
			SearchDirs:     []string{dataDir, dir},
			DataDir:        dataDir,
			PIDFilePath:    filepath.Join(dataDir, "core.pid"),
			CoreType:       binaryName,
			ConfigEndpoint: fmt.Sprintf("http://127.0.0.1:%d/configs", portOrDefault(cfg)),
			HTTPClient:     http.DefaultClient,
			Regenerate:     regenerate,
			Logger:         logger,
		})
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct core supervisor")
	}

	proxyMgr := sysproxy.New(sysproxy.NewPlatformSetter())

	coordinator := corestate.New[runtimeState]()
	coordinator.AddSubscriber(supervisorSubscriber{sup: sup})
	coordinator.AddSubscriber(proxySubscriber{mgr: proxyMgr, logger: logger})

	taskScheduler := scheduler.New(scheduler.WithLogger(logger))
	if cfg.EnableProxyGuard != nil && *cfg.EnableProxyGuard {
		guardTask := &scheduler.Task{
			ID:   "proxy-guard",
			Name: "proxy guard",
			Schedule: scheduler.Schedule{
				Kind:     scheduler.ScheduleInterval,
				Interval: time.Duration(*cfg.ProxyGuardInterval) * time.Second,
			},
			Run: func(ctx context.Context) error {
				return proxyMgr.Apply(ctx, currentIntent(cfg))
			},
		}
		if err := taskScheduler.Register(ctx, guardTask); err != nil {
			logger.Error().Err(err).Msg("failed to register proxy guard task")
		}
	}

	fetcher := subscription.New()
	refreshTask := &scheduler.Task{
		ID:   "subscription-refresh",
		Name: "subscription refresh",
		Schedule: scheduler.Schedule{
			Kind:     scheduler.ScheduleInterval,
			Interval: time.Minute,
		},
		Run: func(ctx context.Context) error {
			return refreshDueSubscriptions(ctx, store, profileDir, fetcher, logger)
		},
	}
	if err := taskScheduler.Register(ctx, refreshTask); err != nil {
		logger.Error().Err(err).Msg("failed to register subscription refresh task")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if !auth.AuthorizeRequest(r, os.Getenv("VEILCORE_API_TOKEN")) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		status := sup.Status()
		w.Header().Set("Content-Type", "application/yaml")
		_ = yaml.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("/apply", func(w http.ResponseWriter, r *http.Request) {
		if !auth.AuthorizeRequest(r, os.Getenv("VEILCORE_API_TOKEN")) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next := runtimeState{runFilePath: runFilePath, proxy: currentIntent(cfg)}
		if err := coordinator.UpsertState(r.Context(), next); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	daemonMgr, err := daemon.NewManager(daemon.Deps{
		Logger:         logger,
		ControlHandler: mux,
		ControlAddr:    "127.0.0.1:9191",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct daemon manager")
	}

	daemonMgr.RegisterShutdownHook("telemetry", telemetryProvider.Shutdown)
	daemonMgr.RegisterShutdownHook("supervisor", func(ctx context.Context) error {
		return sup.Stop(ctx)
	})

	if err := sup.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start core supervisor")
	}

	logger.Info().Str(xglog.FieldEvent, "startup").Str("version", version.Version).Msg("starting veilcored")

	if err := daemonMgr.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
}

func portOrDefault(cfg *appconfig.FileConfig) uint16 {
	if cfg.VergeMixedPort != nil {
		return *cfg.VergeMixedPort
	}
	return 7890
}

// refreshDueSubscriptions fetches every Remote profile whose update
// interval has elapsed and persists the fetched content plus quota info
// (spec §4.B: subscription-userinfo/profile-update-interval headers).
func refreshDueSubscriptions(ctx context.Context, store *profile.Store, profileDir string, fetcher *subscription.Fetcher, logger zerolog.Logger) error {
	for _, p := range store.Snapshot() {
		if p.Type != profile.VariantRemote || len(p.Files) == 0 {
			continue
		}
		interval := time.Hour
		if p.Options != nil && p.Options.UpdateIntervalMinutes > 0 {
			interval = time.Duration(p.Options.UpdateIntervalMinutes) * time.Minute
		}
		if !p.LastFetchedAt.IsZero() && time.Since(p.LastFetchedAt) < interval {
			continue
		}

		opts := subscription.Options{}
		if p.Options != nil {
			opts.Proxy = subscription.ProxyChoice{
				UseSystemProxy: p.Options.UseSystemProxy,
				UseOwnProxy:    p.Options.UseOwnProxy,
			}
		}

		result, err := fetcher.Fetch(ctx, p.URL, opts)
		if err != nil {
			logger.Warn().Err(err).Str(xglog.FieldProfileID, p.ID).Msg("subscription fetch failed")
			continue
		}

		raw, err := yaml.Marshal(result.Mapping)
		if err != nil {
			logger.Warn().Err(err).Str(xglog.FieldProfileID, p.ID).Msg("subscription marshal failed")
			continue
		}
		path, err := pathutil.SecureJoin(profileDir, p.Files[0])
		if err != nil {
			logger.Warn().Err(err).Str(xglog.FieldProfileID, p.ID).Msg("subscription content path rejected")
			continue
		}
		if err := renameio.WriteFile(path, raw, 0o644); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldProfileID, p.ID).Msg("subscription content write failed")
			continue
		}

		now := time.Now()
		patch := profile.Patch{LastFetchedAt: &now}
		if result.Info != nil {
			patch.Subscription = &profile.SubscriptionInfo{
				Upload:   result.Info.Upload,
				Download: result.Info.Download,
				Total:    result.Info.Total,
				Expire:   result.Info.Expire,
			}
		}
		if err := store.Patch(p.ID, patch); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldProfileID, p.ID).Msg("subscription metadata patch failed")
		}
	}
	return nil
}

func currentIntent(cfg *appconfig.FileConfig) sysproxy.Intent {
	intent := sysproxy.Intent{
		Enabled: cfg.EnableSystemProxy != nil && *cfg.EnableSystemProxy,
		Host:    "127.0.0.1",
		Port:    int(portOrDefault(cfg)),
	}
	intent.Bypass = sysproxy.DefaultBypass
	if cfg.SystemProxyBypass != nil && *cfg.SystemProxyBypass != "" {
		intent.Bypass = *cfg.SystemProxyBypass
	}
	if cfg.PACURL != nil {
		intent.PACURL = *cfg.PACURL
	}
	return intent
}
