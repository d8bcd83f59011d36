package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/orbitrack/internal/api"
	"github.com/star/orbitrack/internal/auth"
	"github.com/star/orbitrack/internal/config"
	"github.com/star/orbitrack/internal/frames"
	"github.com/star/orbitrack/internal/scene"
	"github.com/star/orbitrack/internal/stream"
	"github.com/star/orbitrack/internal/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracking engine behind the HTTP API",
	Long: `Builds the frame hierarchy and the satellite tracker, reconciles
tracker.catalogIds once at startup and serves the JSON API, the change
stream and Prometheus metrics until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}

	source, archive := newSource(cfg, logger)

	root := scene.NewGroup("scene")
	earth := scene.NewGroup("earth")
	sun := scene.NewGroup("sun")
	orch := frames.NewOrchestrator(cfg.Render.AxisLength, earth, sun, logger)
	orch.RegisterAllFrames(root)

	// Artifacts are Earth-fixed positions, so they hang off the EarthFixed frame.
	earthFixed, err := orch.Hierarchy().Frame(frames.EarthFixed)
	if err != nil {
		return err
	}

	trk := tracker.New(source, earthFixed, tracker.Config{
		Geometry:           geometry(cfg),
		SweepDelay:         cfg.Tracker.SweepDelay,
		FetchConcurrency:   cfg.Tracker.FetchConcurrency,
		StateWorkers:       cfg.Tracker.StateWorkers,
		RetainOnFailure:    cfg.Tracker.RetainOnFailure,
		KeepHiddenOnUpdate: cfg.Tracker.KeepHiddenOnUpdate,
	}, logger)

	hub := stream.NewHub(cfg.Stream.Buffer, logger)
	trk.Subscribe(hub)
	streamHandler := stream.NewHandler(hub, trk, stream.Config{
		MaxConcurrentPerIP: cfg.Stream.MaxConcurrentPerIP,
		KeepaliveInterval:  cfg.Stream.KeepaliveInterval,
		TrustProxy:         cfg.Stream.TrustProxy,
	}, logger)

	var ready atomic.Bool
	authCfg := auth.Config{Token: cfg.HTTP.AuthToken}
	srv := api.NewServer(cfg.HTTP.Addr, logger, authCfg, trk, orch, streamHandler, ready.Load)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Frames.SpinPeriod > 0 {
		go orch.Spin(ctx, cfg.Frames.SpinPeriod, cfg.Frames.Tick)
	}

	go func() {
		initialReconcile(ctx, trk, cfg.Tracker.CatalogIDs, logger)
		ready.Store(true)
		if cfg.Tracker.RefreshInterval > 0 {
			refreshLoop(ctx, trk, cfg.Tracker.RefreshInterval, logger)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTP.Addr,
			"auth_enabled", authCfg.Enabled(),
			"offline", cfg.Ephemeris.Offline,
			"archive_dir", archiveDir(cfg, archive != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error("server listen error", "error", err)
		return err
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func archiveDir(cfg config.Config, enabled bool) string {
	if !enabled {
		return ""
	}
	return cfg.Ephemeris.ArchiveDir
}

func initialReconcile(ctx context.Context, trk *tracker.Tracker, ids []int, logger *slog.Logger) {
	if len(ids) == 0 {
		return
	}
	desired := make([]tracker.Desired, len(ids))
	for i, id := range ids {
		desired[i] = tracker.Desired{CatalogID: id, Status: "configured"}
	}
	ev, err := trk.Reconcile(ctx, desired)
	if err != nil {
		logger.Warn("initial reconcile interrupted", "error", err)
		return
	}
	if len(ev.Failed) > 0 {
		logger.Warn("initial reconcile left bodies untracked", "failed", len(ev.Failed), "tracked", ev.Tracked)
	}
}

// refreshLoop refetches the tracked set so changed elements reach the
// artifacts without a caller pushing a new desired list.
func refreshLoop(ctx context.Context, trk *tracker.Tracker, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := trk.Refresh(ctx); err != nil {
				logger.Debug("refresh interrupted", "error", err)
			}
		}
	}
}
