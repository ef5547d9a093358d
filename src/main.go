package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arborfm/karaopipe/src/features/artifacts"
	"github.com/arborfm/karaopipe/src/features/config"
	"github.com/arborfm/karaopipe/src/features/dispatcher"
	"github.com/arborfm/karaopipe/src/features/hosting"
	"github.com/arborfm/karaopipe/src/features/logging"
	"github.com/arborfm/karaopipe/src/features/metrics"
	"github.com/arborfm/karaopipe/src/features/notify"
	"github.com/arborfm/karaopipe/src/features/pipeline"
	"github.com/arborfm/karaopipe/src/features/progress"
	"github.com/arborfm/karaopipe/src/features/status"
	"github.com/arborfm/karaopipe/src/infra/clients"
	"github.com/arborfm/karaopipe/src/infra/database"
	"github.com/arborfm/karaopipe/src/infra/watcher"
)

func main() {
	cfgManager, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := cfgManager.Get()

	logger := logging.SetupLogger(cfgManager)
	slog.SetDefault(logger)

	store := artifacts.New(cfg.ArtifactsPath)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if admin := os.Getenv("ADMIN_USERNAME"); admin != "" {
		if err := db.UpsertUser(admin, true, 0); err != nil {
			slog.Warn("failed to bootstrap admin user", "error", err)
		}
	}
	if err := db.RecordSystemStatus("server", "OK", "process started", "startup"); err != nil {
		slog.Warn("failed to record startup status", "error", err)
	}

	statusRegistry := status.New()
	feed := progress.New()

	audioSource := clients.NewAudioSourceClient(cfg.Clients.AudioSource)
	modelHost := clients.NewModelHost(cfg.Clients.ModelHost)
	refLyrics := clients.NewReferenceLyricsClient(cfg.Clients.ReferenceLyrics)
	var generative *clients.GenerativeClient
	if cfg.Clients.Generative.BaseURL != "" {
		generative = clients.NewGenerativeClient(cfg.Clients.Generative)
	}

	metricsHandle := metrics.New(prometheus.DefaultRegisterer)
	notifier := notify.New(cfgManager)

	p := &pipeline.Pipeline{
		Store:  store,
		DB:     db,
		Status: statusRegistry,
		Feed:   feed,

		AudioSource: audioSource,
		ModelHost:   modelHost,
		RefLyrics:   refLyrics,
		Generative:  generative,

		Notifier: notifier,
		Metrics:  metricsHandle,

		CompressTargetKbps: cfg.Pipeline.CompressTargetKbps,
		LogDir:             cfg.Pipeline.LogDir,
		Logger:             logger,
	}

	startupDelay := parseDurationOr(cfg.Reconcile.StartupDelay, 5*time.Second)
	spawnStagger := parseDurationOr(cfg.Reconcile.SpawnStagger, 2*time.Second)

	disp := dispatcher.New(p, store, db, statusRegistry, notifier, logger, cfg.Pipeline.MaxConcurrentWorkers, startupDelay, spawnStagger)

	dirWatcher, err := watcher.New(cfg.ArtifactsPath)
	if err != nil {
		log.Fatalf("failed to start artifact directory watcher: %v", err)
	}
	go dirWatcher.Run(disp.OnTrackDetected)

	server := hosting.NewServer(cfgManager, store, db, feed, disp)

	ctx, cancelReconcile := context.WithCancel(context.Background())
	go disp.Reconcile(ctx)

	go func() {
		slog.Info("starting server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			slog.Error("server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	cancelReconcile()

	if err := dirWatcher.Close(); err != nil {
		slog.Warn("failed to close artifact directory watcher", "error", err)
	}

	if err := server.Shutdown(); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}

	slog.Info("shut down cleanly")
}

// parseDurationOr falls back to fallback on an empty or malformed duration
// string, mirroring infra/clients' own parseTimeout idiom for config values.
func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
