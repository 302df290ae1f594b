package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medit/medit-engine/internal/api"
	"github.com/medit/medit-engine/internal/config"
	"github.com/medit/medit-engine/internal/library"
	"github.com/medit/medit-engine/internal/logging"
	"github.com/medit/medit-engine/internal/media"
	"github.com/medit/medit-engine/internal/player"
	"github.com/medit/medit-engine/internal/project"
	"github.com/medit/medit-engine/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting medit engine", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := library.NewDB(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := library.NewRepository(database.Conn())

	// codec-backed builds swap in their media backend here; the stub
	// rejects opens so the control surface still comes up without one
	backend := media.NewStubBackend(logging.WithComponent(logger, "media"))

	librarySvc := library.NewService(repo, backend, logging.WithComponent(logger, "library"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fsw := watcher.NewFsWatcher(logging.WithComponent(logger, "watcher"))
	fsw.OnChange(func(path string, event watcher.EventType) {
		if event == watcher.EventCreate || event == watcher.EventModify {
			librarySvc.OnMediaFile(path)
		}
	})
	for _, dir := range cfg.WatchDirs() {
		if err := fsw.Watch(ctx, dir); err != nil {
			logger.Warn("failed to watch media directory", "dir", dir, "error", err)
		}
	}
	defer fsw.Stop()

	plr := player.New(backend, logging.WithComponent(logger, "player"))
	plr.SetPreferHwDecoder(cfg.PreferHwDecoder())
	defer plr.Close()

	proj := project.New(logging.WithComponent(logger, "project"))
	defer proj.Close(true)

	projectBaseDir := cfg.ProjectBaseDir()
	if projectBaseDir == "" {
		projectBaseDir = project.DefaultBaseDir()
	}

	server := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Version:        config.Version,
		StartTime:      startTime,
		Player:         plr,
		Project:        proj,
		Library:        librarySvc,
		Repository:     repo,
		ProjectBaseDir: projectBaseDir,
		SnapshotCount:  cfg.SnapshotCount(),
		Logger:         logging.WithComponent(logger, "api"),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	logger.Info("engine ready", "addr", server.Addr())

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	return nil
}
