package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/framewise/framewise/internal/api"
	"github.com/framewise/framewise/internal/catalog"
	"github.com/framewise/framewise/internal/config"
	"github.com/framewise/framewise/internal/db"
	"github.com/framewise/framewise/internal/logging"
	"github.com/framewise/framewise/internal/markup"
	"github.com/framewise/framewise/internal/pipeline"
	"github.com/framewise/framewise/internal/playback"
	"github.com/framewise/framewise/internal/review"
	"github.com/framewise/framewise/internal/session"
	"github.com/framewise/framewise/internal/ui"
	"github.com/framewise/framewise/internal/watcher"
)

func runAgent(c *cli.Context) error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.CacheDir(), cfg.ThumbnailDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting framewise agent",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"config_file", cfg.ConfigFile(),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(c.Context, repo, api.AuthTokenKey)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  FRAMEWISE AGENT v%-60s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-48d║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-65s║\n", authToken)
	fmt.Println("╚═══════════════════════════════════════════════════════════════════════════════╝")
	fmt.Println()

	ffCfg := pipeline.DefaultConfig(logging.WithComponent(logger, "ffmpeg"))
	ffCfg.FFmpegPath = cfg.FFmpegPath()
	ffCfg.FFprobePath = cfg.FFprobePath()
	ffmpeg := pipeline.NewRealFFmpeg(ffCfg)

	doctor := pipeline.NewCachedDoctor(ffmpeg, logger)
	initCtx, initCancel := context.WithTimeout(c.Context, 10*time.Second)
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else if !caps.CanDecode() {
		logger.Warn("ffmpeg not found, frames cannot be decoded", "error", caps.FFmpeg.Error)
	}
	initCancel()

	library := catalog.NewService(repo, logging.WithComponent(logger, "library"))
	sess := session.New(session.Options{
		FFmpeg:   ffmpeg,
		Renderer: markup.New(review.Style{Color: cfg.MarkupColor(), Width: cfg.MarkupWidth()}),
		Recorder: library,
		Logger:   logging.WithComponent(logger, "session"),
	})
	defer sess.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	runner := catalog.NewRunner(library, repo, ffmpeg, doctor, catalog.RunnerConfig{
		ThumbnailDir:    cfg.ThumbnailDir(),
		ThumbnailWidth:  cfg.ThumbnailWidth(),
		ThumbnailHeight: cfg.ThumbnailHeight(),
	}, logging.WithComponent(logger, "runner"))
	go runner.Start(ctx)

	fileWatcher := watcher.NewPollWatcher(watcher.DefaultInterval, logging.WithComponent(logger, "watcher"))
	if err := library.SetWatcher(ctx, fileWatcher); err != nil {
		logger.Warn("failed to watch library files", "error", err)
	}
	go fileWatcher.Run(ctx)
	defer fileWatcher.Stop()

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Version:        config.Version,
		Session:        sess,
		Library:        library,
		Repository:     repo,
		Runner:         runner,
		Doctor:         doctor,
		PlaybackServer: playback.NewServer(logger),
		ExportDir:      cfg.ExportDir(),
		Logger:         logging.WithComponent(logger, "api"),
		StartTime:      startTime,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Library: library,
			Session: sess,
			Runner:  runner,
			Logger:  logging.WithComponent(logger, "tray"),
			OnQuit:  quit,
		})
		go tray.Run()
	}

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
		case err := <-serverErr:
			if err != nil {
				logger.Error("HTTP server error", "error", err)
			}
		case <-quitCh:
		}
		quit()
	}()

	<-quitCh
	if tray != nil {
		tray.Quit()
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
