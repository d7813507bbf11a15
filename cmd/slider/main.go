package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bennhub/groove-slider-app/internal/api"
	"github.com/bennhub/groove-slider-app/internal/assets"
	"github.com/bennhub/groove-slider-app/internal/config"
	"github.com/bennhub/groove-slider-app/internal/db"
	"github.com/bennhub/groove-slider-app/internal/export"
	"github.com/bennhub/groove-slider-app/internal/logging"
	"github.com/bennhub/groove-slider-app/internal/preview"
	"github.com/bennhub/groove-slider-app/internal/project"
	"github.com/bennhub/groove-slider-app/internal/render"
	"github.com/bennhub/groove-slider-app/internal/tracks"
	"github.com/bennhub/groove-slider-app/internal/ui"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// Optional .env next to the binary; real env vars win.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.AssetsDir(), cfg.WorkDir(), cfg.OutputDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting groove slider", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := project.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  GROOVE SLIDER v%-7s                   ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	normalizer, err := assets.NewNormalizer(filepath.Join(cfg.AssetsDir(), "normalized"), logger)
	if err != nil {
		return fmt.Errorf("failed to create normalizer: %w", err)
	}

	projectSvc, err := project.NewService(repo, normalizer, tracks.NewStubTempoDetector(logger), cfg.AssetsDir(), logging.WithComponent(logger, "project"))
	if err != nil {
		return fmt.Errorf("failed to create project service: %w", err)
	}

	doctor := render.NewDoctor(cfg.FFmpegPath(), logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.EncoderTimeoutProbe())
	caps := doctor.Refresh(initCtx)
	initCancel()

	var engine render.Engine
	if caps != nil && caps.HasFFmpeg {
		engineCfg := render.DefaultEngineConfig(cfg.WorkDir(), logger)
		engineCfg.FFmpegPath = caps.FFmpegPath
		engineCfg.ClipTimeout = cfg.EncoderTimeoutClip()
		engineCfg.MuxTimeout = cfg.EncoderTimeoutMux()
		engine = render.NewFFmpegEngine(engineCfg)
		logger.Info("ffmpeg encoder ready", "path", logging.SanitizePath(caps.FFmpegPath), "version", caps.Version)
	} else {
		engine = render.NewMJPEGEngine(cfg.WorkDir(), logger)
		logger.Warn("ffmpeg not found, falling back to motion-jpeg encoder (no audio)")
	}

	pipeline := render.NewPipeline(engine, logging.WithComponent(logger, "render"))

	saver, err := export.NewDirSaver(cfg.OutputDir())
	if err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	orchestrator := export.NewOrchestrator(pipeline, repo, saver, cfg.ExportHardCap(), logging.WithComponent(logger, "export"))

	var trackClient tracks.Client
	if cfg.TracksBaseURL() != "" && cfg.TracksToken() != "" {
		trackClient = tracks.NewHTTPClient(cfg.TracksBaseURL(), cfg.TracksToken(), logger)
		logger.Info("track catalog enabled", "base_url", cfg.TracksBaseURL())
	} else {
		trackClient = tracks.NewStubClient(logger)
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Projects:       projectSvc,
		Repository:     repo,
		Orchestrator:   orchestrator,
		Tracks:         trackClient,
		Doctor:         doctor,
		Preview:        preview.NewServer(logger),
		Logger:         logger,
		StartTime:      startTime,
		EngineName:     engine.Name(),
		ContainerExt:   engine.ContainerExt(),
		UploadMaxBytes: cfg.UploadMaxBytes(),
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Logger: logger,
			OnCancel: func() {
				if job := orchestrator.Active(); job != nil {
					job.Cancel()
				}
			},
			OnQuit: func() {
				close(quitCh)
			},
		})
		orchestrator.SetProgressListener(func(jobID string, percent int, stage render.Stage, message string) {
			tray.UpdateExport(percent, string(stage))
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")

	if job := orchestrator.Active(); job != nil {
		logger.Info("cancelling active export before shutdown", "export_id", job.ID)
		job.Cancel()
		select {
		case <-job.Done():
		case <-time.After(30 * time.Second):
			logger.Warn("active export did not stop in time")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo project.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
