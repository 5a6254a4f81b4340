package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/genfill/genfill-agent/internal/api"
	"github.com/genfill/genfill-agent/internal/config"
	"github.com/genfill/genfill-agent/internal/db"
	"github.com/genfill/genfill-agent/internal/fal"
	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/job"
	"github.com/genfill/genfill-agent/internal/logging"
	"github.com/genfill/genfill-agent/internal/matte"
	"github.com/genfill/genfill-agent/internal/media"
	"github.com/genfill/genfill-agent/internal/metrics"
	"github.com/genfill/genfill-agent/internal/pipeline"
	"github.com/genfill/genfill-agent/internal/playback"
	"github.com/genfill/genfill-agent/internal/runs"
	"github.com/genfill/genfill-agent/internal/transfer"
	"github.com/genfill/genfill-agent/internal/ui"
	"github.com/genfill/genfill-agent/internal/watcher"
)

var Version = "0.1.0"

const hostInfoRefreshInterval = time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	envErr := godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.RendersDir(), 0755); err != nil {
		return fmt.Errorf("failed to create renders dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting genfill agent", "version", Version, "data_dir", cfg.DataDir())
	if envErr != nil {
		logger.Debug("no .env file loaded", "error", envErr)
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := runs.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  GENFILL AGENT v%-26s║\n", Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scriptBridge, err := host.NewScriptBridge(host.ScriptConfig{
		Command:       cfg.HostCommand(),
		Script:        cfg.HostScript(),
		Timeout:       cfg.HostTimeout(),
		RenderTimeout: cfg.RenderTimeout(),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize host bridge: %w", err)
	}

	var automation host.Automation = scriptBridge
	if cfg.HostExtractor() == config.ExtractorNative {
		doc := matte.NewScriptDocument(scriptBridge)
		extractor := matte.NewExtractor(doc, matte.Config{
			PollInterval:  cfg.RenderPollInterval(),
			RenderTimeout: cfg.RenderTimeout(),
			FallbackDir:   cfg.RendersDir(),
			Logger:        logger,
		})
		automation = matte.NewNativeBridge(doc, extractor)
	}
	logger.Info("host automation ready", "extractor", cfg.HostExtractor())

	hostInfo := host.NewCachedInfo(scriptBridge, logger)
	go refreshHostInfo(ctx, hostInfo, logger)

	collector := metrics.NewCollector(logger)

	falClient := fal.NewClient(fal.Config{
		QueueURL:   cfg.FalQueueURL(),
		StorageURL: cfg.FalStorageURL(),
		RateLimit:  cfg.APIRateLimit(),
		Logger:     logger,
		Observer:   collector,
	})

	var prober media.Prober
	if ff, err := media.NewFFprobe("ffprobe", logger); err != nil {
		logger.Warn("ffprobe unavailable, render verification disabled", "error", err)
	} else {
		prober = ff
	}

	orch := pipeline.New(pipeline.Config{
		APIKey:          cfg.FalKey(),
		ParallelUploads: cfg.ParallelUploads(),
		Logger:          logger,
	}, pipeline.Deps{
		Host:     automation,
		Transfer: transfer.New(falClient, falClient, logger),
		Submitter: job.NewSubmitter(falClient, job.Models{
			Inpaint:      cfg.InpaintModel(),
			VideoToVideo: cfg.V2VModel(),
		}, logger),
		Poller:   job.NewPoller(falClient, cfg.PollInterval(), logger),
		Runs:     repo,
		Recorder: collector,
		Prober:   prober,
	})

	selection := watcher.New(automation, orch, cfg.SelectionWatchInterval(), logger)
	go selection.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:         cfg.Port(),
		Version:      Version,
		Orchestrator: orch,
		Selection:    selection,
		HostInfo:     hostInfo,
		Repository:   repo,
		Playback:     playback.NewServer(logger),
		Metrics:      collector,
		Logger:       logger,
		StartTime:    startTime,
		DeviceID:     deviceID,
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
			Runs:      orch,
			Selection: selection,
			Logger:    logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop active run", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func refreshHostInfo(ctx context.Context, info *host.CachedInfo, logger *slog.Logger) {
	ticker := time.NewTicker(hostInfoRefreshInterval)
	defer ticker.Stop()

	for {
		if i, err := info.Refresh(ctx); err != nil {
			logger.Warn("host not available", "error", err)
		} else {
			logger.Debug("host info refreshed", "app", i.AppName, "version", i.Version)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func ensureDeviceID(repo runs.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, runs.ConfigKeyDeviceID)
	if err == nil && existing != "" {
		return existing, nil
	}

	deviceID := uuid.NewString()
	if err := repo.SetConfig(ctx, runs.ConfigKeyDeviceID, deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo runs.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, runs.ConfigKeyAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, runs.ConfigKeyAuthToken, token); err != nil {
		return "", err
	}

	return token, nil
}
