package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/letskickk/fact/internal/server"
	"github.com/letskickk/fact/internal/session"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket and HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
		slog.Duration("ping_interval", cfg.Server.GetPingInterval()),
		slog.Duration("chunk_duration", cfg.Capture.GetChunkDuration()),
		slog.String("transcription_model", cfg.OpenAI.TranscriptionModel),
		slog.String("verifier_model", cfg.OpenAI.VerifierModel),
		slog.String("docs_dir", cfg.Knowledge.DocsDir),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	comps, err := newComponents(cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("Failed to initialize service", slog.String("error", err.Error()))
		return err
	}
	defer comps.store.Close()
	logger.Info("Prometheus metrics initialized")

	if cfg.Knowledge.BuildOnStartup {
		go func() {
			stats, err := comps.index.Build(ctx)
			if err != nil {
				logger.Error("Knowledge build failed", slog.String("error", err.Error()))
				return
			}
			logger.Info("Knowledge index ready",
				slog.Int("documents", stats.Documents),
				slog.Int("chunks", stats.Chunks))
		}()
	}

	registry := session.NewRegistry(logger.With(slog.String("component", "session")))
	httpServer := server.NewHTTPServer(cfg.Server, server.Deps{
		Registry:      registry,
		Runner:        comps.runner,
		Transcription: comps.transcription,
		Knowledge:     comps.index,
		Metrics:       comps.metrics,
	}, logger.With(slog.String("component", "server")))

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting connections and cancel live sessions
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Abort a build still in progress
	cancel()

	if err := comps.transcription.Close(shutdownCtx); err != nil {
		logger.Error("Error draining transcription requests", slog.String("error", err.Error()))
	}

	stats := comps.transcription.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_retries", stats.TotalRetries),
	)

	logger.Info("Service stopped")
	return nil
}
