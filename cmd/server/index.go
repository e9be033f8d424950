package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/letskickk/fact/internal/factcheck"
)

func indexCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Build the reference knowledge index and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(*configPath)
		},
	}
}

func runIndex(configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := factcheck.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	store, index, err := newIndex(cfg, client, nil, logger)
	if err != nil {
		logger.Error("Failed to open knowledge index", slog.String("error", err.Error()))
		return err
	}
	defer store.Close()

	docs, err := index.ListDocuments()
	if err != nil {
		logger.Error("Failed to list reference files", slog.String("error", err.Error()))
		return err
	}
	var total int64
	for _, d := range docs {
		total += d.Bytes
	}
	logger.Info("Indexing reference files",
		slog.String("docs_dir", cfg.Knowledge.DocsDir),
		slog.Int("files", len(docs)),
		slog.String("size", humanize.Bytes(uint64(total))),
	)

	started := time.Now()
	stats, err := index.Build(ctx)
	if err != nil {
		logger.Error("Knowledge build failed", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Knowledge index built",
		slog.Int("documents", stats.Documents),
		slog.Int("reused", stats.Reused),
		slog.Int("embedded", stats.Embedded),
		slog.Int("skipped", stats.Skipped),
		slog.Int("purged", stats.Purged),
		slog.Int("chunks", stats.Chunks),
		slog.Duration("duration", time.Since(started)),
	)
	return nil
}
