package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/letskickk/fact/internal/capture"
	"github.com/letskickk/fact/internal/config"
	"github.com/letskickk/fact/internal/factcheck"
	"github.com/letskickk/fact/internal/knowledge"
	"github.com/letskickk/fact/internal/metrics"
	"github.com/letskickk/fact/internal/pipeline"
	"github.com/letskickk/fact/internal/session"
	"github.com/letskickk/fact/internal/transcription"
)

// components are the long-lived collaborators shared by all sessions
type components struct {
	metrics       *metrics.Metrics
	store         *knowledge.SQLiteStore
	index         *knowledge.Index
	transcription *transcription.Client
	pipeline      *pipeline.Pipeline
	runner        *session.CaptureRunner
}

// newIndex opens the knowledge cache and builds an (unbuilt) index over it
func newIndex(cfg *config.Config, embeddings knowledge.EmbeddingAPI, m *metrics.Metrics, logger *slog.Logger) (*knowledge.SQLiteStore, *knowledge.Index, error) {
	store, err := knowledge.OpenSQLite(cfg.Knowledge.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open knowledge cache: %w", err)
	}

	index := knowledge.NewIndex(knowledge.Config{
		DocsDir: cfg.Knowledge.DocsDir,
		Chunker: knowledge.Chunker{
			Size:    cfg.Knowledge.ChunkSize,
			Overlap: cfg.Knowledge.ChunkOverlap,
		},
		BatchSize: cfg.Knowledge.BatchSize,
		MinScore:  cfg.Knowledge.MinScore,
	}, store, knowledge.NewOpenAIEmbedder(embeddings, cfg.OpenAI.EmbeddingModel), knowledge.FileExtractor{}, m, logger.With(slog.String("component", "knowledge")))

	return store, index, nil
}

// newComponents wires the service from configuration
func newComponents(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*components, error) {
	m := metrics.NewMetrics(reg)
	client := factcheck.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)

	store, index, err := newIndex(cfg, client, m, logger)
	if err != nil {
		return nil, err
	}

	tc, err := transcription.NewClient(client, transcription.Config{
		Model:         cfg.OpenAI.TranscriptionModel,
		Language:      cfg.OpenAI.Language,
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	}, logger.With(slog.String("component", "transcription")))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create transcription client: %w", err)
	}

	stageLogger := logger.With(slog.String("component", "factcheck"))
	p := pipeline.New(pipeline.Config{
		TranscribeTimeout:    cfg.Pipeline.GetTranscribeTimeout(),
		RefineTimeout:        cfg.Pipeline.GetRefineTimeout(),
		ClassifyTimeout:      cfg.Pipeline.GetClassifyTimeout(),
		RetrieveTimeout:      cfg.Pipeline.GetRetrieveTimeout(),
		VerifyTimeout:        cfg.Pipeline.GetVerifyTimeout(),
		MaxConsecutiveErrors: cfg.Pipeline.MaxConsecutiveErrors,
		TopK:                 cfg.Pipeline.TopK,
	}, pipeline.Stages{
		Transcriber: tc,
		Refiner:     factcheck.NewOpenAIRefiner(client, cfg.OpenAI.RefineModel, stageLogger),
		Classifier:  factcheck.NewOpenAIClassifier(client, cfg.OpenAI.ClassifierModel, stageLogger),
		Retriever:   index,
		Verifier:    factcheck.NewOpenAIVerifier(client, cfg.OpenAI.VerifierModel, stageLogger),
	}, m, logger.With(slog.String("component", "pipeline")))

	runner := &session.CaptureRunner{
		Pipeline: p,
		Resolver: &capture.YTDLPResolver{
			Path:        cfg.Capture.ResolverPath,
			Format:      cfg.Capture.Format,
			CookiesFile: cfg.Capture.CookiesFile,
			Timeout:     cfg.Capture.GetResolveTimeout(),
		},
		Recorder: &capture.FFmpegRecorder{Path: cfg.Capture.RecorderPath},
		Capture: capture.Config{
			ChunkDuration:   cfg.Capture.GetChunkDuration(),
			RefreshEvery:    cfg.Capture.RefreshEvery,
			MinSegmentBytes: cfg.Capture.MinSegmentBytes,
			WorkDir:         cfg.Capture.WorkDir,
		},
		Logger: logger.With(slog.String("component", "capture")),
	}

	return &components{
		metrics:       m,
		store:         store,
		index:         index,
		transcription: tc,
		pipeline:      p,
		runner:        runner,
	}, nil
}
