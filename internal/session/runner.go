package session

import (
	"context"
	"log/slog"

	"github.com/letskickk/fact/internal/capture"
	"github.com/letskickk/fact/internal/pipeline"
)

// CaptureRunner runs the pipeline over a live capture of the stream source
type CaptureRunner struct {
	Pipeline *pipeline.Pipeline
	Resolver capture.Resolver
	Recorder capture.Recorder
	Capture  capture.Config
	Logger   *slog.Logger
}

func (r *CaptureRunner) Run(ctx context.Context, sessionID, streamSource string, emit pipeline.Emitter) int {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session_id", sessionID))

	src := capture.NewSource(streamSource, r.Resolver, r.Recorder, r.Capture, logger)
	defer func() {
		if err := src.RemoveWorkDir(); err != nil {
			logger.Warn("Failed to remove capture work dir",
				slog.String("dir", src.WorkDir()),
				slog.String("error", err.Error()))
		}
	}()

	return r.Pipeline.Run(ctx, sessionID, src, emit)
}
