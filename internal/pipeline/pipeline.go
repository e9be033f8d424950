package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/letskickk/fact/internal/capture"
	"github.com/letskickk/fact/internal/factcheck"
	"github.com/letskickk/fact/internal/knowledge"
	"github.com/letskickk/fact/internal/metrics"
	"github.com/letskickk/fact/internal/protocol"
)

// ErrDeliveryFailed marks an event that could not be handed to the transport
var ErrDeliveryFailed = errors.New("event delivery failed")

// Transcriber converts an audio file into text
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Refiner cleans up a raw transcription
type Refiner interface {
	Refine(ctx context.Context, raw string) (string, error)
}

// Classifier decides whether a statement needs verification
type Classifier interface {
	Classify(ctx context.Context, stmt factcheck.Statement) (factcheck.Classification, error)
}

// Retriever finds reference chunks related to a statement
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]knowledge.Result, error)
}

// Verifier produces a verdict, grounded on reference text when it is non-empty
type Verifier interface {
	Verify(ctx context.Context, stmt factcheck.Statement, grounding string) (factcheck.Verdict, error)
}

// Source yields audio segments until io.EOF
type Source interface {
	Next(ctx context.Context) (capture.Segment, error)
}

// Emitter delivers events to the subscriber
type Emitter interface {
	Emit(event protocol.Event) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(event protocol.Event) error

func (f EmitterFunc) Emit(event protocol.Event) error { return f(event) }

// Config contains per-call timeouts and limits
type Config struct {
	TranscribeTimeout    time.Duration
	RefineTimeout        time.Duration
	ClassifyTimeout      time.Duration
	RetrieveTimeout      time.Duration
	VerifyTimeout        time.Duration
	MaxConsecutiveErrors int
	TopK                 int
}

// DefaultConfig returns the standard limits
func DefaultConfig() Config {
	return Config{
		TranscribeTimeout:    30 * time.Second,
		RefineTimeout:        15 * time.Second,
		ClassifyTimeout:      15 * time.Second,
		RetrieveTimeout:      10 * time.Second,
		VerifyTimeout:        60 * time.Second,
		MaxConsecutiveErrors: 10,
		TopK:                 3,
	}
}

// Stages bundles the external collaborators. Refiner and Retriever are optional.
type Stages struct {
	Transcriber Transcriber
	Refiner     Refiner
	Classifier  Classifier
	Retriever   Retriever
	Verifier    Verifier
}

// Pipeline runs the stage loop for one session at a time per Run call
type Pipeline struct {
	config  Config
	stages  Stages
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a pipeline; zero config values take their defaults
func New(config Config, stages Stages, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	def := DefaultConfig()
	if config.TranscribeTimeout <= 0 {
		config.TranscribeTimeout = def.TranscribeTimeout
	}
	if config.RefineTimeout <= 0 {
		config.RefineTimeout = def.RefineTimeout
	}
	if config.ClassifyTimeout <= 0 {
		config.ClassifyTimeout = def.ClassifyTimeout
	}
	if config.RetrieveTimeout <= 0 {
		config.RetrieveTimeout = def.RetrieveTimeout
	}
	if config.VerifyTimeout <= 0 {
		config.VerifyTimeout = def.VerifyTimeout
	}
	if config.MaxConsecutiveErrors <= 0 {
		config.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if config.TopK <= 0 {
		config.TopK = def.TopK
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		config:  config,
		stages:  stages,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// outcome is the result of processing one chunk
type outcome int

const (
	outcomeSkipped        outcome = iota // nothing transcribed
	outcomeNoCheck                       // classified as not needing a check
	outcomeVerified                      // completed through verification
	outcomeFailed                        // a counted stage failure
	outcomeCancelled                     // run context done
	outcomeDeliveryFailed                // transport gone
)

var outcomeNames = map[outcome]string{
	outcomeSkipped:        "skipped",
	outcomeNoCheck:        "no_check",
	outcomeVerified:       "verified",
	outcomeFailed:         "failed",
	outcomeCancelled:      "cancelled",
	outcomeDeliveryFailed: "delivery_failed",
}

// Run processes segments from src until the source ends, ctx is cancelled,
// delivery fails or too many consecutive chunks fail. It always emits a final
// stopped status and returns the number of chunks attempted.
func (p *Pipeline) Run(ctx context.Context, sessionID string, src Source, emit Emitter) int {
	log := p.logger.With(slog.String("session_id", sessionID))
	chunks := 0

	p.metrics.RecordSessionStarted()
	defer func() {
		if err := emit.Emit(protocol.NewStatus(sessionID, protocol.StatusStopped, chunks)); err != nil {
			log.Debug("Stopped status not delivered", slog.String("error", err.Error()))
		}
		p.metrics.RecordSessionStopped(chunks)
		log.Info("Pipeline stopped", slog.Int("chunks_processed", chunks))
	}()

	if err := p.send(emit, protocol.NewStatus(sessionID, protocol.StatusRunning, 0)); err != nil {
		log.Warn("Transport closed before start", slog.String("error", err.Error()))
		return chunks
	}
	log.Info("Pipeline started")

	started := p.now()
	consecutive := 0

	for {
		if ctx.Err() != nil {
			return chunks
		}

		seg, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Info("Audio source ended")
			case ctx.Err() != nil:
			default:
				log.Error("Audio source failed", slog.String("error", err.Error()))
				_ = p.send(emit, protocol.NewError(fmt.Sprintf("Stream capture failed: %v", err)))
			}
			return chunks
		}
		chunks++

		result := p.processChunk(ctx, log.With(slog.Int("chunk_index", seg.Index)), seg, started, emit)
		p.metrics.RecordChunk(outcomeNames[result])

		switch result {
		case outcomeCancelled, outcomeDeliveryFailed:
			return chunks
		case outcomeVerified, outcomeNoCheck:
			consecutive = 0
		case outcomeFailed:
			consecutive++
			if consecutive >= p.config.MaxConsecutiveErrors {
				log.Error("Too many consecutive errors, stopping pipeline",
					slog.Int("consecutive_errors", consecutive))
				p.metrics.RecordErrorCeiling()
				_ = p.send(emit, protocol.NewError(
					fmt.Sprintf("Too many consecutive errors (%d), stopping pipeline", consecutive)))
				return chunks
			}
		}
	}
}

func (p *Pipeline) processChunk(ctx context.Context, log *slog.Logger, seg capture.Segment, started time.Time, emit Emitter) outcome {
	defer p.removeSegment(log, seg)

	// Transcribe
	var raw string
	err := p.timed(ctx, "transcribe", p.config.TranscribeTimeout, func(ctx context.Context) error {
		var err error
		raw, err = p.stages.Transcriber.Transcribe(ctx, seg.Path)
		return err
	})
	if ctx.Err() != nil {
		return outcomeCancelled
	}
	if err != nil {
		return p.fail(log, emit, seg, "transcription", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		log.Debug("No speech in chunk")
		return outcomeSkipped
	}

	// Refine
	text := p.refine(ctx, log, raw)
	if ctx.Err() != nil {
		return outcomeCancelled
	}

	offset := p.now().Sub(started)
	stmt := factcheck.NewStatement(text, offset)
	stmt.Timestamp = math.Round(stmt.Timestamp*10) / 10
	if err := p.send(emit, protocol.NewTranscription(stmt.ID, stmt.Text, stmt.Timestamp)); err != nil {
		log.Warn("Transport failed", slog.String("error", err.Error()))
		return outcomeDeliveryFailed
	}

	// Classify
	var cls factcheck.Classification
	err = p.timed(ctx, "classify", p.config.ClassifyTimeout, func(ctx context.Context) error {
		var err error
		cls, err = p.stages.Classifier.Classify(ctx, stmt)
		return err
	})
	if ctx.Err() != nil {
		return outcomeCancelled
	}
	if err != nil {
		return p.fail(log, emit, seg, "classification", err)
	}
	if err := p.send(emit, protocol.NewClassification(protocol.ClassificationData{
		StatementID: stmt.ID,
		NeedsCheck:  cls.NeedsCheck,
		ClaimType:   string(cls.ClaimType),
		Reason:      cls.Reason,
	})); err != nil {
		log.Warn("Transport failed", slog.String("error", err.Error()))
		return outcomeDeliveryFailed
	}
	if !cls.NeedsCheck {
		return outcomeNoCheck
	}

	// Retrieve
	grounding := p.retrieve(ctx, log, stmt.Text)
	if ctx.Err() != nil {
		return outcomeCancelled
	}

	// Verify
	var verdict factcheck.Verdict
	err = p.timed(ctx, "verify", p.config.VerifyTimeout, func(ctx context.Context) error {
		var err error
		verdict, err = p.stages.Verifier.Verify(ctx, stmt, grounding)
		return err
	})
	if ctx.Err() != nil {
		return outcomeCancelled
	}
	if err != nil {
		return p.fail(log, emit, seg, "verification", err)
	}
	p.metrics.RecordVerdict(string(verdict.Category))

	if err := p.send(emit, protocol.NewFactCheck(protocol.FactCheckData{
		StatementID:   stmt.ID,
		StatementText: stmt.Text,
		Verdict:       string(verdict.Category),
		Confidence:    factcheck.ClampConfidence(verdict.Confidence),
		Explanation:   verdict.Explanation,
		SourceType:    verdict.SourceType,
		Sources:       verdict.Sources,
	})); err != nil {
		log.Warn("Transport failed", slog.String("error", err.Error()))
		return outcomeDeliveryFailed
	}
	return outcomeVerified
}

// refine falls back to the raw text on any failure
func (p *Pipeline) refine(ctx context.Context, log *slog.Logger, raw string) string {
	if p.stages.Refiner == nil {
		return raw
	}

	var refined string
	err := p.timed(ctx, "refine", p.config.RefineTimeout, func(ctx context.Context) error {
		var err error
		refined, err = p.stages.Refiner.Refine(ctx, raw)
		return err
	})
	if err != nil || strings.TrimSpace(refined) == "" {
		if err != nil && ctx.Err() == nil {
			log.Warn("Refinement failed, using original", slog.String("error", err.Error()))
		}
		return raw
	}
	return strings.TrimSpace(refined)
}

// retrieve returns formatted grounding context, empty on failure or no hits
func (p *Pipeline) retrieve(ctx context.Context, log *slog.Logger, query string) string {
	if p.stages.Retriever == nil {
		return ""
	}

	var results []knowledge.Result
	err := p.timed(ctx, "retrieve", p.config.RetrieveTimeout, func(ctx context.Context) error {
		var err error
		results, err = p.stages.Retriever.Search(ctx, query, p.config.TopK)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("Retrieval failed, verifying without context", slog.String("error", err.Error()))
		}
		return ""
	}
	return FormatGrounding(results)
}

// FormatGrounding renders results as "[source] text" blocks separated by blank lines
func FormatGrounding(results []knowledge.Result) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("[%s] %s", r.Source, r.Text))
	}
	return strings.Join(blocks, "\n\n")
}

// timed runs call under a per-call timeout and records its duration
func (p *Pipeline) timed(ctx context.Context, stage string, timeout time.Duration, call func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := call(callCtx)
	p.metrics.RecordStage(stage, time.Since(start).Seconds())

	if err != nil && ctx.Err() == nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		p.metrics.RecordStageFailure(stage, reason)
	}
	return err
}

// fail reports a counted stage failure for seg
func (p *Pipeline) fail(log *slog.Logger, emit Emitter, seg capture.Segment, stage string, err error) outcome {
	log.Warn("Stage failed",
		slog.String("stage", stage),
		slog.String("error", err.Error()))

	msg := fmt.Sprintf("Chunk %d: %s failed: %v", seg.Index, stage, err)
	if sendErr := p.send(emit, protocol.NewError(msg)); sendErr != nil {
		return outcomeDeliveryFailed
	}
	return outcomeFailed
}

func (p *Pipeline) send(emit Emitter, event protocol.Event) error {
	if err := emit.Emit(event); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, event.Type, err)
	}
	return nil
}

// removeSegment deletes a consumed segment; failure is logged and dropped
func (p *Pipeline) removeSegment(log *slog.Logger, seg capture.Segment) {
	if seg.Path == "" {
		return
	}
	if err := os.Remove(seg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to remove segment", slog.String("error", err.Error()))
	}
}
