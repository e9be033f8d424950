package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/letskickk/fact/internal/audio"
)

// Resolver turns a stream locator into a time-limited media URL
type Resolver interface {
	Resolve(ctx context.Context, locator string) (string, error)
}

// Recorder records duration of audio from mediaURL into outPath
type Recorder interface {
	Record(ctx context.Context, mediaURL string, duration time.Duration, outPath string) error
}

// Segment is one recorded audio file
type Segment struct {
	Index int
	Path  string
	Size  int64
}

// Config contains segment source parameters
type Config struct {
	ChunkDuration   time.Duration
	RefreshEvery    int   // re-resolve the media URL every N segments
	MinSegmentBytes int64 // recordings at or below this size end the sequence
	WorkDir         string
}

const retainedSegments = 2

// Source yields successive audio segments from a live locator. It is not safe
// for concurrent use; one pipeline run owns it.
type Source struct {
	locator  string
	resolver Resolver
	recorder Recorder
	config   Config
	logger   *slog.Logger

	mediaURL string
	workDir  string
	index    int
	done     bool

	removeOnce sync.Once
}

// NewSource creates a source for locator. Nothing is resolved or recorded
// until the first call to Next.
func NewSource(locator string, resolver Resolver, recorder Recorder, config Config, logger *slog.Logger) *Source {
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = 10 * time.Second
	}
	if config.RefreshEvery <= 0 {
		config.RefreshEvery = 20
	}
	if config.MinSegmentBytes <= 0 {
		config.MinSegmentBytes = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{
		locator:  locator,
		resolver: resolver,
		recorder: recorder,
		config:   config,
		logger:   logger.With(slog.String("locator", locator)),
	}
}

// Next records and returns the next segment. It returns io.EOF once a
// recording fails or comes back undersized, and ctx.Err() when cancelled.
func (s *Source) Next(ctx context.Context) (Segment, error) {
	if s.done {
		return Segment{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Segment{}, err
	}

	if err := s.ensureWorkDir(); err != nil {
		return Segment{}, err
	}

	if err := s.ensureMediaURL(ctx); err != nil {
		s.done = true
		return Segment{}, err
	}

	s.pruneOld()

	path := s.segmentPath(s.index)
	s.logger.Debug("Recording segment", slog.Int("chunk_index", s.index))

	if err := s.recorder.Record(ctx, s.mediaURL, s.config.ChunkDuration, path); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Segment{}, ctxErr
		}
		s.logger.Error("Failed to record segment, stopping capture",
			slog.Int("chunk_index", s.index),
			slog.String("error", err.Error()))
		s.done = true
		return Segment{}, io.EOF
	}

	st, err := os.Stat(path)
	if err != nil || st.Size() <= s.config.MinSegmentBytes {
		size := int64(0)
		if st != nil {
			size = st.Size()
		}
		s.logger.Error("Recorded segment missing or undersized, stopping capture",
			slog.Int("chunk_index", s.index),
			slog.Int64("size", size))
		s.done = true
		return Segment{}, io.EOF
	}

	attrs := []any{slog.Int("chunk_index", s.index), slog.Int64("size", st.Size())}
	if info, err := audio.ProbeFile(path); err == nil {
		attrs = append(attrs, slog.Duration("duration", info.Duration))
	}
	s.logger.Info("Segment ready", attrs...)

	seg := Segment{Index: s.index, Path: path, Size: st.Size()}
	s.index++
	return seg, nil
}

// ensureMediaURL resolves on first use and refreshes every RefreshEvery
// segments. A failed refresh keeps the previous URL.
func (s *Source) ensureMediaURL(ctx context.Context) error {
	if s.mediaURL == "" {
		url, err := s.resolver.Resolve(ctx, s.locator)
		if err != nil {
			return fmt.Errorf("failed to resolve stream: %w", err)
		}
		s.mediaURL = url
		s.logger.Info("Stream resolved", slog.Int("url_length", len(url)))
		return nil
	}

	if s.index > 0 && s.index%s.config.RefreshEvery == 0 {
		url, err := s.resolver.Resolve(ctx, s.locator)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.logger.Warn("Stream URL refresh failed, keeping previous URL",
				slog.Int("chunk_index", s.index),
				slog.String("error", err.Error()))
			return nil
		}
		s.mediaURL = url
		s.logger.Debug("Stream URL refreshed", slog.Int("chunk_index", s.index))
	}
	return nil
}

func (s *Source) ensureWorkDir() error {
	if s.workDir != "" {
		return nil
	}
	if s.config.WorkDir != "" {
		if err := os.MkdirAll(s.config.WorkDir, 0o755); err != nil {
			return fmt.Errorf("failed to create work dir parent: %w", err)
		}
	}
	dir, err := os.MkdirTemp(s.config.WorkDir, "fact_")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	s.workDir = dir
	return nil
}

// pruneOld deletes the segment two positions behind the one about to be recorded
func (s *Source) pruneOld() {
	old := s.index - retainedSegments
	if old < 0 {
		return
	}
	if err := os.Remove(s.segmentPath(old)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove old segment",
			slog.Int("chunk_index", old),
			slog.String("error", err.Error()))
	}
}

func (s *Source) segmentPath(index int) string {
	return filepath.Join(s.workDir, fmt.Sprintf("chunk_%04d.wav", index))
}

// WorkDir returns the segment directory, empty before the first Next
func (s *Source) WorkDir() string {
	return s.workDir
}

// RemoveWorkDir deletes the segment directory and everything in it
func (s *Source) RemoveWorkDir() error {
	var err error
	s.removeOnce.Do(func() {
		if s.workDir == "" {
			return
		}
		err = os.RemoveAll(s.workDir)
	})
	return err
}
