package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/letskickk/fact/internal/metrics"
)

// Config contains index parameters
type Config struct {
	DocsDir   string
	Chunker   Chunker
	BatchSize int     // texts per embedding request
	MinScore  float64 // results scoring below this are dropped
}

// Result is one search hit
type Result struct {
	ChunkID string  `json:"chunk_id"`
	Source  string  `json:"source"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// BuildStats summarizes one build
type BuildStats struct {
	Documents int `json:"documents"`
	Reused    int `json:"reused"`
	Embedded  int `json:"embedded"`
	Skipped   int `json:"skipped"`
	Purged    int `json:"purged"`
	Chunks    int `json:"chunks"`
}

// Index is the process-wide searchable chunk set. Builds are serialized;
// searches read an immutable snapshot swapped in when a build completes.
type Index struct {
	config    Config
	store     Store
	embedder  Embedder
	extractor Extractor
	metrics   *metrics.Metrics
	logger    *slog.Logger

	building *semaphore.Weighted // one build at a time; waiters honor ctx
	chunks   atomic.Pointer[[]Chunk]
}

// NewIndex creates an unbuilt index
func NewIndex(config Config, store Store, embedder Embedder, extractor Extractor, m *metrics.Metrics, logger *slog.Logger) *Index {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Chunker.Size <= 0 {
		config.Chunker = Chunker{Size: 800, Overlap: 200}
	}
	if extractor == nil {
		extractor = FileExtractor{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Index{
		config:    config,
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		metrics:   m,
		logger:    logger,
		building:  semaphore.NewWeighted(1),
	}
}

type document struct {
	name string // slash-separated path relative to DocsDir
	path string
	info fs.FileInfo
}

// Build synchronizes the cache with the documents on disk and publishes the
// resulting chunk set. Unchanged documents are served from the store; new and
// changed ones are re-extracted and re-embedded; vanished ones are purged.
func (ix *Index) Build(ctx context.Context) (BuildStats, error) {
	if err := ix.building.Acquire(ctx, 1); err != nil {
		return BuildStats{}, err
	}
	defer ix.building.Release(1)
	return ix.buildLocked(ctx)
}

func (ix *Index) buildLocked(ctx context.Context) (BuildStats, error) {
	start := time.Now()
	stats, err := ix.build(ctx)
	ix.metrics.RecordKnowledgeBuild(err == nil, stats.Chunks, time.Since(start).Seconds())
	if err != nil {
		ix.logger.Error("Knowledge build failed", slog.String("error", err.Error()))
		return stats, err
	}

	ix.logger.Info("Knowledge cache ready",
		slog.Int("documents", stats.Documents),
		slog.Int("reused", stats.Reused),
		slog.Int("embedded", stats.Embedded),
		slog.Int("skipped", stats.Skipped),
		slog.Int("purged", stats.Purged),
		slog.Int("chunks", stats.Chunks),
		slog.Duration("elapsed", time.Since(start)))
	return stats, nil
}

// build publishes the new chunk set on success. On failure the previous set
// stays published minus every source that vanished or changed on disk.
func (ix *Index) build(ctx context.Context) (stats BuildStats, err error) {
	stale := make(map[string]bool)
	defer func() {
		if err != nil {
			ix.withdraw(stale)
		}
	}()

	docs, err := ix.scan()
	if err != nil {
		return stats, err
	}
	stats.Documents = len(docs)

	cached, err := ix.store.LoadFingerprints(ctx)
	if err != nil {
		return stats, fmt.Errorf("load fingerprints: %w", err)
	}

	current := make(map[string]bool, len(docs))
	for _, d := range docs {
		current[d.name] = true
		if prev, ok := cached[d.name]; ok && prev != Fingerprint(d.info) {
			stale[d.name] = true
		}
	}
	for name := range cached {
		if current[name] {
			continue
		}
		stale[name] = true
		if err := ix.store.DeleteSource(ctx, name); err != nil {
			return stats, fmt.Errorf("purge %s: %w", name, err)
		}
		stats.Purged++
		ix.logger.Info("Removed stale cache entry", slog.String("source", name))
	}

	var all []Chunk
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		fp := Fingerprint(d.info)
		if prev, ok := cached[d.name]; ok && prev == fp {
			chunks, err := ix.store.LoadChunks(ctx, d.name)
			if err != nil {
				return stats, fmt.Errorf("load %s: %w", d.name, err)
			}
			all = append(all, chunks...)
			stats.Reused++
			continue
		}

		text, err := ix.extractor.Extract(d.path)
		if err != nil {
			ix.logger.Warn("Failed to extract document, skipping",
				slog.String("source", d.name),
				slog.String("error", err.Error()))
			stats.Skipped++
			// Chunks from an older version must not be served
			if _, ok := cached[d.name]; ok {
				if err := ix.store.DeleteSource(ctx, d.name); err != nil {
					return stats, fmt.Errorf("purge %s: %w", d.name, err)
				}
			}
			continue
		}

		chunks := ix.config.Chunker.Split(d.name, text)
		if err := ix.embed(ctx, d.name, chunks); err != nil {
			return stats, err
		}
		if err := ix.store.SaveSource(ctx, d.name, fp, chunks); err != nil {
			return stats, fmt.Errorf("save %s: %w", d.name, err)
		}
		all = append(all, chunks...)
		stats.Embedded++
	}

	if all == nil {
		all = []Chunk{}
	}
	stats.Chunks = len(all)
	ix.chunks.Store(&all)
	return stats, nil
}

// withdraw republishes the current chunk set without the given sources
func (ix *Index) withdraw(sources map[string]bool) {
	p := ix.chunks.Load()
	if p == nil || len(sources) == 0 {
		return
	}

	kept := make([]Chunk, 0, len(*p))
	for _, c := range *p {
		if !sources[c.Source] {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(*p) {
		return
	}
	ix.chunks.Store(&kept)
	ix.logger.Warn("Withdrew stale sources after failed build",
		slog.Int("sources", len(sources)),
		slog.Int("chunks_removed", len(*p)-len(kept)))
}

// embed fills in chunk embeddings in batches
func (ix *Index) embed(ctx context.Context, source string, chunks []Chunk) error {
	for start := 0; start < len(chunks); start += ix.config.BatchSize {
		end := start + ix.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		vectors, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %s: %w", source, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embed %s: got %d vectors for %d texts", source, len(vectors), len(texts))
		}
		ix.metrics.RecordEmbeddingRequest(len(texts))

		for i, v := range vectors {
			chunks[start+i].Embedding = v
		}
	}
	return nil
}

// scan lists supported documents under DocsDir in name order. A missing
// directory is an empty document set.
func (ix *Index) scan() ([]document, error) {
	var docs []document

	err := filepath.WalkDir(ix.config.DocsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == ix.config.DocsDir {
				return filepath.SkipAll
			}
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != ix.config.DocsDir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !Supported(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(ix.config.DocsDir, path)
		if err != nil {
			return err
		}
		docs = append(docs, document{name: filepath.ToSlash(rel), path: path, info: info})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", ix.config.DocsDir, err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].name < docs[j].name })
	return docs, nil
}

// Built reports whether a chunk set has been published
func (ix *Index) Built() bool {
	return ix.chunks.Load() != nil
}

// Len returns the number of searchable chunks
func (ix *Index) Len() int {
	if p := ix.chunks.Load(); p != nil {
		return len(*p)
	}
	return 0
}

// ensureBuilt runs a build unless one has already completed. Waiting for a
// build in progress gives up when ctx is done.
func (ix *Index) ensureBuilt(ctx context.Context) error {
	if ix.Built() {
		return nil
	}
	if err := ix.building.Acquire(ctx, 1); err != nil {
		return err
	}
	defer ix.building.Release(1)
	if ix.Built() {
		return nil
	}
	_, err := ix.buildLocked(ctx)
	return err
}

// Search returns up to topK chunks most similar to query, best first. Chunks
// scoring below the configured floor are never returned. The index is built
// inline on first use.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if err := ix.ensureBuilt(ctx); err != nil {
		return nil, fmt.Errorf("build knowledge cache: %w", err)
	}

	chunks := *ix.chunks.Load()
	if len(chunks) == 0 || topK <= 0 {
		ix.metrics.RecordSearch(0)
		return nil, nil
	}

	vectors, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	q := vectors[0]

	scored := make([]Result, len(chunks))
	for i, c := range chunks {
		scored[i] = Result{ChunkID: c.ID, Source: c.Source, Text: c.Text, Score: cosine(q, c.Embedding)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) > topK {
		scored = scored[:topK]
	}
	results := make([]Result, 0, len(scored))
	for _, r := range scored {
		if r.Score < ix.config.MinScore {
			break
		}
		results = append(results, r)
	}

	ix.metrics.RecordSearch(len(results))
	return results, nil
}

// cosine returns the cosine similarity of a and b, 0 when undefined
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Document is a reference file available for indexing
type Document struct {
	Name  string `json:"name"`
	Size  string `json:"size"`
	Bytes int64  `json:"bytes"`
}

// ListDocuments lists the reference documents currently on disk
func (ix *Index) ListDocuments() ([]Document, error) {
	docs, err := ix.scan()
	if err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, Document{
			Name:  d.name,
			Size:  humanize.Bytes(uint64(d.info.Size())),
			Bytes: d.info.Size(),
		})
	}
	return out, nil
}
