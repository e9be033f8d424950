package knowledge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns fixed vectors per text and records every request
type fakeEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	requests [][]string
	err      error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) embeddedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []string
	for _, r := range f.requests {
		all = append(all, r...)
	}
	return all
}

func (f *fakeEmbedder) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = nil
}

// unitAt returns a 2-D unit vector whose cosine with (1, 0) is score
func unitAt(score float64) []float32 {
	return []float32{float32(score), float32(math.Sqrt(1 - score*score))}
}

type indexFixture struct {
	dir      string
	store    *SQLiteStore
	embedder *fakeEmbedder
	index    *Index
}

func newFixture(t *testing.T, docs map[string]string) *indexFixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "facts")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range docs {
		writeDoc(t, dir, name, body)
	}

	store := openTestStore(t)
	emb := &fakeEmbedder{vectors: map[string][]float32{}}
	ix := NewIndex(Config{
		DocsDir:   dir,
		Chunker:   Chunker{Size: 800, Overlap: 200},
		BatchSize: 100,
		MinScore:  0.2,
	}, store, emb, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &indexFixture{dir: dir, store: store, embedder: emb, index: ix}
}

func writeDoc(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func snapshot(ix *Index) []Chunk {
	if p := ix.chunks.Load(); p != nil {
		return append([]Chunk(nil), (*p)...)
	}
	return nil
}

func TestBuildIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.txt":        "alpha facts",
		"sub/b.md":     "beta facts",
		".hidden.txt":  "ignored",
		"image.png":    "ignored",
		"c.csv":        "year,rate\n2024,2.8",
		".git/conf.md": "ignored",
	})
	ctx := context.Background()

	stats, err := f.index.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 3, stats.Embedded)
	first := snapshot(f.index)
	require.Len(t, first, 3)
	assert.Equal(t, "a.txt", first[0].Source)
	assert.Equal(t, "sub/b.md", first[2].Source)

	f.embedder.reset()
	stats, err = f.index.Build(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.embedder.embeddedTexts(), "unchanged documents must not be re-embedded")
	assert.Equal(t, 3, stats.Reused)
	assert.Equal(t, first, snapshot(f.index))
}

func TestBuildReembedsOnlyChangedDocument(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	ctx := context.Background()

	_, err := f.index.Build(ctx)
	require.NoError(t, err)

	writeDoc(t, f.dir, "b.txt", "beta revised and longer")
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(f.dir, "b.txt"), later, later))

	f.embedder.reset()
	stats, err := f.index.Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"beta revised and longer"}, f.embedder.embeddedTexts())
	assert.Equal(t, 1, stats.Reused)
	assert.Equal(t, 1, stats.Embedded)

	texts := map[string]bool{}
	for _, c := range snapshot(f.index) {
		texts[c.Text] = true
	}
	assert.False(t, texts["beta"], "stale chunk served")
	assert.True(t, texts["beta revised and longer"])
}

func TestBuildPurgesRemovedDocuments(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	ctx := context.Background()

	_, err := f.index.Build(ctx)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(f.dir, "a.txt")))

	stats, err := f.index.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Purged)
	assert.Equal(t, 1, f.index.Len())

	fps, err := f.store.LoadFingerprints(ctx)
	require.NoError(t, err)
	assert.NotContains(t, fps, "a.txt")
	cached, err := f.store.LoadChunks(ctx, "a.txt")
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestBuildSkipsUnextractableDocument(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha", "broken.pdf": "not a pdf"})
	ctx := context.Background()

	stats, err := f.index.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, f.index.Len())

	fps, err := f.store.LoadFingerprints(ctx)
	require.NoError(t, err)
	assert.NotContains(t, fps, "broken.pdf", "failed extraction must be retried next build")
}

func TestBuildRemembersEmptyDocument(t *testing.T) {
	f := newFixture(t, map[string]string{"empty.txt": "  \n "})
	ctx := context.Background()

	_, err := f.index.Build(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.embedder.embeddedTexts())

	fps, err := f.store.LoadFingerprints(ctx)
	require.NoError(t, err)
	assert.Contains(t, fps, "empty.txt")
	assert.True(t, f.index.Built())
	assert.Equal(t, 0, f.index.Len())
}

func TestBuildBatchesEmbeddings(t *testing.T) {
	f := newFixture(t, nil)
	f.index.config.Chunker = Chunker{Size: 10, Overlap: 0}
	f.index.config.BatchSize = 4
	writeDoc(t, f.dir, "long.txt", "0123456789012345678901234567890123456789012345678901234567890123456789")

	_, err := f.index.Build(context.Background())
	require.NoError(t, err)

	require.Len(t, f.embedder.requests, 2)
	assert.Len(t, f.embedder.requests[0], 4)
	assert.Len(t, f.embedder.requests[1], 3)
}

func TestBuildEmbeddingFailureKeepsPreviousSet(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	ctx := context.Background()

	_, err := f.index.Build(ctx)
	require.NoError(t, err)
	before := snapshot(f.index)

	writeDoc(t, f.dir, "b.txt", "beta")
	f.embedder.err = errors.New("quota exceeded")
	_, err = f.index.Build(ctx)
	require.Error(t, err)
	assert.Equal(t, before, snapshot(f.index))
}

func TestSearchFloor(t *testing.T) {
	tests := []struct {
		name     string
		scores   map[string]float64
		topK     int
		expected []string
	}{
		{
			name:     "best match below floor",
			scores:   map[string]float64{"weak": 0.15},
			topK:     3,
			expected: []string{},
		},
		{
			name:     "one above one below",
			scores:   map[string]float64{"strong": 0.85, "weak": 0.10},
			topK:     3,
			expected: []string{"strong"},
		},
		{
			name:     "ordered and truncated to topK",
			scores:   map[string]float64{"s1": 0.9, "s2": 0.5, "s3": 0.7, "s4": 0.3},
			topK:     2,
			expected: []string{"s1", "s3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := map[string]string{}
			f := newFixture(t, docs)
			for text, score := range tt.scores {
				writeDoc(t, f.dir, text+".txt", text)
				f.embedder.vectors[text] = unitAt(score)
			}
			f.embedder.vectors["query"] = []float32{1, 0}

			results, err := f.index.Search(context.Background(), "query", tt.topK)
			require.NoError(t, err)

			got := []string{}
			for _, r := range results {
				got = append(got, r.Text)
			}
			assert.Equal(t, tt.expected, got)
			for _, r := range results {
				assert.GreaterOrEqual(t, r.Score, 0.2)
			}
		})
	}
}

func TestSearchBuildsInline(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	f.embedder.vectors["alpha"] = []float32{1, 0}
	f.embedder.vectors["query"] = []float32{1, 0}

	require.False(t, f.index.Built())
	results, err := f.index.Search(context.Background(), "query", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.txt", results[0].Source)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.True(t, f.index.Built())
}

func TestSearchEmptyIndexSkipsEmbedding(t *testing.T) {
	f := newFixture(t, nil)

	results, err := f.index.Search(context.Background(), "query", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, f.embedder.embeddedTexts())
}

func TestConcurrentSearchDuringBuild(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	f.embedder.vectors["alpha"] = []float32{1, 0}
	f.embedder.vectors["query"] = []float32{1, 0}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.index.Search(ctx, "query", 3)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.index.Build(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, f.index.Len())
}

func TestListDocuments(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.txt":      "hello",
		"sub/b.pdf":  string(make([]byte, 2048)),
		".hidden.md": "x",
		"notes.docx": "x",
	})

	docs, err := f.index.ListDocuments()
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, Document{Name: "a.txt", Size: "5 B", Bytes: 5}, docs[0])
	assert.Equal(t, "sub/b.pdf", docs[1].Name)
	assert.Equal(t, "2.0 kB", docs[1].Size)
}

func TestListDocumentsMissingDir(t *testing.T) {
	ix := NewIndex(Config{DocsDir: filepath.Join(t.TempDir(), "missing")}, nil, nil, nil, nil, nil)
	docs, err := ix.ListDocuments()
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// gatedEmbedder holds every call until release is closed or ctx ends
type gatedEmbedder struct {
	started chan struct{}
	once    sync.Once
	release chan struct{}
}

func newGatedEmbedder() *gatedEmbedder {
	return &gatedEmbedder{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestWaitingForBuildHonorsDeadline(t *testing.T) {
	tests := []struct {
		name string
		call func(ix *Index, ctx context.Context) error
	}{
		{
			name: "search",
			call: func(ix *Index, ctx context.Context) error {
				_, err := ix.Search(ctx, "query", 3)
				return err
			},
		},
		{
			name: "build",
			call: func(ix *Index, ctx context.Context) error {
				_, err := ix.Build(ctx)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeDoc(t, dir, "a.txt", "alpha")
			emb := newGatedEmbedder()
			ix := NewIndex(Config{DocsDir: dir, MinScore: 0.2}, openTestStore(t), emb, nil, nil,
				slog.New(slog.NewTextHandler(io.Discard, nil)))

			buildDone := make(chan error, 1)
			go func() {
				_, err := ix.Build(context.Background())
				buildDone <- err
			}()
			<-emb.started

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			begin := time.Now()
			err := tt.call(ix, ctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Less(t, time.Since(begin), time.Second)

			close(emb.release)
			require.NoError(t, <-buildDone)
			assert.True(t, ix.Built())
		})
	}
}

func TestFailedBuildWithdrawsStaleSources(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.txt": "alpha",
		"b.txt": "beta",
		"c.txt": "gamma",
	})
	ctx := context.Background()

	_, err := f.index.Build(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, f.index.Len())

	require.NoError(t, os.Remove(filepath.Join(f.dir, "b.txt")))
	writeDoc(t, f.dir, "a.txt", "alpha, revised edition")
	f.embedder.err = errors.New("quota exceeded")

	_, err = f.index.Build(ctx)
	require.Error(t, err)

	var sources []string
	for _, c := range snapshot(f.index) {
		sources = append(sources, c.Source)
	}
	assert.Equal(t, []string{"c.txt"}, sources, "removed and changed documents must not be served")
}
