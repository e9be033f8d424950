package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store persists chunks and embeddings keyed by source fingerprint
type Store interface {
	// LoadFingerprints returns the last embedded fingerprint of every cached source
	LoadFingerprints(ctx context.Context) (map[string]string, error)
	// LoadChunks returns the cached chunks of source ordered by sequence
	LoadChunks(ctx context.Context, source string) ([]Chunk, error)
	// DeleteSource removes a source and its chunks
	DeleteSource(ctx context.Context, source string) error
	// SaveSource replaces the chunks of source and records its fingerprint atomically
	SaveSource(ctx context.Context, source, fingerprint string, chunks []Chunk) error
	Close() error
}

const schema = `
	CREATE TABLE IF NOT EXISTS sources (
		name TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		seq INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		UNIQUE(source, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
`

// SQLiteStore is a Store backed by a SQLite file
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the cache database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadFingerprints(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, fingerprint FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	fps := make(map[string]string)
	for rows.Next() {
		var name, fp string
		if err := rows.Scan(&name, &fp); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		fps[name] = fp
	}
	return fps, rows.Err()
}

func (s *SQLiteStore) LoadChunks(ctx context.Context, source string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, text, embedding
		FROM chunks
		WHERE source = ?
		ORDER BY seq ASC
	`, source)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c := Chunk{Source: source}
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Seq, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if c.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) DeleteSource(ctx context.Context, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE name = ?`, source); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveSource(ctx context.Context, source, fingerprint string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source, seq, text, embedding) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, source, c.Seq, c.Text, encodeEmbedding(c.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sources (name, fingerprint) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET fingerprint = excluded.fingerprint
	`, source, fingerprint); err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}

	return tx.Commit()
}

// encodeEmbedding packs a vector as little-endian float32s
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
