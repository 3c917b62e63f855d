package db

import (
	"container/heap"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteIndex is a single-file search index: vectors are float32 blobs scanned
// by brute force and lexical search uses an FTS5 table. Suited to small
// knowledge bases and offline runs.
type SQLiteIndex struct {
	db  *sql.DB
	dim int
}

// NewSQLiteIndex opens (or creates) the index at path. Pass ":memory:" for an
// in-memory index.
func NewSQLiteIndex(ctx context.Context, path string, dim int) (*SQLiteIndex, error) {
	if dim <= 0 {
		return nil, core.ConfigError("vector dimension must be positive, got %d", dim)
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating index directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteIndex{db: db, dim: dim}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := s.ensureDimension(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteIndex) Close() error   { return s.db.Close() }
func (s *SQLiteIndex) Dimension() int { return s.dim }

func (s *SQLiteIndex) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// ensureDimension records the dimension on first open and rejects a
// different one afterwards.
func (s *SQLiteIndex) ensureDimension(ctx context.Context) error {
	var stored string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kb_meta WHERE key = 'dimension'").Scan(&stored)
	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx, "INSERT INTO kb_meta (key, value) VALUES ('dimension', ?)", strconv.Itoa(s.dim))
		if err != nil {
			return fmt.Errorf("recording dimension: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading dimension: %w", err)
	}
	have, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("stored dimension %q is not a number: %w", stored, err)
	}
	return dimensionError(have, s.dim)
}

// Upload inserts each record under its own savepoint. Records whose id already
// exists are left untouched and reported as skipped.
func (s *SQLiteIndex) Upload(ctx context.Context, records []models.IndexedRecord) ([]models.UploadResult, error) {
	if len(records) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", core.ErrIndexWrite, err)
	}

	results := make([]models.UploadResult, len(records))
	for i := range records {
		rec := &records[i]
		results[i] = models.UploadResult{ID: rec.ID}
		if len(rec.Vector) != s.dim {
			results[i].Err = fmt.Sprintf("vector has %d dimensions, want %d", len(rec.Vector), s.dim)
			continue
		}
		if _, err := tx.ExecContext(ctx, "SAVEPOINT rec"); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("%w: savepoint: %v", core.ErrIndexWrite, err)
		}
		inserted, err := insertRecord(ctx, tx, rec)
		if err != nil {
			results[i].Err = err.Error()
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT rec"); rbErr != nil {
				tx.Rollback()
				return nil, fmt.Errorf("%w: rollback to savepoint: %v", core.ErrIndexWrite, rbErr)
			}
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT rec"); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("%w: release savepoint: %v", core.ErrIndexWrite, err)
		}
		results[i].Succeeded = err == nil && inserted
		results[i].Skipped = err == nil && !inserted
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", core.ErrIndexWrite, err)
	}
	return results, nil
}

// insertRecord reports false when a row with rec.ID already exists.
func insertRecord(ctx context.Context, tx *sql.Tx, rec *models.IndexedRecord) (bool, error) {
	if rec.ID == "" {
		return false, fmt.Errorf("record has no id")
	}
	ingested := rec.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO kb_chunks (id, content, source_type, source_file, page, content_vector, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Content, string(rec.SourceType), rec.SourceFile, rec.Page,
		encodeFloat32s(rec.Vector), ingested.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO kb_chunks_fts (id, content) VALUES (?, ?)", rec.ID, rec.Content); err != nil {
		return false, err
	}
	return true, nil
}

// Query runs a vector, lexical or hybrid search depending on which of
// q.Vector and q.Text are set. Hybrid results are fused with RRF.
func (s *SQLiteIndex) Query(ctx context.Context, q models.SearchQuery) ([]models.RetrievedChunk, error) {
	if q.K <= 0 {
		return nil, nil
	}
	if len(q.Vector) > 0 && len(q.Vector) != s.dim {
		return nil, fmt.Errorf("%w: %w: query vector has %d dimensions, want %d",
			core.ErrIndexQuery, core.ErrDimensionMismatch, len(q.Vector), s.dim)
	}

	switch {
	case len(q.Vector) > 0 && q.Text != "":
		n := q.K * candidateFactor
		vec, err := s.vectorSearch(ctx, q.Vector, n)
		if err != nil {
			return nil, err
		}
		lex, err := s.lexicalSearch(ctx, q.Text, n)
		if err != nil {
			return nil, err
		}
		return fuseRRF(q.K, vec, lex), nil
	case len(q.Vector) > 0:
		return unwrap(s.vectorSearch(ctx, q.Vector, q.K))
	case q.Text != "":
		return unwrap(s.lexicalSearch(ctx, q.Text, q.K))
	}
	return nil, nil
}

func unwrap(list []scoredChunk, err error) ([]models.RetrievedChunk, error) {
	if err != nil {
		return nil, err
	}
	out := make([]models.RetrievedChunk, len(list))
	for i, c := range list {
		out[i] = c.RetrievedChunk
	}
	return out, nil
}

func (s *SQLiteIndex) vectorSearch(ctx context.Context, vector []float32, k int) ([]scoredChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT rowid, id, content, source_type, source_file, page, content_vector FROM kb_chunks")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIndexQuery, err)
	}
	defer rows.Close()

	h := &scoredHeap{}
	for rows.Next() {
		var (
			c          scoredChunk
			rowid      int64
			sourceType string
			blob       []byte
		)
		if err := rows.Scan(&rowid, &c.id, &c.Content, &sourceType, &c.SourceFile, &c.Page, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", core.ErrIndexQuery, err)
		}
		c.SourceType = models.SourceType(sourceType)
		c.Score = cosine(vector, decodeFloat32s(blob))

		item := heapItem{chunk: c, rowid: rowid}
		if h.Len() < k {
			heap.Push(h, item)
		} else if item.better((*h)[0]) {
			(*h)[0] = item
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIndexQuery, err)
	}

	out := make([]scoredChunk, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(heapItem).chunk
	}
	return out, nil
}

func (s *SQLiteIndex) lexicalSearch(ctx context.Context, text string, k int) ([]scoredChunk, error) {
	match := ftsQuery(text)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.content, c.source_type, c.source_file, c.page, f.rank
		FROM (
			SELECT id, bm25(kb_chunks_fts) AS rank
			FROM kb_chunks_fts
			WHERE kb_chunks_fts MATCH ?
			ORDER BY rank
			LIMIT ?
		) f
		JOIN kb_chunks c ON c.id = f.id
		ORDER BY f.rank, c.rowid`, match, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIndexQuery, err)
	}
	defer rows.Close()

	var out []scoredChunk
	for rows.Next() {
		var (
			c          scoredChunk
			sourceType string
			rank       float64
		)
		if err := rows.Scan(&c.id, &c.Content, &sourceType, &c.SourceFile, &c.Page, &rank); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", core.ErrIndexQuery, err)
		}
		c.SourceType = models.SourceType(sourceType)
		// bm25 is lower-is-better
		c.Score = -rank
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIndexQuery, err)
	}
	return out, nil
}

type heapItem struct {
	chunk scoredChunk
	rowid int64
}

// better orders by score, then by insertion order.
func (a heapItem) better(b heapItem) bool {
	if a.chunk.Score != b.chunk.Score {
		return a.chunk.Score > b.chunk.Score
	}
	return a.rowid < b.rowid
}

// scoredHeap is a min-heap: the worst kept item sits at the root.
type scoredHeap []heapItem

func (h scoredHeap) Len() int           { return len(h) }
func (h scoredHeap) Less(i, j int) bool { return h[j].better(h[i]) }
func (h scoredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var _ core.SearchIndex = (*SQLiteIndex)(nil)
