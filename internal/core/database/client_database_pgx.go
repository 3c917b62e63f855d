package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/kbchat/internal/config"
	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

// PgVectorIndex stores chunks in Postgres with pgvector for similarity and a
// generated tsvector column for lexical search.
type PgVectorIndex struct {
	db  *sql.DB
	dim int
}

func NewPgVectorIndex(ctx context.Context, cfg *config.Config, dim int) (*PgVectorIndex, error) {
	if cfg == nil {
		return nil, core.ConfigError("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, core.ConfigError("DATABASE_URL is empty")
	}
	if dim <= 0 {
		return nil, core.ConfigError("vector dimension must be positive, got %d", dim)
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, core.ConfigError("ssl cert not accessible at %q: %v", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, core.ConfigError("invalid DATABASE_URL: %v", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, dim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &PgVectorIndex{db: db, dim: dim}, nil
}

func (c *PgVectorIndex) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *PgVectorIndex) Dimension() int { return c.dim }

// Upload inserts records in one transaction with a savepoint per record, so
// a bad row is rolled back alone and reported as failed. Ids already present
// are reported as skipped.
func (c *PgVectorIndex) Upload(ctx context.Context, records []models.IndexedRecord) ([]models.UploadResult, error) {
	if len(records) == 0 {
		return nil, nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", core.ErrIndexWrite, err)
	}

	const q = `
		INSERT INTO kb_chunks
			(id, content, source_type, source_file, page, content_vector, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		ON CONFLICT (id) DO NOTHING
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("%w: prepare: %v", core.ErrIndexWrite, err)
	}
	defer stmt.Close()

	results := make([]models.UploadResult, len(records))
	for i := range records {
		rec := &records[i]
		results[i] = models.UploadResult{ID: rec.ID}
		if len(rec.Vector) != c.dim {
			results[i].Err = fmt.Sprintf("vector has %d dimensions, want %d", len(rec.Vector), c.dim)
			continue
		}

		if _, err := tx.ExecContext(ctx, "SAVEPOINT rec"); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("%w: savepoint: %v", core.ErrIndexWrite, err)
		}
		res, err := stmt.ExecContext(ctx,
			rec.ID, rec.Content, string(rec.SourceType), rec.SourceFile, rec.Page,
			pgvector.NewVector(rec.Vector), rec.IngestedAt,
		)
		if err != nil {
			results[i].Err = err.Error()
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT rec"); rbErr != nil {
				_ = tx.Rollback()
				return nil, fmt.Errorf("%w: rollback to savepoint: %v", core.ErrIndexWrite, rbErr)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT rec"); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("%w: release savepoint: %v", core.ErrIndexWrite, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			results[i].Skipped = true
			continue
		}
		results[i].Succeeded = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", core.ErrIndexWrite, err)
	}
	return results, nil
}

const (
	vectorQuery = `
		SELECT content, source_type, source_file, page, 1 - (content_vector <=> $1) AS score
		FROM kb_chunks
		ORDER BY content_vector <=> $1
		LIMIT $2
	`
	lexicalQuery = `
		SELECT c.content, c.source_type, c.source_file, c.page, ts_rank_cd(c.content_tsv, q.tsq) AS score
		FROM kb_chunks c,
		     (SELECT replace(plainto_tsquery('english', $1)::text, '&', '|')::tsquery AS tsq) q
		WHERE c.content_tsv @@ q.tsq
		ORDER BY score DESC
		LIMIT $2
	`
	// hybridQuery fuses the vector and lexical rankings with reciprocal rank
	// fusion, equal weights.
	hybridQuery = `
		WITH q AS (
			SELECT replace(plainto_tsquery('english', $1)::text, '&', '|')::tsquery AS tsq
		),
		vec AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY content_vector <=> $2) AS rnk
			FROM kb_chunks
			ORDER BY content_vector <=> $2
			LIMIT $3
		),
		lex AS (
			SELECT c.id, ROW_NUMBER() OVER (ORDER BY ts_rank_cd(c.content_tsv, q.tsq) DESC) AS rnk
			FROM kb_chunks c, q
			WHERE c.content_tsv @@ q.tsq
			ORDER BY ts_rank_cd(c.content_tsv, q.tsq) DESC
			LIMIT $3
		),
		fused AS (
			SELECT COALESCE(vec.id, lex.id) AS id,
			       COALESCE(1.0 / ($4 + vec.rnk), 0) + COALESCE(1.0 / ($4 + lex.rnk), 0) AS score,
			       LEAST(COALESCE(vec.rnk, 2147483647), COALESCE(lex.rnk, 2147483647)) AS best
			FROM vec FULL OUTER JOIN lex ON vec.id = lex.id
		)
		SELECT c.content, c.source_type, c.source_file, c.page, f.score
		FROM fused f JOIN kb_chunks c ON c.id = f.id
		ORDER BY f.score DESC, f.best ASC
		LIMIT $5
	`
)

// Query runs a vector, lexical or hybrid search depending on which of
// q.Vector and q.Text are set.
func (c *PgVectorIndex) Query(ctx context.Context, q models.SearchQuery) ([]models.RetrievedChunk, error) {
	if q.K <= 0 {
		return nil, nil
	}
	if len(q.Vector) > 0 && len(q.Vector) != c.dim {
		return nil, fmt.Errorf("%w: %w: query vector has %d dimensions, want %d",
			core.ErrIndexQuery, core.ErrDimensionMismatch, len(q.Vector), c.dim)
	}

	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case len(q.Vector) > 0 && q.Text != "":
		rows, err = c.db.QueryContext(ctx, hybridQuery,
			q.Text, pgvector.NewVector(q.Vector), q.K*candidateFactor, RRFConstant, q.K)
	case len(q.Vector) > 0:
		rows, err = c.db.QueryContext(ctx, vectorQuery, pgvector.NewVector(q.Vector), q.K)
	case q.Text != "":
		rows, err = c.db.QueryContext(ctx, lexicalQuery, q.Text, q.K)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIndexQuery, err)
	}
	defer rows.Close()

	var out []models.RetrievedChunk
	for rows.Next() {
		var (
			ch         models.RetrievedChunk
			sourceType string
		)
		if err := rows.Scan(&ch.Content, &sourceType, &ch.SourceFile, &ch.Page, &ch.Score); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", core.ErrIndexQuery, err)
		}
		ch.SourceType = models.SourceType(sourceType)
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIndexQuery, err)
	}
	return out, nil
}

var _ core.SearchIndex = (*PgVectorIndex)(nil)
