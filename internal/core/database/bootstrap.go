package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/markdave123-py/kbchat/internal/core"
)

//go:embed scripts/initdb.sql
var initSQL string

// EnsureBootstrapped creates the schema for a dim-sized vector column if it
// is missing, then checks that an existing schema has the same dimension.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, dim int) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'kb_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}

	if !exists {
		slog.Info("bootstrapping search index schema", "dimension", dim)
		if err := runBootstrap(ctxBoot, db, dim); err != nil {
			return err
		}
	}

	return checkDimension(ctxBoot, db, dim)
}

func runBootstrap(ctx context.Context, db *sql.DB, dim int) error {
	script := strings.ReplaceAll(initSQL, "{{DIMENSION}}", strconv.Itoa(dim))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}

// checkDimension compares the vector column's declared size with dim. For
// pgvector columns atttypmod holds the dimension.
func checkDimension(ctx context.Context, db *sql.DB, dim int) error {
	var have int
	err := db.QueryRowContext(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'kb_chunks'::regclass AND attname = 'content_vector'`).
		Scan(&have)
	if err != nil {
		return fmt.Errorf("read vector dimension: %w", err)
	}
	return dimensionError(have, dim)
}

func dimensionError(have, want int) error {
	if have != want {
		return fmt.Errorf("%w: %w: index stores %d-dimensional vectors but the embedder produces %d",
			core.ErrConfiguration, core.ErrDimensionMismatch, have, want)
	}
	return nil
}
