package core

import (
	"context"

	"github.com/markdave123-py/kbchat/internal/models"
)

// BlobSource lists and downloads the raw files to ingest.
type BlobSource interface {
	List(ctx context.Context) ([]string, error)
	Download(ctx context.Context, name string) ([]byte, error)
}

// BlobUploader stores a file in the container so the next ingestion run
// picks it up.
type BlobUploader interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
}

// SearchIndex abstracts the vector/lexical store so higher layers never
// depend on a specific database.
type SearchIndex interface {
	// Upload writes records and reports success per record. A non-nil error
	// means the whole batch was rejected.
	Upload(ctx context.Context, records []models.IndexedRecord) ([]models.UploadResult, error)
	Query(ctx context.Context, q models.SearchQuery) ([]models.RetrievedChunk, error)
	Dimension() int
	Close() error
}
