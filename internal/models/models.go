package models

import (
	"time"
)

// SourceType identifies the kind of file a chunk came from.
type SourceType string

const (
	SourceSpreadsheet SourceType = "spreadsheet"
	SourcePDF         SourceType = "pdf"
)

// Chunk is one unit of extracted text on its way to the index.
type Chunk struct {
	SourceType SourceType `json:"source_type"`
	SourceFile string     `json:"source_file"` // blob name
	Page       int        `json:"page"`        // 1-based for PDFs, 0 for spreadsheet rows
	Content    string     `json:"content"`
}

// IndexedRecord is a chunk as persisted in the search index.
type IndexedRecord struct {
	ID         string     `db:"id" json:"id"`
	Content    string     `db:"content" json:"content"`
	SourceType SourceType `db:"source_type" json:"source_type"`
	SourceFile string     `db:"source_file" json:"source_file"`
	Page       int        `db:"page" json:"page"`
	Vector     []float32  `db:"content_vector" json:"-"`
	IngestedAt time.Time  `db:"ingested_at" json:"ingested_at"`
}

// UploadResult reports the outcome of writing one record. Skipped means a
// record with the same id was already stored and was left as is.
type UploadResult struct {
	ID        string `json:"id"`
	Succeeded bool   `json:"succeeded"`
	Skipped   bool   `json:"skipped,omitempty"`
	Err       string `json:"error,omitempty"`
}

// SearchQuery is what the retriever asks the index for. Text, Vector or both
// may be set depending on the search mode.
type SearchQuery struct {
	Text   string
	Vector []float32
	K      int
}

// RetrievedChunk is one ranked hit returned by the index.
type RetrievedChunk struct {
	Content    string     `json:"content"`
	SourceType SourceType `json:"source_type"`
	SourceFile string     `json:"source_file"`
	Page       int        `json:"page"`
	Score      float64    `json:"score"`
}

// BatchReport summarises one upload batch.
type BatchReport struct {
	Batch     int    `json:"batch"`
	Size      int    `json:"size"`
	Succeeded int    `json:"succeeded"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// WriteReport aggregates every batch an IndexWriter sent.
type WriteReport struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Batches   []BatchReport `json:"batches"`
}

// FileFailure is a per-file (or per-chunk) problem recorded during ingestion.
type FileFailure struct {
	File  string `json:"file"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

const (
	IngestSuccess = "success"
	IngestPartial = "partial"
)

// IngestSummary is the result of one ingestion run.
type IngestSummary struct {
	Status          string        `json:"status"`
	BlobsSeen       int           `json:"blobs_seen"`
	FilesIngested   int           `json:"files_ingested"`
	FilesSkipped    int           `json:"files_skipped"`
	FilesFailed     int           `json:"files_failed"`
	ChunksExtracted int           `json:"chunks_extracted"`
	EmbedFailures   int           `json:"embed_failures"`
	ChunksUploaded  int           `json:"chunks_uploaded"`
	ChunksUnchanged int           `json:"chunks_unchanged"`
	UploadFailures  int           `json:"upload_failures"`
	Batches         []BatchReport `json:"batches"`
	Errors          []FileFailure `json:"errors,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
}

// StoredBlob describes a file placed in the blob container by an upload.
type StoredBlob struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Size        int    `json:"size"`
	ContentType string `json:"content_type"`
}
