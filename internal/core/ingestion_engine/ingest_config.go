package ingestion_engine

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

// IngestConfig tunes the ingestion pipeline.
//
// MaxChars, Overlap: PDF chunk window in characters.
// EmbedBatchSize:    chunks per embedding request.
// IndexBatchSize:    records per index upload.
// EmbedRetries:      extra attempts for a failed embedding request.
// Workers:           files downloaded and extracted concurrently.
// FailFast:          abort the run on the first file or chunk failure.
// IDStrategy:        how record ids are generated.
// CallTimeout:       deadline for each external call.
type IngestConfig struct {
	MaxChars       int
	Overlap        int
	EmbedBatchSize int
	IndexBatchSize int
	EmbedRetries   int
	Workers        int
	FailFast       bool
	IDStrategy     IDStrategy
	CallTimeout    time.Duration
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		MaxChars:       DefaultMaxChars,
		Overlap:        DefaultOverlap,
		EmbedBatchSize: 16,
		IndexBatchSize: DefaultIndexBatchSize,
		EmbedRetries:   3,
		Workers:        4,
		IDStrategy:     IDRandom,
		CallTimeout:    30 * time.Second,
	}
}

func (c IngestConfig) Validate() error {
	if c.MaxChars <= 0 || c.Overlap < 0 || c.Overlap >= c.MaxChars {
		return core.ConfigError("chunk overlap %d must be in [0, %d)", c.Overlap, c.MaxChars)
	}
	if c.EmbedBatchSize <= 0 || c.IndexBatchSize <= 0 || c.Workers <= 0 {
		return core.ConfigError("batch sizes and worker count must be positive")
	}
	if c.EmbedRetries < 0 {
		return core.ConfigError("embed retries must not be negative")
	}
	switch c.IDStrategy {
	case IDRandom, IDContent:
	default:
		return core.ConfigError("unknown id strategy %q", c.IDStrategy)
	}
	return nil
}

// IDStrategy decides how an IndexedRecord id is derived.
type IDStrategy string

const (
	// IDRandom gives every record a fresh UUIDv4, so re-ingesting the same
	// files adds duplicate records.
	IDRandom IDStrategy = "random"
	// IDContent derives a UUIDv5 from file, page and content, so re-ingesting
	// unchanged files is a no-op. Identical rows within one file collapse.
	IDContent IDStrategy = "content"
)

var contentNamespace = uuid.MustParse("6f1c1f0e-3c55-4b8e-9a51-0d7a4b3c2e10")

func (s IDStrategy) RecordID(c models.Chunk) string {
	if s == IDContent {
		key := c.SourceFile + "\x00" + strconv.Itoa(c.Page) + "\x00" + c.Content
		return uuid.NewSHA1(contentNamespace, []byte(key)).String()
	}
	return uuid.NewString()
}
