package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/kbchat/internal/models"
)

// Ingestor runs one ingestion pass and reports what happened.
type Ingestor interface {
	Run(ctx context.Context) (*models.IngestSummary, error)
}

var _ Ingestor = (*Pipeline)(nil)
