package services

import (
	"context"
	"sync"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbchat/internal/models"
)

// IngestService allows one ingestion run at a time per process.
type IngestService struct {
	ingestor ingestion_engine.Ingestor

	running sync.Mutex
	mu      sync.RWMutex
	last    *models.IngestSummary
}

func NewIngestService(ingestor ingestion_engine.Ingestor) *IngestService {
	return &IngestService{ingestor: ingestor}
}

// Run executes an ingestion pass, or fails with core.ErrIngestInProgress if
// one is already running.
func (s *IngestService) Run(ctx context.Context) (*models.IngestSummary, error) {
	if !s.running.TryLock() {
		return nil, core.ErrIngestInProgress
	}
	defer s.running.Unlock()

	summary, err := s.ingestor.Run(ctx)
	if summary != nil {
		s.mu.Lock()
		s.last = summary
		s.mu.Unlock()
	}
	return summary, err
}

// LastRun returns the summary of the most recent run, or nil.
func (s *IngestService) LastRun() *models.IngestSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
