package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

// DocumentService stores uploaded files in the blob container. They become
// searchable on the next ingestion run.
type DocumentService struct {
	storage  core.BlobUploader
	supports func(name string) bool
}

// NewDocumentService rejects uploads for which supports returns false.
func NewDocumentService(storage core.BlobUploader, supports func(name string) bool) *DocumentService {
	return &DocumentService{storage: storage, supports: supports}
}

func (s *DocumentService) Upload(ctx context.Context, filename, contentType string, data []byte) (*models.StoredBlob, error) {
	key := objectKey(filename)
	if key == "" {
		return nil, fmt.Errorf("%w: empty file name", core.ErrUnsupportedFormat)
	}
	if s.supports != nil && !s.supports(key) {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, key)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", core.ErrExtraction, key)
	}

	url, err := s.storage.UploadFile(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", key, err)
	}
	return &models.StoredBlob{Name: key, URL: url, Size: len(data), ContentType: contentType}, nil
}

// objectKey keeps only the base name, with spaces replaced.
func objectKey(filename string) string {
	filename = strings.TrimSpace(strings.ReplaceAll(filename, "\\", "/"))
	filename = path.Base(filename)
	if filename == "." || filename == "/" {
		return ""
	}
	return strings.ReplaceAll(filename, " ", "_")
}
