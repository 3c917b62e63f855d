package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

const maxUploadBytes = 32 << 20

type DocumentUploader interface {
	Upload(ctx context.Context, filename, contentType string, data []byte) (*models.StoredBlob, error)
}

type DocumentHandler struct {
	docs   DocumentUploader
	logger *slog.Logger
}

func NewDocumentHandler(docs DocumentUploader, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{docs: docs, logger: logger}
}

// UploadDocument stores a multipart "file" in the blob container. It is
// indexed by the next ingestion run.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	blob, err := h.docs.Upload(r.Context(), header.Filename, contentType, data)
	switch {
	case errors.Is(err, core.ErrUnsupportedFormat), errors.Is(err, core.ErrExtraction):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	case err != nil:
		h.logger.Error("upload failed", "file", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	h.logger.Info("stored upload", "name", blob.Name, "size", blob.Size)
	writeJSON(w, http.StatusCreated, blob)
}
