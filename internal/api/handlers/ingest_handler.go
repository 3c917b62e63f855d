package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

type IngestRunner interface {
	Run(ctx context.Context) (*models.IngestSummary, error)
	LastRun() *models.IngestSummary
}

type IngestHandler struct {
	runner IngestRunner
	logger *slog.Logger
}

func NewIngestHandler(runner IngestRunner, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{runner: runner, logger: logger}
}

// Ingest runs a full ingestion pass and reports the outcome. The run is not
// tied to the client connection, so a disconnect does not abort it halfway.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, core.ErrIngestInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("ingestion aborted", "error", err)
		body := map[string]any{"status": "failed", "error": err.Error()}
		if summary != nil {
			body["chunks_uploaded"] = summary.ChunksUploaded
			body["summary"] = summary
		}
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          summary.Status,
		"chunks_uploaded": summary.ChunksUploaded,
		"summary":         summary,
	})
}

// Status reports the summary of the most recent ingestion run.
func (h *IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	summary := h.runner.LastRun()
	if summary == nil {
		writeError(w, http.StatusNotFound, "no ingestion run yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          summary.Status,
		"chunks_uploaded": summary.ChunksUploaded,
		"summary":         summary,
	})
}
