package ingestion_engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

// DefaultIndexBatchSize keeps each upload under typical index payload limits.
const DefaultIndexBatchSize = 200

// IndexWriter buffers records and uploads them in fixed-size batches,
// keeping a per-record tally. A rejected batch is counted as failed and the
// writer moves on to the next one.
type IndexWriter struct {
	index     core.SearchIndex
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	pending []models.IndexedRecord
	report  models.WriteReport
}

type WriterOption func(*IndexWriter)

// WithUploadTimeout bounds each upload call.
func WithUploadTimeout(d time.Duration) WriterOption {
	return func(w *IndexWriter) { w.timeout = d }
}

func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(w *IndexWriter) { w.logger = l }
}

// WithClock sets the source of the ingested_at stamp.
func WithClock(now func() time.Time) WriterOption {
	return func(w *IndexWriter) { w.now = now }
}

func NewIndexWriter(index core.SearchIndex, batchSize int, opts ...WriterOption) *IndexWriter {
	if batchSize <= 0 {
		batchSize = DefaultIndexBatchSize
	}
	w := &IndexWriter{
		index:     index,
		batchSize: batchSize,
		logger:    slog.Default(),
		now:       time.Now,
		pending:   make([]models.IndexedRecord, 0, batchSize),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Add queues rec and uploads a batch once batchSize records are pending.
func (w *IndexWriter) Add(ctx context.Context, rec models.IndexedRecord) {
	w.pending = append(w.pending, rec)
	if len(w.pending) >= w.batchSize {
		w.Flush(ctx)
	}
}

// Flush uploads whatever is pending.
func (w *IndexWriter) Flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}
	batch := w.pending
	w.pending = make([]models.IndexedRecord, 0, w.batchSize)
	w.upload(ctx, batch)
}

// Write uploads records and returns the cumulative report.
func (w *IndexWriter) Write(ctx context.Context, records []models.IndexedRecord) models.WriteReport {
	for _, r := range records {
		w.Add(ctx, r)
	}
	w.Flush(ctx)
	return w.Report()
}

func (w *IndexWriter) Report() models.WriteReport {
	r := w.report
	r.Batches = append([]models.BatchReport(nil), w.report.Batches...)
	return r
}

func (w *IndexWriter) upload(ctx context.Context, batch []models.IndexedRecord) {
	br := models.BatchReport{Batch: len(w.report.Batches) + 1, Size: len(batch)}

	callCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	stamp := w.now().UTC()
	for i := range batch {
		batch[i].IngestedAt = stamp
	}

	results, err := w.index.Upload(callCtx, batch)
	if err != nil {
		br.Failed = len(batch)
		br.Error = err.Error()
		w.logger.Error("index batch rejected", "batch", br.Batch, "size", br.Size, "error", err)
	} else {
		for _, r := range results {
			switch {
			case r.Succeeded:
				br.Succeeded++
			case r.Skipped:
				br.Skipped++
			default:
				w.logger.Warn("index record rejected", "batch", br.Batch, "id", r.ID, "error", r.Err)
			}
		}
		br.Failed = len(batch) - br.Succeeded - br.Skipped
		w.logger.Info("uploaded batch", "batch", br.Batch, "success", br.Succeeded, "unchanged", br.Skipped, "failed", br.Failed)
	}

	w.report.Total += br.Size
	w.report.Succeeded += br.Succeeded
	w.report.Skipped += br.Skipped
	w.report.Failed += br.Failed
	w.report.Batches = append(w.report.Batches, br)
}
