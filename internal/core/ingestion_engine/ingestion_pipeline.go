package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

const (
	StageList     = "list"
	StageDownload = "download"
	StageExtract  = "extract"
	StageEmbed    = "embed"
)

// Pipeline ingests every supported file from a BlobSource into a SearchIndex.
// Stages run concurrently and are tied together by an errgroup:
//
//	list -> download/extract (Workers) -> embed (batches) -> index writer
type Pipeline struct {
	source    core.BlobSource
	extractor *Extractor
	embedder  core.Embedder
	index     core.SearchIndex
	cfg       IngestConfig
	logger    *slog.Logger

	now     func() time.Time
	backoff func(attempt int) time.Duration
}

func NewPipeline(source core.BlobSource, extractor *Extractor, embedder core.Embedder, index core.SearchIndex, cfg IngestConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:    source,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		backoff:   embedBackoff,
	}
}

func embedBackoff(attempt int) time.Duration {
	d := 200 * time.Millisecond << min(attempt, 5)
	return min(d, 5*time.Second)
}

// tally collects run counters written from several goroutines.
type tally struct {
	mu      sync.Mutex
	summary models.IngestSummary
}

func (t *tally) fail(file, stage string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.Errors = append(t.summary.Errors, models.FileFailure{File: file, Stage: stage, Error: err.Error()})
}

func (t *tally) update(fn func(s *models.IngestSummary)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.summary)
}

// Run performs one full ingestion pass. Per-file and per-chunk failures are
// recorded in the summary and the run continues, unless FailFast is set.
// A non-nil error means the run was aborted; the summary still reflects what
// was done before that.
func (p *Pipeline) Run(ctx context.Context) (*models.IngestSummary, error) {
	t := &tally{}
	t.summary.StartedAt = p.now()
	finish := func(err error) (*models.IngestSummary, error) {
		s := t.summary
		s.Duration = p.now().Sub(s.StartedAt)
		s.Status = models.IngestSuccess
		if err != nil || s.FilesFailed > 0 || s.EmbedFailures > 0 || s.UploadFailures > 0 {
			s.Status = models.IngestPartial
		}
		return &s, err
	}

	if err := p.cfg.Validate(); err != nil {
		return finish(err)
	}
	if p.embedder.Dimension() != p.index.Dimension() {
		return finish(core.ConfigError("embedder %s produces %d dimensions but the index expects %d",
			p.embedder.Name(), p.embedder.Dimension(), p.index.Dimension()))
	}

	listCtx, cancel := p.callContext(ctx)
	names, err := p.source.List(listCtx)
	cancel()
	if err != nil {
		return finish(&core.FileError{Stage: StageList, Err: err})
	}
	t.summary.BlobsSeen = len(names)
	p.logger.Info("ingestion started", "blobs", len(names), "embedder", p.embedder.Name())

	g, gctx := errgroup.WithContext(ctx)
	chunkCh := make(chan models.Chunk, p.cfg.EmbedBatchSize*2)
	recordCh := make(chan models.IndexedRecord, p.cfg.IndexBatchSize)

	// download + extract
	g.Go(func() error {
		defer close(chunkCh)
		files, fctx := errgroup.WithContext(gctx)
		files.SetLimit(p.cfg.Workers)
		for _, name := range names {
			if !p.extractor.Supports(name) {
				p.logger.Debug("skipping unsupported file", "file", name)
				t.update(func(s *models.IngestSummary) { s.FilesSkipped++ })
				continue
			}
			if fctx.Err() != nil {
				break
			}
			files.Go(func() error { return p.processFile(fctx, name, chunkCh, t) })
		}
		return files.Wait()
	})

	// embed
	g.Go(func() error {
		defer close(recordCh)
		batch := make([]models.Chunk, 0, p.cfg.EmbedBatchSize)
		for c := range chunkCh {
			batch = append(batch, c)
			if len(batch) < p.cfg.EmbedBatchSize {
				continue
			}
			if err := p.embedBatch(gctx, batch, recordCh, t); err != nil {
				return err
			}
			batch = batch[:0]
		}
		if len(batch) > 0 {
			return p.embedBatch(gctx, batch, recordCh, t)
		}
		return nil
	})

	// write
	g.Go(func() error {
		w := NewIndexWriter(p.index, p.cfg.IndexBatchSize,
			WithUploadTimeout(p.cfg.CallTimeout), WithWriterLogger(p.logger), WithClock(p.now))
		for rec := range recordCh {
			w.Add(gctx, rec)
		}
		w.Flush(gctx)
		rep := w.Report()
		t.update(func(s *models.IngestSummary) {
			s.ChunksUploaded = rep.Succeeded
			s.ChunksUnchanged = rep.Skipped
			s.UploadFailures = rep.Failed
			s.Batches = rep.Batches
		})
		if p.cfg.FailFast && rep.Failed > 0 {
			return fmt.Errorf("%w: %d records rejected", core.ErrIndexWrite, rep.Failed)
		}
		return nil
	})

	err = g.Wait()
	summary, err := finish(err)
	p.logger.Info("ingestion finished",
		"status", summary.Status,
		"files", summary.FilesIngested,
		"skipped", summary.FilesSkipped,
		"failed", summary.FilesFailed,
		"chunks", summary.ChunksExtracted,
		"uploaded", summary.ChunksUploaded,
		"unchanged", summary.ChunksUnchanged,
		"duration", summary.Duration)
	return summary, err
}

// processFile downloads and extracts one blob and streams its chunks.
func (p *Pipeline) processFile(ctx context.Context, name string, out chan<- models.Chunk, t *tally) error {
	dlCtx, cancel := p.callContext(ctx)
	data, err := p.source.Download(dlCtx, name)
	cancel()
	if err != nil {
		return p.fileFailed(ctx, name, StageDownload, err, t)
	}

	chunks, err := p.extractor.Extract(name, data)
	if err != nil {
		return p.fileFailed(ctx, name, StageExtract, err, t)
	}

	p.logger.Info("extracted file", "file", name, "chunks", len(chunks))
	t.update(func(s *models.IngestSummary) {
		s.FilesIngested++
		s.ChunksExtracted += len(chunks)
	})

	for _, c := range chunks {
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline) fileFailed(ctx context.Context, name, stage string, err error, t *tally) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.logger.Error("file failed", "file", name, "stage", stage, "error", err)
	t.update(func(s *models.IngestSummary) { s.FilesFailed++ })
	t.fail(name, stage, err)
	if p.cfg.FailFast {
		return &core.FileError{File: name, Stage: stage, Err: err}
	}
	return nil
}

// embedBatch embeds a batch with retries. When the batch keeps failing each
// chunk is tried once on its own so one bad input does not sink its
// neighbours. Retries live here only; embedders are built without their own.
func (p *Pipeline) embedBatch(ctx context.Context, batch []models.Chunk, out chan<- models.IndexedRecord, t *tally) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	vecs, err := p.embedWithRetry(ctx, texts)
	if err != nil {
		if fatalEmbedErr(ctx, err) {
			return err
		}
		p.logger.Warn("embedding batch failed, retrying chunks individually", "size", len(batch), "error", err)
		vecs = make([][]float32, len(batch))
		for i := range batch {
			one, err := p.embedOnce(ctx, texts[i:i+1])
			if err != nil {
				if fatalEmbedErr(ctx, err) {
					return err
				}
				p.logger.Error("embedding chunk failed", "file", batch[i].SourceFile, "page", batch[i].Page, "error", err)
				t.update(func(s *models.IngestSummary) { s.EmbedFailures++ })
				t.fail(batch[i].SourceFile, StageEmbed, err)
				if p.cfg.FailFast {
					return &core.FileError{File: batch[i].SourceFile, Stage: StageEmbed, Err: err}
				}
				continue
			}
			vecs[i] = one[0]
		}
	}

	for i, c := range batch {
		if vecs[i] == nil {
			continue
		}
		rec := models.IndexedRecord{
			ID:         p.cfg.IDStrategy.RecordID(c),
			Content:    c.Content,
			SourceType: c.SourceType,
			SourceFile: c.SourceFile,
			Page:       c.Page,
			Vector:     vecs[i],
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.EmbedRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		vecs, err := p.embedOnce(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if fatalEmbedErr(ctx, err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *Pipeline) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := p.callContext(ctx)
	vecs, err := p.embedder.EmbedTexts(callCtx, texts)
	cancel()
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", core.ErrEmbedding, len(vecs), len(texts))
	}
	for _, v := range vecs {
		if len(v) != p.index.Dimension() {
			return nil, fmt.Errorf("%w: got %d, want %d", core.ErrDimensionMismatch, len(v), p.index.Dimension())
		}
	}
	return vecs, nil
}

// fatalEmbedErr reports errors that retrying or splitting the batch cannot fix.
func fatalEmbedErr(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, core.ErrDimensionMismatch) || errors.Is(err, core.ErrConfiguration)
}

func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.CallTimeout)
}
