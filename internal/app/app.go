package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/markdave123-py/kbchat/internal/botframework"
	"github.com/markdave123-py/kbchat/internal/config"
	"github.com/markdave123-py/kbchat/internal/core"
	db "github.com/markdave123-py/kbchat/internal/core/database"
	"github.com/markdave123-py/kbchat/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbchat/internal/core/llm"
	objectclient "github.com/markdave123-py/kbchat/internal/core/object-client"
	"github.com/markdave123-py/kbchat/internal/core/retrieval"
	"github.com/markdave123-py/kbchat/internal/services"
)

// BlobStore is a container that can be both ingested from and uploaded to.
type BlobStore interface {
	core.BlobSource
	core.BlobUploader
}

// App owns every long-lived client. Build it with NewApp and release it
// with Close.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Index     core.SearchIndex
	Blobs     BlobStore
	Embedder  core.Embedder
	Assistant *services.Assistant
	Ingest    *services.IngestService
	Documents *services.DocumentService
	Connector *botframework.Connector
	BotAuth   *botframework.Authenticator

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	emb, err := a.newEmbedder(ctx)
	if err != nil {
		return fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	a.Embedder = llm.NewThrottled(emb, cfg.EmbedRPS)
	a.Logger.Info("embedder ready", "name", emb.Name(), "dimension", emb.Dimension())

	if a.Index, err = a.newIndex(ctx, emb.Dimension()); err != nil {
		return err
	}
	a.closers = append(a.closers, a.Index.Close)
	a.Logger.Info("search index ready", "backend", cfg.IndexBackend)

	if a.Blobs, err = a.newBlobStore(ctx); err != nil {
		return err
	}
	a.Logger.Info("blob store ready", "backend", cfg.BlobBackend)

	formatter, err := a.newFormatter(ctx)
	if err != nil {
		return fmt.Errorf("couldn't initialize the answer formatter: %w", err)
	}

	mode, err := retrieval.ParseSearchMode(cfg.SearchMode)
	if err != nil {
		return err
	}
	retriever, err := retrieval.NewRetriever(a.Index, a.Embedder, mode)
	if err != nil {
		return err
	}
	a.Assistant = services.NewAssistant(retriever, formatter, cfg.TopK, cfg.CallTimeout, a.Logger)
	a.Logger.Info("assistant ready", "search_mode", retriever.Mode(), "answer_mode", cfg.AnswerMode, "top_k", cfg.TopK)

	ingestCfg := IngestConfig(cfg)
	extractor := ingestion_engine.NewDefaultExtractor(ingestCfg.MaxChars, ingestCfg.Overlap)
	pipeline := ingestion_engine.NewPipeline(a.Blobs, extractor, a.Embedder, a.Index, ingestCfg, a.Logger)
	a.Ingest = services.NewIngestService(pipeline)
	a.Documents = services.NewDocumentService(a.Blobs, extractor.Supports)

	a.Connector = botframework.NewConnector(context.Background(), cfg.MicrosoftAppID, cfg.MicrosoftAppPassword, cfg.CallTimeout)
	a.BotAuth = botframework.NewAuthenticator(cfg.MicrosoftAppID, "", nil)
	if cfg.MicrosoftAppID == "" {
		a.Logger.Warn("MICROSOFT_APP_ID not set, bot runs unauthenticated (emulator mode)")
	}
	return nil
}

// IngestConfig maps service configuration onto pipeline tuning.
func IngestConfig(cfg *config.Config) ingestion_engine.IngestConfig {
	return ingestion_engine.IngestConfig{
		MaxChars:       cfg.ChunkMaxChars,
		Overlap:        cfg.ChunkOverlap,
		EmbedBatchSize: cfg.EmbedBatchSize,
		IndexBatchSize: cfg.IndexBatchSize,
		EmbedRetries:   cfg.EmbedRetries,
		Workers:        cfg.IngestWorkers,
		FailFast:       cfg.FailFast,
		IDStrategy:     ingestion_engine.IDStrategy(cfg.IDStrategy),
		CallTimeout:    cfg.CallTimeout,
	}
}

func (a *App) newEmbedder(ctx context.Context) (core.Embedder, error) {
	cfg := a.Config
	switch cfg.EmbedProvider {
	case "openai":
		// the ingestion pipeline owns embedding retries
		return llm.NewOpenAIEmbedder(llm.OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.EmbedModel,
			Timeout: cfg.CallTimeout,
		}, cfg.EmbedDim)
	case "gemini":
		g, err := llm.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	case "local":
		if cfg.EmbedDim != 0 && cfg.EmbedDim != llm.LocalEmbedDim {
			return nil, core.ConfigError("local embedder has %d dimensions, EMBED_DIM is %d", llm.LocalEmbedDim, cfg.EmbedDim)
		}
		return llm.NewLocalEmbedder(), nil
	}
	return nil, core.ConfigError("unknown EMBED_PROVIDER %q", cfg.EmbedProvider)
}

func (a *App) newIndex(ctx context.Context, dim int) (core.SearchIndex, error) {
	switch a.Config.IndexBackend {
	case "pgvector":
		return db.NewPgVectorIndex(ctx, a.Config, dim)
	case "sqlite":
		return db.NewSQLiteIndex(ctx, a.Config.SQLitePath, dim)
	}
	return nil, core.ConfigError("unknown INDEX_BACKEND %q", a.Config.IndexBackend)
}

func (a *App) newBlobStore(ctx context.Context) (BlobStore, error) {
	switch a.Config.BlobBackend {
	case "s3":
		return objectclient.NewS3Client(ctx, a.Config)
	case "dir":
		return objectclient.NewDirSource(a.Config.BlobDir)
	}
	return nil, core.ConfigError("unknown BLOB_BACKEND %q", a.Config.BlobBackend)
}

func (a *App) newFormatter(ctx context.Context) (core.AnswerFormatter, error) {
	cfg := a.Config
	if cfg.AnswerMode == "extractive" {
		return retrieval.NewExtractiveFormatter(), nil
	}
	switch cfg.ChatProvider {
	case "openai":
		l, err := llm.NewOpenAILLM(llm.OpenAIConfig{
			BaseURL:    cfg.OpenAIBaseURL,
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.GenModel,
			Timeout:    cfg.CallTimeout,
			MaxRetries: cfg.EmbedRetries,
		})
		if err != nil {
			return nil, err
		}
		return retrieval.NewGenerativeFormatter(l), nil
	case "gemini":
		l, err := llm.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.GenModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, l.Close)
		return retrieval.NewGenerativeFormatter(l), nil
	}
	return nil, core.ConfigError("unknown CHAT_PROVIDER %q", cfg.ChatProvider)
}

// Close releases clients in reverse construction order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
