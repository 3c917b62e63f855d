package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/kbchat/internal/core"
)

const (
	DefaultGeminiEmbedModel = "text-embedding-004"
	GeminiEmbedDim          = 768
)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	dim       int
}

// NewGeminiEmbedder builds the Gemini embedder. dim 0 means the default
// model's 768 dimensions.
func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dim int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, core.ConfigError("GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = DefaultGeminiEmbedModel
	}
	if dim == 0 {
		dim = GeminiEmbedDim
	}
	return &GeminiEmbedder{client: cl, modelName: modelName, dim: dim}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) Name() string   { return "gemini:" + g.modelName }
func (g *GeminiEmbedder) Dimension() int { return g.dim }

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts batches all texts in one request via EmbeddingBatch.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.modelName)

	batch := em.NewBatch()
	for _, t := range normalizeAll(texts) {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini batch embed: %v", core.ErrEmbedding, err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	if err := checkVectors(out, len(texts), g.dim); err != nil {
		return nil, err
	}
	return out, nil
}

var _ core.Embedder = (*GeminiEmbedder)(nil)
