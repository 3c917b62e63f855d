package llm

import (
	"context"
	"fmt"

	"github.com/markdave123-py/kbchat/internal/core"
)

const (
	DefaultOpenAIEmbedModel = "text-embedding-3-small"
	OpenAIEmbedDim          = 1536
)

// OpenAIEmbedder calls the hosted embeddings endpoint.
type OpenAIEmbedder struct {
	api   *openAIClient
	model string
	dim   int
	// sent as "dimensions" when set; text-embedding-3 models shorten their
	// output to it
	requestDim int
}

// NewOpenAIEmbedder builds the hosted embedder. dim 0 means the model default
// and is not sent to the API.
func NewOpenAIEmbedder(cfg OpenAIConfig, dim int) (*OpenAIEmbedder, error) {
	api, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIEmbedModel
	}
	if dim < 0 {
		return nil, core.ConfigError("embedding dimension must not be negative, got %d", dim)
	}
	e := &OpenAIEmbedder{api: api, model: model, dim: dim, requestDim: dim}
	if dim == 0 {
		e.dim = OpenAIEmbedDim
	}
	return e, nil
}

func (o *OpenAIEmbedder) Name() string   { return "openai:" + o.model }
func (o *OpenAIEmbedder) Dimension() int { return o.dim }

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts sends all texts in one request; results come back in input order.
func (o *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	type reqBody struct {
		Input      []string `json:"input"`
		Model      string   `json:"model"`
		Dimensions int      `json:"dimensions,omitempty"`
	}
	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := o.api.post(ctx, "/embeddings", reqBody{Input: normalizeAll(texts), Model: o.model, Dimensions: o.requestDim}, &out); err != nil {
		return nil, fmt.Errorf("%w: openai embeddings: %v", core.ErrEmbedding, err)
	}

	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", core.ErrEmbedding, len(out.Data), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for i, d := range out.Data {
		idx := d.Index
		if idx < 0 || idx >= len(vecs) {
			idx = i
		}
		vecs[idx] = d.Embedding
	}
	if err := checkVectors(vecs, len(texts), o.dim); err != nil {
		return nil, err
	}
	return vecs, nil
}

var _ core.Embedder = (*OpenAIEmbedder)(nil)
