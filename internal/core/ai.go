package core

import (
	"context"

	"github.com/markdave123-py/kbchat/internal/models"
)

// Embedder turns text into fixed-dimension vectors. Implementations normalise
// their input and never send an empty string to the model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// AnswerFormatter renders a user-facing answer from ranked retrieval results.
type AnswerFormatter interface {
	Format(ctx context.Context, question string, results []models.RetrievedChunk) (string, error)
}
