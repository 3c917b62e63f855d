package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

// SearchMode selects how the question is matched against the index.
type SearchMode string

const (
	ModeVector  SearchMode = "vector"
	ModeHybrid  SearchMode = "hybrid"
	ModeLexical SearchMode = "lexical"
)

// ParseSearchMode maps a config value to a SearchMode; empty means hybrid.
func ParseSearchMode(s string) (SearchMode, error) {
	switch m := SearchMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeHybrid, nil
	case ModeVector, ModeHybrid, ModeLexical:
		return m, nil
	default:
		return "", core.ConfigError("unknown search mode %q", s)
	}
}

// DefaultTopK is how many chunks a question retrieves unless told otherwise.
const DefaultTopK = 5

// Retriever fetches the chunks most relevant to a question. It holds no
// mutable state and is safe for concurrent use.
type Retriever struct {
	index    core.SearchIndex
	embedder core.Embedder
	mode     SearchMode
}

// NewRetriever builds a Retriever. embedder may be nil in lexical mode.
func NewRetriever(index core.SearchIndex, embedder core.Embedder, mode SearchMode) (*Retriever, error) {
	if mode == "" {
		mode = ModeHybrid
	}
	if mode != ModeLexical {
		if embedder == nil {
			return nil, core.ConfigError("%s search needs an embedder", mode)
		}
		if embedder.Dimension() != index.Dimension() {
			return nil, core.ConfigError("embedder %s produces %d dimensions but the index expects %d",
				embedder.Name(), embedder.Dimension(), index.Dimension())
		}
	}
	return &Retriever{index: index, embedder: embedder, mode: mode}, nil
}

func (r *Retriever) Mode() SearchMode { return r.mode }

// Retrieve returns at most k chunks in the index's ranking order. No matches
// is an empty slice and a nil error.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]models.RetrievedChunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	q := models.SearchQuery{K: k}

	if r.mode != ModeLexical {
		vec, err := r.embedder.Embed(ctx, question)
		if err != nil {
			if errors.Is(err, core.ErrEmbedding) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: embed question: %v", core.ErrEmbedding, err)
		}
		q.Vector = vec
	}
	if r.mode != ModeVector {
		q.Text = question
	}

	results, err := r.index.Query(ctx, q)
	if err != nil {
		if errors.Is(err, core.ErrIndexQuery) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", core.ErrIndexQuery, err)
	}
	if len(results) > k {
		results = results[:k]
	}
	if results == nil {
		results = []models.RetrievedChunk{}
	}
	return results, nil
}
