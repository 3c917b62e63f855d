package llm

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/markdave123-py/kbchat/internal/core"
)

const LocalEmbedDim = 384

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+(?:[.,]\p{N}+)*`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "for": {},
	"from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "what": {}, "which": {}, "who": {}, "with": {},
}

// LocalEmbedder hashes word and character-trigram features into a fixed
// 384-dimensional space. It needs no network and no model files, and is
// deterministic for a given input.
type LocalEmbedder struct {
	dim int
}

func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{dim: LocalEmbedDim}
}

func (l *LocalEmbedder) Name() string   { return "local:hash384" }
func (l *LocalEmbedder) Dimension() int { return l.dim }

func (l *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return l.vector(NormalizeInput(text)), nil
}

func (l *LocalEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.vector(NormalizeInput(t))
	}
	return out, nil
}

func (l *LocalEmbedder) vector(text string) []float32 {
	acc := make([]float64, l.dim)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		l.add(acc, "w:"+tok, 1.0)
		padded := []rune("#" + tok + "#")
		for i := 0; i+3 <= len(padded); i++ {
			l.add(acc, "c:"+string(padded[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, l.dim)
	if norm == 0 {
		// placeholder-only or punctuation-only input still gets a unit vector
		out[0] = 1
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

func (l *LocalEmbedder) add(acc []float64, feature string, w float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(l.dim))
	if sum>>63 == 1 {
		w = -w
	}
	acc[idx] += w
}

var _ core.Embedder = (*LocalEmbedder)(nil)
