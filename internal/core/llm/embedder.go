package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/kbchat/internal/core"
)

// PlaceholderText is embedded instead of an empty string.
const PlaceholderText = "empty"

// NormalizeInput flattens newlines and trims. Empty input becomes
// PlaceholderText since some backends reject empty strings.
func NormalizeInput(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return PlaceholderText
	}
	return text
}

func normalizeAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = NormalizeInput(t)
	}
	return out
}

// checkVectors validates count and dimension of a provider response.
func checkVectors(vecs [][]float32, want, dim int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: got %d vectors for %d inputs", core.ErrEmbedding, len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", core.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// retryDelay is exponential backoff from 200ms capped at 5s.
func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		return 5 * time.Second
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Throttled rate-limits calls to an underlying Embedder. One token is spent
// per request, not per text.
type Throttled struct {
	core.Embedder
	limiter *rate.Limiter
}

// NewThrottled wraps e with a limiter of rps requests per second. rps <= 0
// returns e unchanged.
func NewThrottled(e core.Embedder, rps float64) core.Embedder {
	if rps <= 0 {
		return e
	}
	burst := max(int(rps), 1)
	return &Throttled{Embedder: e, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (t *Throttled) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", core.ErrEmbedding, err)
	}
	return t.Embedder.Embed(ctx, text)
}

func (t *Throttled) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", core.ErrEmbedding, err)
	}
	return t.Embedder.EmbedTexts(ctx, texts)
}
