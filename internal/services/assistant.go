package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/core/retrieval"
	"github.com/markdave123-py/kbchat/internal/models"
)

// User-facing replies for the cases where no grounded answer is produced.
const (
	PromptMessage      = "Ask a question based on uploaded Excel/PDF files."
	UnavailableMessage = "I'm unable to answer right now. Please try again shortly."
	ErrorMessage       = "Sorry, something went wrong while answering your question."
)

// Assistant answers questions against the knowledge base. It is the only
// entry point the bot, HTTP, MCP and terminal front ends use.
type Assistant struct {
	retriever *retrieval.Retriever
	formatter core.AnswerFormatter
	topK      int
	timeout   time.Duration
	logger    *slog.Logger
}

func NewAssistant(r *retrieval.Retriever, f core.AnswerFormatter, topK int, timeout time.Duration, logger *slog.Logger) *Assistant {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{retriever: r, formatter: f, topK: topK, timeout: timeout, logger: logger}
}

// HandleQuestion always returns a reply; failures are logged and mapped to
// one of the fixed messages.
func (a *Assistant) HandleQuestion(ctx context.Context, text string) (answer string) {
	question := strings.TrimSpace(text)
	if question == "" {
		return PromptMessage
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic while answering", "panic", r)
			answer = ErrorMessage
		}
	}()

	start := time.Now()
	results, err := a.Search(ctx, question, a.topK)
	switch {
	case errors.Is(err, core.ErrIndexQuery):
		a.logger.Warn("index query failed, answering without context", "error", err)
		results = nil
	case err != nil:
		a.logger.Error("retrieval failed", "error", err)
		return UnavailableMessage
	}

	fctx, cancel := a.callContext(ctx)
	defer cancel()
	answer, err = a.formatter.Format(fctx, question, results)
	if err != nil {
		a.logger.Error("formatting answer failed", "error", err)
		return ErrorMessage
	}

	a.logger.Info("answered question", "results", len(results), "duration", time.Since(start))
	return answer
}

// Search returns the raw ranked chunks for text.
func (a *Assistant) Search(ctx context.Context, text string, k int) ([]models.RetrievedChunk, error) {
	question := strings.TrimSpace(text)
	if question == "" {
		return []models.RetrievedChunk{}, nil
	}
	if k <= 0 {
		k = a.topK
	}
	rctx, cancel := a.callContext(ctx)
	defer cancel()
	results, err := a.retriever.Retrieve(rctx, question, k)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", question, err)
	}
	return results, nil
}

func (a *Assistant) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}
