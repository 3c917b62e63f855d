package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

const (
	// FallbackAnswer is returned when nothing relevant was retrieved.
	FallbackAnswer = "Not available in uploaded data"

	// primarySources is how many top results feed the extractive answer and
	// the sources footer.
	primarySources = 3
)

// SourcesFooter lists the top results' provenance, or "" when there are none.
func SourcesFooter(results []models.RetrievedChunk) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\n📌 Sources:")
	for _, r := range results[:min(len(results), primarySources)] {
		sb.WriteString("\n- ")
		sb.WriteString(SourceLabel(r))
	}
	return sb.String()
}

// SourceLabel renders one result as "file (page N)" or "file (excel)".
func SourceLabel(r models.RetrievedChunk) string {
	if r.SourceType == models.SourcePDF {
		return fmt.Sprintf("%s (page %d)", r.SourceFile, r.Page)
	}
	return fmt.Sprintf("%s (excel)", r.SourceFile)
}

// ExtractiveFormatter stitches the top chunks together verbatim.
type ExtractiveFormatter struct{}

func NewExtractiveFormatter() *ExtractiveFormatter { return &ExtractiveFormatter{} }

func (ExtractiveFormatter) Format(_ context.Context, _ string, results []models.RetrievedChunk) (string, error) {
	if len(results) == 0 {
		return FallbackAnswer, nil
	}
	lines := make([]string, 0, primarySources)
	for i, r := range results[:min(len(results), primarySources)] {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, r.Content))
	}
	return strings.Join(lines, "\n") + SourcesFooter(results), nil
}

const systemPrompt = `You are a knowledge-base assistant.
Answer ONLY using the context provided (from uploaded Excel/PDF files).
If the answer is not in the context, say: ` + FallbackAnswer + `.`

// GenerativeFormatter asks a language model to answer from the retrieved
// context only. Providers run at temperature 0.
type GenerativeFormatter struct {
	llm core.LLMProvider
}

func NewGenerativeFormatter(llm core.LLMProvider) *GenerativeFormatter {
	return &GenerativeFormatter{llm: llm}
}

func (f *GenerativeFormatter) Format(ctx context.Context, question string, results []models.RetrievedChunk) (string, error) {
	if len(results) == 0 {
		return FallbackAnswer, nil
	}
	answer, err := f.llm.Generate(ctx, systemPrompt, BuildPrompt(question, results))
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = FallbackAnswer
	}
	return answer + SourcesFooter(results), nil
}

// BuildPrompt lays out the retrieved context as [CTXn] blocks followed by the
// question.
func BuildPrompt(question string, results []models.RetrievedChunk) string {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[CTX%d] %s", i+1, r.Content)
	}
	fmt.Fprintf(&sb, "\n\nQuestion: %s\nAnswer:", question)
	return sb.String()
}

var (
	_ core.AnswerFormatter = ExtractiveFormatter{}
	_ core.AnswerFormatter = (*GenerativeFormatter)(nil)
)
