package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

type fakeEmbedder struct {
	dim   int
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Name() string   { return "fake" }

type fakeIndex struct {
	dim     int
	results []models.RetrievedChunk
	err     error
	last    models.SearchQuery
}

func (f *fakeIndex) Upload(context.Context, []models.IndexedRecord) ([]models.UploadResult, error) {
	return nil, nil
}

func (f *fakeIndex) Query(_ context.Context, q models.SearchQuery) ([]models.RetrievedChunk, error) {
	f.last = q
	return f.results, f.err
}

func (f *fakeIndex) Dimension() int { return f.dim }
func (f *fakeIndex) Close() error   { return nil }

type fakeLLM struct {
	answer       string
	err          error
	calls        int
	system, user string
}

func (f *fakeLLM) Generate(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.system, f.user = system, user
	return f.answer, f.err
}

func hits(n int) []models.RetrievedChunk {
	all := []models.RetrievedChunk{
		{Content: "Revenue was $5M in 2023.", SourceType: models.SourcePDF, SourceFile: "report.pdf", Page: 1, Score: 0.9},
		{Content: "Region:EMEA | Revenue:5", SourceType: models.SourceSpreadsheet, SourceFile: "sales.xlsx", Score: 0.8},
		{Content: "Headcount grew to 40.", SourceType: models.SourcePDF, SourceFile: "report.pdf", Page: 3, Score: 0.7},
		{Content: "Region:APAC | Revenue:7", SourceType: models.SourceSpreadsheet, SourceFile: "sales.xlsx", Score: 0.6},
		{Content: "Offices: 4", SourceType: models.SourcePDF, SourceFile: "about.pdf", Page: 2, Score: 0.5},
		{Content: "extra", SourceType: models.SourcePDF, SourceFile: "extra.pdf", Page: 9, Score: 0.4},
	}
	return all[:n]
}

func TestRetriever_QueryShapePerMode(t *testing.T) {
	tests := []struct {
		mode       SearchMode
		wantVector bool
		wantText   bool
	}{
		{ModeVector, true, false},
		{ModeHybrid, true, true},
		{ModeLexical, false, true},
	}
	for _, tc := range tests {
		t.Run(string(tc.mode), func(t *testing.T) {
			idx := &fakeIndex{dim: 4, results: hits(2)}
			emb := &fakeEmbedder{dim: 4}
			r, err := NewRetriever(idx, emb, tc.mode)
			require.NoError(t, err)
			assert.Equal(t, tc.mode, r.Mode())

			got, err := r.Retrieve(context.Background(), "revenue 2023", 5)
			require.NoError(t, err)
			assert.Len(t, got, 2)
			assert.Equal(t, 5, idx.last.K)
			assert.Equal(t, tc.wantVector, idx.last.Vector != nil)
			assert.Equal(t, tc.wantText, idx.last.Text != "")
			if !tc.wantVector {
				assert.Zero(t, emb.calls)
			}
		})
	}
}

func TestRetriever_PreservesIndexOrderAndTruncates(t *testing.T) {
	idx := &fakeIndex{dim: 4, results: hits(6)}
	r, err := NewRetriever(idx, &fakeEmbedder{dim: 4}, ModeVector)
	require.NoError(t, err)

	got, err := r.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, hits(5), got)
}

func TestRetriever_NoMatches(t *testing.T) {
	r, err := NewRetriever(&fakeIndex{dim: 4}, &fakeEmbedder{dim: 4}, ModeHybrid)
	require.NoError(t, err)

	got, err := r.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetriever_Errors(t *testing.T) {
	r, err := NewRetriever(&fakeIndex{dim: 4}, &fakeEmbedder{dim: 4, err: errors.New("timeout")}, ModeVector)
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), "q", 5)
	assert.ErrorIs(t, err, core.ErrEmbedding)

	r, err = NewRetriever(&fakeIndex{dim: 4, err: errors.New("connection refused")}, &fakeEmbedder{dim: 4}, ModeVector)
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), "q", 5)
	assert.ErrorIs(t, err, core.ErrIndexQuery)
}

func TestNewRetriever_DimensionMismatch(t *testing.T) {
	_, err := NewRetriever(&fakeIndex{dim: 1536}, &fakeEmbedder{dim: 384}, ModeHybrid)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = NewRetriever(&fakeIndex{dim: 1536}, nil, ModeLexical)
	assert.NoError(t, err)
}

func TestParseSearchMode(t *testing.T) {
	m, err := ParseSearchMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, m)

	m, err = ParseSearchMode("Vector")
	require.NoError(t, err)
	assert.Equal(t, ModeVector, m)

	_, err = ParseSearchMode("semantic")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestSourcesFooter(t *testing.T) {
	assert.Empty(t, SourcesFooter(nil))
	assert.Equal(t,
		"\n\n📌 Sources:\n- report.pdf (page 1)\n- sales.xlsx (excel)\n- report.pdf (page 3)",
		SourcesFooter(hits(5)))
}

func TestExtractiveFormatter(t *testing.T) {
	f := NewExtractiveFormatter()

	got, err := f.Format(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, got)

	got, err = f.Format(context.Background(), "q", hits(5))
	require.NoError(t, err)
	assert.Equal(t, "1. Revenue was $5M in 2023.\n"+
		"2. Region:EMEA | Revenue:5\n"+
		"3. Headcount grew to 40."+
		"\n\n📌 Sources:\n- report.pdf (page 1)\n- sales.xlsx (excel)\n- report.pdf (page 3)", got)
}

func TestGenerativeFormatter(t *testing.T) {
	llm := &fakeLLM{answer: "  Revenue was $5M.\n"}
	f := NewGenerativeFormatter(llm)

	got, err := f.Format(context.Background(), "What was revenue?", hits(2))
	require.NoError(t, err)
	assert.Equal(t, "Revenue was $5M.\n\n📌 Sources:\n- report.pdf (page 1)\n- sales.xlsx (excel)", got)

	assert.Contains(t, llm.user, "[CTX1] Revenue was $5M in 2023.")
	assert.Contains(t, llm.user, "[CTX2] Region:EMEA | Revenue:5")
	assert.True(t, strings.HasSuffix(llm.user, "Question: What was revenue?\nAnswer:"))
	assert.Contains(t, llm.system, FallbackAnswer)
}

func TestGenerativeFormatter_NoResultsSkipsModel(t *testing.T) {
	llm := &fakeLLM{answer: "made up"}
	got, err := NewGenerativeFormatter(llm).Format(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, got)
	assert.Zero(t, llm.calls)
}

func TestGenerativeFormatter_ModelError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("503")}
	_, err := NewGenerativeFormatter(llm).Format(context.Background(), "q", hits(1))
	assert.Error(t, err)
}
