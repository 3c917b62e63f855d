package ingestion_engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
	"github.com/markdave123-py/kbchat/internal/testutil"
)

func TestExtractor_Supports(t *testing.T) {
	e := NewDefaultExtractor(DefaultMaxChars, DefaultOverlap)

	tests := []struct {
		name string
		want bool
	}{
		{"report.pdf", true},
		{"REPORT.PDF", true},
		{"sales.xlsx", true},
		{"legacy.xls", true},
		{"export.csv", true},
		{"notes.txt", false},
		{"image.png", false},
		{"noext", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Supports(tc.name))
		})
	}
}

func TestExtractor_UnsupportedFormat(t *testing.T) {
	e := NewDefaultExtractor(DefaultMaxChars, DefaultOverlap)
	_, err := e.Extract("notes.txt", []byte("hello"))
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestSpreadsheet_XLSXRows(t *testing.T) {
	data, err := testutil.XLSX([][]any{
		{"Region", "Revenue", "Year"},
		{"EMEA", 5, 2023},
		{"APAC", nil, 2022},
	})
	require.NoError(t, err)

	chunks, err := NewDefaultExtractor(DefaultMaxChars, DefaultOverlap).Extract("sales.xlsx", data)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, models.Chunk{
		SourceType: models.SourceSpreadsheet,
		SourceFile: "sales.xlsx",
		Page:       0,
		Content:    "Region:EMEA | Revenue:5 | Year:2023",
	}, chunks[0])
	assert.Equal(t, "Region:APAC | Revenue: | Year:2022", chunks[1].Content)
	assert.NotContains(t, chunks[1].Content, "null")
	assert.NotContains(t, chunks[1].Content, "None")
}

func TestSpreadsheet_CSV(t *testing.T) {
	data := []byte("name,,name\nalice,1,x\n,,\nbob\n")

	chunks, err := NewSpreadsheetExtractor().Extract("people.csv", data)
	require.NoError(t, err)
	require.Len(t, chunks, 2, "blank row skipped")

	assert.Equal(t, "name:alice | Unnamed: 1:1 | name.1:x", chunks[0].Content)
	assert.Equal(t, "name:bob | Unnamed: 1: | name.1:", chunks[1].Content)
	for _, c := range chunks {
		assert.Equal(t, 0, c.Page)
		assert.Equal(t, models.SourceSpreadsheet, c.SourceType)
	}
}

func TestSpreadsheet_HeaderOnly(t *testing.T) {
	chunks, err := NewSpreadsheetExtractor().Extract("empty.csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSpreadsheet_Corrupt(t *testing.T) {
	_, err := NewSpreadsheetExtractor().Extract("broken.xlsx", []byte("definitely not a zip"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExtraction)
}

func TestPDF_PagesAreOneBased(t *testing.T) {
	data := testutil.PDF("Revenue was $5M in 2023.", "", "Headcount grew to 40.")

	chunks, err := NewPDFExtractor(DefaultMaxChars, DefaultOverlap).Extract("report.pdf", data)
	require.NoError(t, err)
	require.Len(t, chunks, 2, "blank page yields no chunks")

	assert.Equal(t, models.SourcePDF, chunks[0].SourceType)
	assert.Equal(t, "report.pdf", chunks[0].SourceFile)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Contains(t, chunks[0].Content, "Revenue was $5M in 2023.")
	assert.Equal(t, 3, chunks[1].Page)
	assert.Contains(t, chunks[1].Content, "Headcount grew to 40.")
}

func TestPDF_LongPageIsChunked(t *testing.T) {
	long := strings.Repeat("lorem ipsum ", 30)
	data := testutil.PDF(long)

	chunks, err := NewPDFExtractor(100, 20).Extract("long.pdf", data)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, 1, c.Page)
		assert.LessOrEqual(t, len([]rune(c.Content)), 100)
	}
}

func TestPDF_CorruptUsesFallback(t *testing.T) {
	p := NewPDFExtractor(DefaultMaxChars, DefaultOverlap)
	p.fallback = func([]byte) ([]string, error) {
		return []string{"first page", "second page"}, nil
	}

	chunks, err := p.Extract("scan.pdf", []byte("garbage"))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 2, chunks[1].Page)
}

func TestPDF_CorruptIsExtractionError(t *testing.T) {
	p := NewPDFExtractor(DefaultMaxChars, DefaultOverlap)
	p.fallback = func([]byte) ([]string, error) { return nil, errors.New("no pdftotext") }

	_, err := p.Extract("broken.pdf", []byte("garbage"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExtraction)
	assert.Contains(t, err.Error(), "broken.pdf")
}
