package ingestion_engine

import (
	"bytes"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

// Extractor dispatches files to a FormatExtractor by extension.
type Extractor struct {
	byExt map[string]core.FormatExtractor
}

// NewExtractor registers the given format extractors. Later registrations
// win for a shared extension.
func NewExtractor(formats ...core.FormatExtractor) *Extractor {
	e := &Extractor{byExt: make(map[string]core.FormatExtractor)}
	for _, f := range formats {
		for _, ext := range f.Extensions() {
			e.byExt[strings.ToLower(ext)] = f
		}
	}
	return e
}

// NewDefaultExtractor handles spreadsheets and PDFs with the given chunk window.
func NewDefaultExtractor(maxChars, overlap int) *Extractor {
	return NewExtractor(NewSpreadsheetExtractor(), NewPDFExtractor(maxChars, overlap))
}

// Supports reports whether name has an extension with a registered extractor.
func (e *Extractor) Supports(name string) bool {
	_, ok := e.byExt[extOf(name)]
	return ok
}

// Extract converts one file to chunks. Chunks with blank content are dropped.
func (e *Extractor) Extract(name string, data []byte) ([]models.Chunk, error) {
	f, ok := e.byExt[extOf(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, name)
	}
	chunks, err := f.Extract(name, data)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		c.Content = strings.TrimSpace(c.Content)
		if c.Content == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func extOf(name string) string {
	return strings.ToLower(path.Ext(name))
}

// PDFExtractor reads PDFs page by page and chunks each page's text.
type PDFExtractor struct {
	maxChars int
	overlap  int
	// fallback is used when the PDF cannot be opened at all.
	fallback func(data []byte) ([]string, error)
}

func NewPDFExtractor(maxChars, overlap int) *PDFExtractor {
	return &PDFExtractor{maxChars: maxChars, overlap: overlap, fallback: docconvPages}
}

func (p *PDFExtractor) Extensions() []string { return []string{".pdf"} }

func (p *PDFExtractor) Extract(name string, data []byte) ([]models.Chunk, error) {
	pages, err := readPDFPages(data)
	if err != nil {
		slog.Debug("pdf reader failed, trying docconv", "file", name, "error", err)
		var ferr error
		pages, ferr = p.fallback(data)
		if ferr != nil {
			return nil, fmt.Errorf("%w: %s: %v (docconv: %v)", core.ErrExtraction, name, err, ferr)
		}
	}

	var out []models.Chunk
	for i, text := range pages {
		for _, c := range ChunkText(text, p.maxChars, p.overlap) {
			out = append(out, models.Chunk{
				SourceType: models.SourcePDF,
				SourceFile: name,
				Page:       i + 1,
				Content:    c,
			})
		}
	}
	return out, nil
}

// readPDFPages returns one string per page. A page whose text cannot be
// extracted yields "".
func readPDFPages(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	n := r.NumPage()
	pages = make([]string, n)
	for i := 1; i <= n; i++ {
		pages[i-1] = pageText(r, i)
	}
	return pages, nil
}

func pageText(r *pdf.Reader, num int) (text string) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
		}
	}()
	page := r.Page(num)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}

// docconvPages runs docconv's PDF conversion (pdftotext) and splits the body
// on form feeds. Without page breaks the whole body is page 1.
func docconvPages(data []byte) ([]string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", false)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Body) == "" {
		return nil, fmt.Errorf("docconv returned no text")
	}
	return strings.Split(strings.TrimRight(res.Body, "\f"), "\f"), nil
}
