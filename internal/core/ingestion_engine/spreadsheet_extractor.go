package ingestion_engine

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/markdave123-py/kbchat/internal/core"
	"github.com/markdave123-py/kbchat/internal/models"
)

// RowDelimiter separates "column:value" pairs in a spreadsheet row chunk.
const RowDelimiter = " | "

// SpreadsheetExtractor turns every data row of the first sheet into one
// chunk. The first row is the header.
type SpreadsheetExtractor struct{}

func NewSpreadsheetExtractor() *SpreadsheetExtractor { return &SpreadsheetExtractor{} }

func (s *SpreadsheetExtractor) Extensions() []string {
	return []string{".xlsx", ".xlsm", ".xls", ".csv"}
}

func (s *SpreadsheetExtractor) Extract(name string, data []byte) ([]models.Chunk, error) {
	var (
		rows [][]string
		err  error
	)
	switch extOf(name) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(data)
	case ".xls":
		rows, err = readXLS(data)
	case ".csv":
		rows, err = readCSV(data)
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrExtraction, name, err)
	}
	return rowsToChunks(name, rows), nil
}

// rowsToChunks renders each data row as "col:value" pairs in column order.
// Blank headers become "Unnamed: i" and repeated headers get a ".n" suffix.
// Short rows are padded with empty values; fully blank rows are skipped.
func rowsToChunks(name string, rows [][]string) []models.Chunk {
	if len(rows) == 0 {
		return nil
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	header := columnNames(rows[0], width)

	var out []models.Chunk
	for _, r := range rows[1:] {
		if blankRow(r) {
			continue
		}
		pairs := make([]string, width)
		for i := range width {
			v := ""
			if i < len(r) {
				v = strings.TrimSpace(r[i])
			}
			pairs[i] = header[i] + ":" + v
		}
		out = append(out, models.Chunk{
			SourceType: models.SourceSpreadsheet,
			SourceFile: name,
			Page:       0,
			Content:    strings.Join(pairs, RowDelimiter),
		})
	}
	return out
}

func columnNames(first []string, width int) []string {
	names := make([]string, width)
	seen := make(map[string]int, width)
	for i := range width {
		n := ""
		if i < len(first) {
			n = strings.TrimSpace(first[i])
		}
		if n == "" {
			n = fmt.Sprintf("Unnamed: %d", i)
		}
		if c := seen[n]; c > 0 {
			seen[n] = c + 1
			n = fmt.Sprintf("%s.%d", n, c)
		} else {
			seen[n] = 1
		}
		names[i] = n
	}
	return names
}

func blankRow(r []string) bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	return f.GetRows(sheets[0])
}

func readXLS(data []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, nil
	}

	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for c := 0; c < row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}
