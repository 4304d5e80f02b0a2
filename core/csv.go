package core

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// UTF8BOM is written at the start of exported CSV files so spreadsheet apps pick the right encoding.
const UTF8BOM = "\ufeff"

// ParseCSV splits CSV text into trimmed fields.
// Quoted fields may contain commas & newlines, `""` escapes a quote, blank lines are skipped
// and rows may have different lengths.
func ParseCSV(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(UTF8BOM)); err == nil && string(b) == UTF8BOM {
		_, _ = br.Discard(len(UTF8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading csv")
		}

		blank := true
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
			if record[i] != "" {
				blank = false
			}
		}
		if !blank {
			rows = append(rows, record)
		}
	}
	return rows, nil
}

// CSVHeader maps the lower-cased column names of a CSV header to their index.
type CSVHeader map[string]int

func NewCSVHeader(row []string) CSVHeader {
	h := make(CSVHeader, len(row))
	for i, col := range row {
		h[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return h
}

// Index returns the index of the first matching column name, -1 when none matches.
func (h CSVHeader) Index(names ...string) int {
	for _, name := range names {
		if i, ok := h[strings.ToLower(name)]; ok {
			return i
		}
	}
	return -1
}

// Get returns the value of the first matching column in row, "" when missing.
func (h CSVHeader) Get(row []string, names ...string) string {
	if i := h.Index(names...); i >= 0 && i < len(row) {
		return row[i]
	}
	return ""
}
