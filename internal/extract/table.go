package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Table is a parsed CSV upload. It is stored as JSON in the table namespace.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// ParseCSV reads a header row and data rows. Every row must have as many
// fields as the header.
func ParseCSV(b []byte) (*Table, error) {
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("%w: csv is not valid UTF-8", ErrInvalidInput)
	}

	r := csv.NewReader(bytes.NewReader(b))
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: csv is empty", ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %v", ErrInvalidInput, err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	t := &Table{Columns: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv: %v", ErrInvalidInput, err)
		}
		t.Rows = append(t.Rows, rec)
	}
	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("%w: csv has no data rows", ErrInvalidInput)
	}
	return t, nil
}

// DecodeTable parses a stored table blob.
func DecodeTable(b []byte) (*Table, error) {
	var t Table
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decoding table: %w", err)
	}
	return &t, nil
}

// Encode returns the JSON blob stored for the table.
func (t *Table) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// Shape returns rows and columns.
func (t *Table) Shape() [2]int {
	return [2]int{len(t.Rows), len(t.Columns)}
}

// Preview returns up to n rows keyed by column name.
func (t *Table) Preview(n int) []map[string]string {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	out := make([]map[string]string, 0, n)
	for _, row := range t.Rows[:n] {
		m := make(map[string]string, len(t.Columns))
		for i, c := range t.Columns {
			m[c] = row[i]
		}
		out = append(out, m)
	}
	return out
}

// Pages renders each row as "column: value" lines so the table can be
// embedded and queried like text. Page numbers are 1-based row numbers.
func (t *Table) Pages() []Page {
	pages := make([]Page, 0, len(t.Rows))
	for i, row := range t.Rows {
		var sb strings.Builder
		for j, c := range t.Columns {
			if j > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "%s: %s", c, row[j])
		}
		pages = append(pages, Page{Number: i + 1, Text: sb.String()})
	}
	return pages
}
