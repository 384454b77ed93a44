package parser

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// CSVParser converts CSV files into row-per-line readable text so that
// tabular sales records embed well: each row is rendered as
// "column: value" pairs rather than bare comma-separated cells.
type CSVParser struct{}

// NewCSVParser constructs a CSVParser.
func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse reads the CSV at path, treating the first row as the header.
func (p *CSVParser) Parse(path string) (*Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parser: open csv %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parser: parse csv %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("parser: csv %s is empty", path)
	}

	headers := records[0]
	rows := records[1:]

	var buf strings.Builder
	buf.WriteString(strings.Join(headers, " | "))
	buf.WriteString("\n")
	buf.WriteString(strings.Repeat("-", 80))
	buf.WriteString("\n")

	for i, row := range rows {
		buf.WriteString(fmt.Sprintf("Row %d: ", i+1))
		for j, cell := range row {
			if j > 0 {
				buf.WriteString(", ")
			}
			if j < len(headers) {
				buf.WriteString(headers[j] + ": " + cell)
			} else {
				buf.WriteString(cell)
			}
		}
		buf.WriteString("\n")
	}

	return &Parsed{
		Text: buf.String(),
		Metadata: map[string]any{
			"rowCount": len(rows),
			"columns":  headers,
		},
	}, nil
}

// Supports reports whether mimeType is one of the CSV content types.
func (p *CSVParser) Supports(mimeType string) bool {
	return mimeType == "text/csv" || mimeType == "application/csv"
}
