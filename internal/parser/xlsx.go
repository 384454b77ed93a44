package parser

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser converts Excel workbooks into readable text, one section per
// sheet, rendering rows the same way the CSV parser does.
type XLSXParser struct{}

// NewXLSXParser constructs an XLSXParser.
func NewXLSXParser() *XLSXParser {
	return &XLSXParser{}
}

// Parse opens the workbook at path and extracts every non-empty sheet.
func (p *XLSXParser) Parse(path string) (*Parsed, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: open xlsx %s: %w", path, err)
	}
	defer wb.Close()

	var buf strings.Builder
	totalRows := 0
	sheets := wb.GetSheetList()

	for _, sheet := range sheets {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("parser: read sheet %q in %s: %w", sheet, path, err)
		}
		if len(rows) == 0 {
			continue
		}

		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString("Sheet: " + sheet + "\n")

		headers := rows[0]
		buf.WriteString(strings.Join(headers, " | "))
		buf.WriteString("\n")
		buf.WriteString(strings.Repeat("-", 80))
		buf.WriteString("\n")

		for i, row := range rows[1:] {
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
		totalRows += len(rows) - 1
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return nil, fmt.Errorf("parser: xlsx %s contains no data", path)
	}

	return &Parsed{
		Text: text,
		Metadata: map[string]any{
			"sheetCount": len(sheets),
			"rowCount":   totalRows,
		},
	}, nil
}

// Supports reports whether mimeType is one of the Excel content types.
func (p *XLSXParser) Supports(mimeType string) bool {
	return mimeType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" ||
		mimeType == "application/vnd.ms-excel"
}
