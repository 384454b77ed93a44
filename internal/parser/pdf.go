package parser

import (
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser extracts text from PDF files page by page.
type PDFParser struct{}

// NewPDFParser constructs a PDFParser.
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// Parse opens the PDF at path and concatenates the plain text of every page.
// Pages whose text cannot be decoded are skipped rather than failing the
// whole document — scanned pages without a text layer are common in
// uploaded contracts.
func (p *PDFParser) Parse(path string) (*Parsed, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parser: open pdf %s: %w", path, err)
	}
	defer f.Close()

	var buf strings.Builder
	numPages := reader.NumPage()
	extracted := 0

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(strings.TrimSpace(text))
		extracted++
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return nil, fmt.Errorf("parser: pdf %s contains no extractable text", path)
	}

	return &Parsed{
		Text:      text,
		PageCount: numPages,
		Metadata: map[string]any{
			"pagesWithText": extracted,
		},
	}, nil
}

// Supports reports whether mimeType is the PDF content type.
func (p *PDFParser) Supports(mimeType string) bool {
	return mimeType == "application/pdf"
}
