// Package parser extracts plain text from uploaded document files.
// Each Parser handles one family of MIME types; the Factory resolves the
// right parser for a document so the indexing pipeline never switches on
// file formats itself. A missing parser is a reportable condition, not a
// crash — the factory returns nil and the caller turns that into a failed
// indexing result.
package parser

// Parsed is the result of extracting text from a document file.
type Parsed struct {
	// Text is the extracted plain text.
	Text string
	// PageCount is the number of pages, when the format has pages (0 otherwise).
	PageCount int
	// Metadata holds parser-specific extraction details (row counts, sheet
	// names, etc.) merged into the document metadata by the upload workflow.
	Metadata map[string]any
}

// Parser extracts text from one family of document formats.
type Parser interface {
	// Parse reads the file at path and extracts its text.
	Parse(path string) (*Parsed, error)

	// Supports reports whether this parser handles the given MIME type.
	Supports(mimeType string) bool
}

// Factory resolves a Parser by MIME type.
type Factory struct {
	// parsers is the ordered candidate list; first match wins.
	parsers []Parser
}

// NewFactory constructs a Factory over the default parser set:
// PDF, CSV, and XLSX.
func NewFactory() *Factory {
	return &Factory{
		parsers: []Parser{
			NewPDFParser(),
			NewCSVParser(),
			NewXLSXParser(),
		},
	}
}

// ForMIMEType returns the first parser that supports mimeType, or nil when
// none does.
func (f *Factory) ForMIMEType(mimeType string) Parser {
	for _, p := range f.parsers {
		if p.Supports(mimeType) {
			return p
		}
	}
	return nil
}

// SupportedMIMETypes returns the MIME types the default parser set accepts.
// Used by the upload handler to reject unsupported files early.
func (f *Factory) SupportedMIMETypes() []string {
	return []string{
		"application/pdf",
		"text/csv",
		"application/csv",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel",
	}
}
