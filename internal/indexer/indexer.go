// Package indexer orchestrates the indexing pipeline: parse a document file,
// chunk its text, embed the chunks, and store the vectors. The orchestrator
// never mutates document status — that is the upload workflow's job — and it
// reports failures as result records rather than errors so a bad document
// can never abort a batch.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrodocs/agrodocs-go/internal/chunker"
	"github.com/agrodocs/agrodocs-go/internal/document"
	"github.com/agrodocs/agrodocs-go/internal/logging"
	"github.com/agrodocs/agrodocs-go/internal/parser"
	"github.com/agrodocs/agrodocs-go/internal/rag"
)

// Result describes the outcome of indexing one document.
type Result struct {
	// DocumentID is the document this result belongs to.
	DocumentID string

	// Success is true when every chunk was embedded and stored.
	Success bool

	// ChunksIndexed is the number of chunks stored (0 on failure).
	ChunksIndexed int

	// Error is the failure description (empty on success).
	Error string

	// ProcessingTime is the total wall time for this document.
	ProcessingTime time.Duration

	// Extracted is the parse output (text, page count, parser metadata),
	// set on success so callers can persist it without re-parsing.
	Extracted *parser.Parsed
}

// ParserFactory resolves a parser for a MIME type, or nil when none handles it.
type ParserFactory interface {
	ForMIMEType(mimeType string) parser.Parser
}

// Indexer runs the indexing pipeline. All collaborators are injected at
// construction time.
type Indexer struct {
	parsers   ParserFactory
	chunkOpts chunker.Options
	embedder  rag.Embedder
	store     rag.VectorStore
}

// New constructs an Indexer from its collaborators.
func New(parsers ParserFactory, chunkOpts chunker.Options, embedder rag.Embedder, store rag.VectorStore) (*Indexer, error) {
	if parsers == nil {
		return nil, fmt.Errorf("indexer: parser factory must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("indexer: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("indexer: vector store must not be nil")
	}
	return &Indexer{
		parsers:   parsers,
		chunkOpts: chunkOpts,
		embedder:  embedder,
		store:     store,
	}, nil
}

// IndexDocument parses, chunks, embeds, and stores one document. Every
// failure is reported in the Result, never as a panic or error return.
func (ix *Indexer) IndexDocument(ctx context.Context, doc *document.Document) Result {
	start := time.Now()
	log := logging.FromContext(ctx)

	fail := func(msg string) Result {
		log.Error("indexer: document failed",
			slog.String("document_id", doc.ID),
			slog.String("error", msg))
		return Result{
			DocumentID:     doc.ID,
			Error:          msg,
			ProcessingTime: time.Since(start),
		}
	}

	p := ix.parsers.ForMIMEType(doc.MIMEType)
	if p == nil {
		return fail(fmt.Sprintf("No parser available for MIME type: %s", doc.MIMEType))
	}

	parsed, err := p.Parse(doc.Filepath)
	if err != nil {
		return fail(err.Error())
	}

	chunks := chunker.Chunk(parsed.Text, ix.chunkOpts)
	if len(chunks) == 0 {
		return fail("No chunks generated from document")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fail(err.Error())
	}
	if len(embeddings) != len(chunks) {
		return fail(fmt.Sprintf("expected %d embeddings, got %d", len(chunks), len(embeddings)))
	}

	records := make([]rag.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = rag.VectorRecord{
			ID:        fmt.Sprintf("%s-chunk-%d", doc.ID, c.Index),
			Content:   c.Content,
			Embedding: embeddings[i],
			Metadata: rag.VectorMetadata{
				DocumentID:   doc.ID,
				DocumentType: string(doc.Type),
				OriginalName: doc.OriginalName,
				ChunkIndex:   c.Index,
				StartChar:    c.StartChar,
				EndChar:      c.EndChar,
			},
		}
	}

	if err := ix.store.InsertBatch(ctx, records); err != nil {
		return fail(err.Error())
	}

	elapsed := time.Since(start)
	log.Info("indexer: document indexed",
		slog.String("document_id", doc.ID),
		slog.Int("chunks", len(chunks)),
		slog.Duration("elapsed", elapsed))

	return Result{
		DocumentID:     doc.ID,
		Success:        true,
		ChunksIndexed:  len(chunks),
		ProcessingTime: elapsed,
		Extracted:      parsed,
	}
}

// ReindexDocument removes any existing vectors for the document and indexes
// it again. Reindexing a document with no prior vectors is safe.
func (ix *Indexer) ReindexDocument(ctx context.Context, doc *document.Document) Result {
	if err := ix.store.DeleteByDocumentID(ctx, doc.ID); err != nil {
		return Result{DocumentID: doc.ID, Error: err.Error()}
	}
	return ix.IndexDocument(ctx, doc)
}

// RemoveDocument deletes every stored vector for the document. Removing a
// document that was never indexed is not an error.
func (ix *Indexer) RemoveDocument(ctx context.Context, documentID string) error {
	if err := ix.store.DeleteByDocumentID(ctx, documentID); err != nil {
		return fmt.Errorf("indexer: remove document %s: %w", documentID, err)
	}
	return nil
}

// BatchIndexDocuments indexes documents strictly sequentially, one result per
// document in input order. A failed document never aborts the batch.
func (ix *Indexer) BatchIndexDocuments(ctx context.Context, docs []*document.Document) []Result {
	results := make([]Result, 0, len(docs))
	for _, doc := range docs {
		results = append(results, ix.IndexDocument(ctx, doc))
	}
	return results
}
