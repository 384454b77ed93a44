package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/agrodocs/agrodocs-go/internal/chunker"
	"github.com/agrodocs/agrodocs-go/internal/document"
	"github.com/agrodocs/agrodocs-go/internal/parser"
	"github.com/agrodocs/agrodocs-go/internal/rag"
)

type fakeParser struct {
	parsed *parser.Parsed
	err    error
}

func (f *fakeParser) Parse(path string) (*parser.Parsed, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.parsed, nil
}

func (f *fakeParser) Supports(mimeType string) bool { return true }

// fakeFactory maps MIME types to parsers; unknown types resolve to nil.
type fakeFactory struct {
	parsers map[string]parser.Parser
}

func (f *fakeFactory) ForMIMEType(mimeType string) parser.Parser {
	return f.parsers[mimeType]
}

type fakeEmbedder struct {
	err   error
	short bool
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int                 { return 3 }
func (f *fakeEmbedder) Ping(ctx context.Context) error { return nil }
func (f *fakeEmbedder) Name() string                   { return "fake" }

type fakeStore struct {
	inserted    []rag.VectorRecord
	deletedDocs []string
	insertErr   error
	deleteErr   error
}

func (f *fakeStore) Insert(ctx context.Context, rec rag.VectorRecord) error {
	return f.InsertBatch(ctx, []rag.VectorRecord{rec})
}

func (f *fakeStore) InsertBatch(ctx context.Context, recs []rag.VectorRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, recs...)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, embedding []float32, opts rag.SearchOptions) ([]rag.SearchHit, error) {
	return nil, nil
}

func (f *fakeStore) DeleteByDocumentID(ctx context.Context, documentID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedDocs = append(f.deletedDocs, documentID)
	return nil
}

func (f *fakeStore) DeleteByID(ctx context.Context, id string) error { return nil }
func (f *fakeStore) Count(ctx context.Context) (uint64, error)       { return 0, nil }
func (f *fakeStore) Ping(ctx context.Context) error                  { return nil }
func (f *fakeStore) Close() error                                    { return nil }

func testDocument(t *testing.T) *document.Document {
	t.Helper()
	return document.New(document.Input{
		Filename:     "abc123.pdf",
		OriginalName: "contrato-soja.pdf",
		Filepath:     "/data/uploads/abc123.pdf",
		MIMEType:     "application/pdf",
		Size:         2048,
		Type:         document.TypeContract,
	})
}

func newTestIndexer(t *testing.T, factory ParserFactory, emb rag.Embedder, store rag.VectorStore) *Indexer {
	t.Helper()
	ix, err := New(factory, chunker.Options{ChunkSize: 1000, Overlap: 200}, emb, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ix
}

func TestIndexDocumentSuccess(t *testing.T) {
	t.Parallel()

	doc := testDocument(t)
	factory := &fakeFactory{parsers: map[string]parser.Parser{
		"application/pdf": &fakeParser{parsed: &parser.Parsed{
			Text:      "El contrato establece un precio de $250 por tonelada de soja.",
			PageCount: 2,
		}},
	}}
	store := &fakeStore{}

	ix := newTestIndexer(t, factory, &fakeEmbedder{}, store)
	res := ix.IndexDocument(context.Background(), doc)

	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	if res.DocumentID != doc.ID {
		t.Errorf("DocumentID = %q, want %q", res.DocumentID, doc.ID)
	}
	if res.ChunksIndexed != 1 {
		t.Errorf("ChunksIndexed = %d, want 1", res.ChunksIndexed)
	}
	if res.ProcessingTime <= 0 {
		t.Errorf("ProcessingTime = %v, want > 0", res.ProcessingTime)
	}
	if res.Extracted == nil || res.Extracted.PageCount != 2 {
		t.Errorf("Extracted = %+v, want parse output with PageCount 2", res.Extracted)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("stored %d records, want 1", len(store.inserted))
	}
	rec := store.inserted[0]
	if want := doc.ID + "-chunk-0"; rec.ID != want {
		t.Errorf("record ID = %q, want %q", rec.ID, want)
	}
	if rec.Metadata.DocumentType != "CONTRACT" {
		t.Errorf("DocumentType = %q, want CONTRACT", rec.Metadata.DocumentType)
	}
	if rec.Metadata.OriginalName != "contrato-soja.pdf" {
		t.Errorf("OriginalName = %q", rec.Metadata.OriginalName)
	}
}

func TestIndexDocumentChunkIDs(t *testing.T) {
	t.Parallel()

	doc := testDocument(t)
	// Long enough to produce several chunks at the default size.
	text := strings.Repeat("La cosecha de maíz de este año superó las expectativas del productor. ", 60)
	factory := &fakeFactory{parsers: map[string]parser.Parser{
		"application/pdf": &fakeParser{parsed: &parser.Parsed{Text: text}},
	}}
	store := &fakeStore{}

	ix := newTestIndexer(t, factory, &fakeEmbedder{}, store)
	res := ix.IndexDocument(context.Background(), doc)

	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	if res.ChunksIndexed < 2 {
		t.Fatalf("ChunksIndexed = %d, want several", res.ChunksIndexed)
	}
	for i, rec := range store.inserted {
		if want := fmt.Sprintf("%s-chunk-%d", doc.ID, i); rec.ID != want {
			t.Errorf("record %d ID = %q, want %q", i, rec.ID, want)
		}
	}
}

func TestIndexDocumentNoParser(t *testing.T) {
	t.Parallel()

	doc := testDocument(t)
	doc.MIMEType = "image/png"

	ix := newTestIndexer(t, &fakeFactory{}, &fakeEmbedder{}, &fakeStore{})
	res := ix.IndexDocument(context.Background(), doc)

	if res.Success {
		t.Fatal("expected failure for unsupported MIME type")
	}
	if want := "No parser available for MIME type: image/png"; res.Error != want {
		t.Errorf("Error = %q, want %q", res.Error, want)
	}
}

func TestIndexDocumentParseFailure(t *testing.T) {
	t.Parallel()

	doc := testDocument(t)
	factory := &fakeFactory{parsers: map[string]parser.Parser{
		"application/pdf": &fakeParser{err: errors.New("corrupt file")},
	}}

	ix := newTestIndexer(t, factory, &fakeEmbedder{}, &fakeStore{})
	res := ix.IndexDocument(context.Background(), doc)

	if res.Success {
		t.Fatal("expected failure when parsing fails")
	}
	if res.Error != "corrupt file" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestIndexDocumentNoChunks(t *testing.T) {
	t.Parallel()

	doc := testDocument(t)
	factory := &fakeFactory{parsers: map[string]parser.Parser{
		"application/pdf": &fakeParser{parsed: &parser.Parsed{Text: "   "}},
	}}

	ix := newTestIndexer(t, factory, &fakeEmbedder{}, &fakeStore{})
	res := ix.IndexDocument(context.Background(), doc)

	if res.Success {
		t.Fatal("expected failure for empty text")
	}
	if want := "No chunks generated from document"; res.Error != want {
		t.Errorf("Error = %q, want %q", res.Error, want)
	}
}

func TestIndexDocumentEmbeddingFailure(t *testing.T) {
	t.Parallel()

	doc := testDocument(t)
	factory := &fakeFactory{parsers: map[string]parser.Parser{
		"application/pdf": &fakeParser{parsed: &parser.Parsed{Text: "algo de texto"}},
	}}
	store := &fakeStore{}

	ix := newTestIndexer(t, factory, &fakeEmbedder{err: errors.New("embedding service down")}, store)
	res := ix.IndexDocument(context.Background(), doc)

	if res.Success {
		t.Fatal("expected failure when embedding fails")
	}
	if len(store.inserted) != 0 {
		t.Errorf("nothing should be stored on failure, got %d records", len(store.inserted))
	}
}

func TestIndexDocumentEmbeddingCountMismatch(t *testing.T) {
	t.Parallel()

	doc := testDocument(t)
	factory := &fakeFactory{parsers: map[string]parser.Parser{
		"application/pdf": &fakeParser{parsed: &parser.Parsed{Text: "algo de texto"}},
	}}

	ix := newTestIndexer(t, factory, &fakeEmbedder{short: true}, &fakeStore{})
	res := ix.IndexDocument(context.Background(), doc)

	if res.Success {
		t.Fatal("expected failure on embedding count mismatch")
	}
}

func TestIndexDocumentStoreFailure(t *testing.T) {
	t.Parallel()

	doc := testDocument(t)
	factory := &fakeFactory{parsers: map[string]parser.Parser{
		"application/pdf": &fakeParser{parsed: &parser.Parsed{Text: "algo de texto"}},
	}}

	ix := newTestIndexer(t, factory, &fakeEmbedder{}, &fakeStore{insertErr: errors.New("qdrant unavailable")})
	res := ix.IndexDocument(context.Background(), doc)

	if res.Success {
		t.Fatal("expected failure when the store fails")
	}
	if res.Error != "qdrant unavailable" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestReindexDocumentDeletesFirst(t *testing.T) {
	t.Parallel()

	doc := testDocument(t)
	factory := &fakeFactory{parsers: map[string]parser.Parser{
		"application/pdf": &fakeParser{parsed: &parser.Parsed{Text: "texto del contrato"}},
	}}
	store := &fakeStore{}

	ix := newTestIndexer(t, factory, &fakeEmbedder{}, store)
	res := ix.ReindexDocument(context.Background(), doc)

	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	if len(store.deletedDocs) != 1 || store.deletedDocs[0] != doc.ID {
		t.Errorf("deletedDocs = %v, want [%s]", store.deletedDocs, doc.ID)
	}
	if len(store.inserted) != 1 {
		t.Errorf("stored %d records, want 1", len(store.inserted))
	}
}

func TestRemoveDocument(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	ix := newTestIndexer(t, &fakeFactory{}, &fakeEmbedder{}, store)

	if err := ix.RemoveDocument(context.Background(), "doc-9"); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	if len(store.deletedDocs) != 1 || store.deletedDocs[0] != "doc-9" {
		t.Errorf("deletedDocs = %v", store.deletedDocs)
	}

	ix = newTestIndexer(t, &fakeFactory{}, &fakeEmbedder{}, &fakeStore{deleteErr: errors.New("down")})
	if err := ix.RemoveDocument(context.Background(), "doc-9"); err == nil {
		t.Error("expected error when deletion fails")
	}
}

func TestBatchIndexDocumentsSequentialAndFaultTolerant(t *testing.T) {
	t.Parallel()

	good := testDocument(t)
	bad := testDocument(t)
	bad.MIMEType = "application/zip"

	factory := &fakeFactory{parsers: map[string]parser.Parser{
		"application/pdf": &fakeParser{parsed: &parser.Parsed{Text: "texto"}},
	}}
	store := &fakeStore{}

	ix := newTestIndexer(t, factory, &fakeEmbedder{}, store)
	results := ix.BatchIndexDocuments(context.Background(), []*document.Document{good, bad, good})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Errorf("results = %+v, want success, failure, success", results)
	}
	if results[1].DocumentID != bad.ID {
		t.Errorf("failure result DocumentID = %q, want %q", results[1].DocumentID, bad.ID)
	}
}
