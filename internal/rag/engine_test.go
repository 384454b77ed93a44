package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeEmbedder returns a fixed vector for every input.
type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int                 { return len(f.vector) }
func (f *fakeEmbedder) Ping(ctx context.Context) error { return nil }
func (f *fakeEmbedder) Name() string                   { return "fake-embedder" }

// fakeVectorStore returns preset hits and records the options it was
// searched with.
type fakeVectorStore struct {
	hits     []SearchHit
	lastOpts SearchOptions
	err      error
}

func (f *fakeVectorStore) Insert(ctx context.Context, rec VectorRecord) error        { return nil }
func (f *fakeVectorStore) InsertBatch(ctx context.Context, recs []VectorRecord) error { return nil }

func (f *fakeVectorStore) Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]SearchHit, error) {
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *fakeVectorStore) DeleteByDocumentID(ctx context.Context, documentID string) error {
	return nil
}
func (f *fakeVectorStore) DeleteByID(ctx context.Context, id string) error { return nil }
func (f *fakeVectorStore) Count(ctx context.Context) (uint64, error)       { return 0, nil }
func (f *fakeVectorStore) Ping(ctx context.Context) error                  { return nil }
func (f *fakeVectorStore) Close() error                                    { return nil }

// fakeChat records the messages it was prompted with and returns canned
// output, either as one message or as a stream of fragments.
type fakeChat struct {
	answer       string
	fragments    []string
	totalTokens  int
	lastMessages []*schema.Message
	generateErr  error
	streamErr    error
}

func (f *fakeChat) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.lastMessages = input
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	msg := schema.AssistantMessage(f.answer, nil)
	if f.totalTokens > 0 {
		msg.ResponseMeta = &schema.ResponseMeta{
			Usage: &schema.TokenUsage{TotalTokens: f.totalTokens},
		}
	}
	return msg, nil
}

func (f *fakeChat) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.lastMessages = input
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	msgs := make([]*schema.Message, 0, len(f.fragments))
	for i, frag := range f.fragments {
		msg := schema.AssistantMessage(frag, nil)
		if i == len(f.fragments)-1 && f.totalTokens > 0 {
			msg.ResponseMeta = &schema.ResponseMeta{
				Usage: &schema.TokenUsage{TotalTokens: f.totalTokens},
			}
		}
		msgs = append(msgs, msg)
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (f *fakeChat) Name() string { return "fake/model-1" }

func newTestEngine(t *testing.T, store *fakeVectorStore, chat *fakeChat) *Engine {
	t.Helper()
	e, err := NewEngine(&fakeEmbedder{vector: []float32{0.1, 0.2}}, store, chat)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func someHits() []SearchHit {
	return []SearchHit{
		{
			ID:      "doc-1-chunk-0",
			Content: "Precio por tonelada: $250.",
			Score:   0.92,
			Metadata: VectorMetadata{
				DocumentID:   "doc-1",
				DocumentType: "CONTRACT",
				OriginalName: "contrato.pdf",
				ChunkIndex:   0,
				PageNumber:   2,
			},
		},
		{
			ID:      "doc-2-chunk-3",
			Content: "Total vendido: 120 toneladas.",
			Score:   0.81,
			Metadata: VectorMetadata{
				DocumentID:   "doc-2",
				DocumentType: "SALES_RECORD",
				OriginalName: "ventas.csv",
				ChunkIndex:   3,
			},
		},
	}
}

func TestEngineNewRejectsNilCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewEngine(nil, &fakeVectorStore{}, &fakeChat{}); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewEngine(&fakeEmbedder{}, nil, &fakeChat{}); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewEngine(&fakeEmbedder{}, &fakeVectorStore{}, nil); err == nil {
		t.Error("expected error for nil chat provider")
	}
}

func TestEngineRetrieveDefaults(t *testing.T) {
	t.Parallel()

	store := &fakeVectorStore{hits: someHits()}
	e := newTestEngine(t, store, &fakeChat{})

	chunks, err := e.Retrieve(context.Background(), "¿precio?", QueryOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if store.lastOpts.TopK != 5 {
		t.Errorf("TopK = %d, want default 5", store.lastOpts.TopK)
	}
	if store.lastOpts.MinScore != 0.7 {
		t.Errorf("MinScore = %v, want default 0.7", store.lastOpts.MinScore)
	}
	if len(store.lastOpts.DocumentTypes) != 0 {
		t.Errorf("DocumentTypes = %v, want empty", store.lastOpts.DocumentTypes)
	}

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].DocumentID != "doc-1" || chunks[1].DocumentID != "doc-2" {
		t.Errorf("store ordering not preserved: %+v", chunks)
	}
	if chunks[0].PageNumber != 2 {
		t.Errorf("PageNumber = %d, want 2", chunks[0].PageNumber)
	}
}

func TestEngineRetrievePassesOptions(t *testing.T) {
	t.Parallel()

	store := &fakeVectorStore{}
	e := newTestEngine(t, store, &fakeChat{})

	_, err := e.Retrieve(context.Background(), "q", QueryOptions{
		TopK:          3,
		MinScore:      0.5,
		DocumentTypes: []string{"INVOICE", "SALES_RECORD"},
		Rerank:        true,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if store.lastOpts.TopK != 3 || store.lastOpts.MinScore != 0.5 {
		t.Errorf("options not passed through: %+v", store.lastOpts)
	}
	if got := store.lastOpts.DocumentTypes; len(got) != 2 || got[0] != "INVOICE" || got[1] != "SALES_RECORD" {
		t.Errorf("DocumentTypes = %v, want [INVOICE SALES_RECORD]", got)
	}
}

func TestEngineRetrieveEmbedError(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(&fakeEmbedder{err: errors.New("boom")}, &fakeVectorStore{}, &fakeChat{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if _, err := e.Retrieve(context.Background(), "q", QueryOptions{}); err == nil {
		t.Error("expected error when embedding fails")
	}
}

func TestEngineQuery(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{answer: "Vendiste 120 toneladas.", totalTokens: 321}
	e := newTestEngine(t, &fakeVectorStore{hits: someHits()}, chat)

	resp, err := e.Query(context.Background(), "¿Cuánto vendí?", QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if resp.Answer != "Vendiste 120 toneladas." {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if len(resp.Sources) != 2 {
		t.Errorf("got %d sources, want 2", len(resp.Sources))
	}
	if resp.Metadata.ModelUsed != "fake/model-1" {
		t.Errorf("ModelUsed = %q", resp.Metadata.ModelUsed)
	}
	if resp.Metadata.TotalTokens != 321 {
		t.Errorf("TotalTokens = %d, want 321", resp.Metadata.TotalTokens)
	}

	if len(chat.lastMessages) != 2 {
		t.Fatalf("got %d messages, want system + user", len(chat.lastMessages))
	}
	if chat.lastMessages[0].Role != schema.System {
		t.Errorf("first message role = %v, want system", chat.lastMessages[0].Role)
	}
	if !strings.Contains(chat.lastMessages[1].Content, "[Fuente 1: Contrato - contrato.pdf, página 2]") {
		t.Errorf("user prompt missing source tag:\n%s", chat.lastMessages[1].Content)
	}
	if !strings.Contains(chat.lastMessages[1].Content, "Pregunta del usuario: ¿Cuánto vendí?") {
		t.Errorf("user prompt missing question:\n%s", chat.lastMessages[1].Content)
	}
}

func TestEngineQueryEmptyRetrieval(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{answer: "No tengo información suficiente."}
	e := newTestEngine(t, &fakeVectorStore{}, chat)

	resp, err := e.Query(context.Background(), "¿algo?", QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("got %d sources, want 0", len(resp.Sources))
	}
	if !strings.Contains(chat.lastMessages[1].Content, "No se encontró información relevante en los documentos.") {
		t.Errorf("empty retrieval should use the fixed context:\n%s", chat.lastMessages[1].Content)
	}
}

func TestEngineQueryGenerationError(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, &fakeVectorStore{}, &fakeChat{generateErr: errors.New("model down")})

	if _, err := e.Query(context.Background(), "q", QueryOptions{}); err == nil {
		t.Error("expected error when generation fails")
	}
}

func TestEngineQueryStream(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{fragments: []string{"Vendiste ", "120 ", "toneladas."}, totalTokens: 99}
	e := newTestEngine(t, &fakeVectorStore{hits: someHits()}, chat)

	var events []StreamEvent
	err := e.QueryStream(context.Background(), "¿Cuánto vendí?", QueryOptions{}, func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("QueryStream: %v", err)
	}

	if len(events) != 5 {
		t.Fatalf("got %d events, want sources + 3 chunks + done: %+v", len(events), events)
	}
	if events[0].Type != EventSources || len(events[0].Sources) != 2 {
		t.Errorf("first event = %+v, want sources with 2 chunks", events[0])
	}

	var answer strings.Builder
	for _, ev := range events[1:4] {
		if ev.Type != EventChunk {
			t.Errorf("event type = %q, want chunk", ev.Type)
		}
		answer.WriteString(ev.Content)
	}
	if answer.String() != "Vendiste 120 toneladas." {
		t.Errorf("accumulated answer = %q", answer.String())
	}

	done := events[4]
	if done.Type != EventDone {
		t.Fatalf("last event type = %q, want done", done.Type)
	}
	if done.Metadata == nil || done.Metadata.ModelUsed != "fake/model-1" {
		t.Errorf("done metadata = %+v", done.Metadata)
	}
	if done.Metadata.TotalTokens != 99 {
		t.Errorf("TotalTokens = %d, want 99", done.Metadata.TotalTokens)
	}
}

func TestEngineQueryStreamRetrievalError(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, &fakeVectorStore{err: errors.New("qdrant down")}, &fakeChat{})

	var events []StreamEvent
	err := e.QueryStream(context.Background(), "q", QueryOptions{}, func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err == nil {
		t.Fatal("expected error return")
	}
	if len(events) != 1 || events[0].Type != EventError {
		t.Errorf("events = %+v, want single terminal error event", events)
	}
}

func TestEngineQueryStreamEmitFailureStops(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{fragments: []string{"a", "b", "c"}}
	e := newTestEngine(t, &fakeVectorStore{hits: someHits()}, chat)

	calls := 0
	err := e.QueryStream(context.Background(), "q", QueryOptions{}, func(ev StreamEvent) error {
		calls++
		if calls == 2 {
			return errors.New("client gone")
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected error when emit fails")
	}
	if calls != 2 {
		t.Errorf("emit called %d times, want 2 (no events after failure)", calls)
	}
}

func TestFitContextDropsWorstChunksFirst(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("x", 8000)
	chunks := []RetrievedChunk{
		{Content: "mejor resultado", Score: 0.95, OriginalName: "a.pdf"},
		{Content: big, Score: 0.8, OriginalName: "b.pdf"},
		{Content: big, Score: 0.72, OriginalName: "c.pdf"},
	}

	// The prompt scaffolding costs ~280 tokens and each big chunk ~2000;
	// a 1000-token budget fits only the small best-scoring chunk.
	got := fitContext("¿Cuánto gasté?", chunks, 1000)
	if len(got) != 1 {
		t.Fatalf("kept %d chunks, want 1", len(got))
	}
	if got[0].Content != "mejor resultado" {
		t.Errorf("kept chunk %q, want the best-scoring one", got[0].OriginalName)
	}
}

func TestFitContextKeepsAllWhenWithinBudget(t *testing.T) {
	t.Parallel()

	chunks := []RetrievedChunk{
		{Content: "uno", Score: 0.9},
		{Content: "dos", Score: 0.8},
	}
	got := fitContext("pregunta", chunks, 6000)
	if len(got) != 2 {
		t.Errorf("kept %d chunks, want 2", len(got))
	}
}
