package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/agrodocs/agrodocs-go/internal/budget"
	"github.com/agrodocs/agrodocs-go/internal/logging"
)

// Default generation parameters, matching the values the API has always used.
const (
	defaultTopK        = 5
	defaultMinScore    = float32(0.7)
	defaultTemperature = float32(0.7)
	defaultMaxTokens   = 1000
)

// RetrievedChunk is one piece of document context returned by Retrieve,
// ordered best match first.
type RetrievedChunk struct {
	// Content is the chunk text.
	Content string `json:"content"`

	// Score is the similarity score assigned by the vector store.
	Score float32 `json:"score"`

	// DocumentID is the owning document's UUID.
	DocumentID string `json:"documentId"`

	// DocumentType is the document classification.
	DocumentType string `json:"documentType"`

	// OriginalName is the user-facing filename, used in source citations.
	OriginalName string `json:"originalName"`

	// ChunkIndex is the chunk's position within the document.
	ChunkIndex int `json:"chunkIndex"`

	// PageNumber is the 1-based page the chunk starts on (0 when unknown).
	PageNumber int `json:"pageNumber,omitempty"`
}

// QueryOptions tunes retrieval and generation. Zero values mean defaults:
// TopK 5, MinScore 0.7, Temperature 0.7, MaxTokens 1000.
type QueryOptions struct {
	// TopK is the maximum number of chunks to retrieve.
	TopK int

	// MinScore drops chunks scoring below this similarity threshold.
	MinScore float32

	// DocumentTypes restricts retrieval to a set of document
	// classifications. Empty means no filter.
	DocumentTypes []string

	// Temperature is the sampling temperature for generation.
	Temperature float32

	// MaxTokens caps the generated answer length.
	MaxTokens int

	// Rerank is accepted for API compatibility but currently a passthrough:
	// the store's similarity ordering is returned unchanged.
	Rerank bool
}

// ResponseMetadata describes how an answer was produced.
type ResponseMetadata struct {
	// ModelUsed is the chat provider and model that generated the answer.
	ModelUsed string `json:"modelUsed"`

	// RetrievalTime is the time spent embedding the query and searching.
	RetrievalTime time.Duration `json:"retrievalTimeMs"`

	// GenerationTime is the time spent in the chat model.
	GenerationTime time.Duration `json:"generationTimeMs"`

	// TotalTokens is the token usage reported by the provider (0 when the
	// provider reports none).
	TotalTokens int `json:"totalTokens,omitempty"`
}

// MarshalJSON renders the durations as integer milliseconds, matching the
// field names in the wire format.
func (m ResponseMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ModelUsed        string `json:"modelUsed"`
		RetrievalTimeMs  int64  `json:"retrievalTimeMs"`
		GenerationTimeMs int64  `json:"generationTimeMs"`
		TotalTokens      int    `json:"totalTokens,omitempty"`
	}{
		ModelUsed:        m.ModelUsed,
		RetrievalTimeMs:  m.RetrievalTime.Milliseconds(),
		GenerationTimeMs: m.GenerationTime.Milliseconds(),
		TotalTokens:      m.TotalTokens,
	})
}

// Response is the result of a blocking Query.
type Response struct {
	// Answer is the generated answer text.
	Answer string `json:"answer"`

	// Sources are the chunks the answer was grounded on, best match first.
	Sources []RetrievedChunk `json:"sources"`

	// Metadata describes how the answer was produced.
	Metadata ResponseMetadata `json:"metadata"`
}

// StreamEventType discriminates events emitted by QueryStream.
type StreamEventType string

const (
	// EventSources carries the retrieved chunks, emitted first.
	EventSources StreamEventType = "sources"

	// EventChunk carries one answer fragment.
	EventChunk StreamEventType = "chunk"

	// EventDone terminates a successful stream and carries the metadata.
	EventDone StreamEventType = "done"

	// EventError terminates a failed stream.
	EventError StreamEventType = "error"
)

// StreamEvent is one event of a streaming query. Exactly one of the payload
// fields is set, according to Type.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// Sources is set on EventSources.
	Sources []RetrievedChunk `json:"sources,omitempty"`

	// Content is set on EventChunk.
	Content string `json:"content,omitempty"`

	// Metadata is set on EventDone.
	Metadata *ResponseMetadata `json:"metadata,omitempty"`

	// Error is set on EventError.
	Error string `json:"error,omitempty"`
}

// ChatProvider is the slice of the chat model layer the engine needs:
// the eino Generate/Stream pair plus a provider name for response metadata.
type ChatProvider interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
	Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
	Name() string
}

// Engine answers questions over the document knowledge base. It embeds the
// query, searches the vector store, and prompts the chat model with the
// retrieved context.
type Engine struct {
	embedder Embedder
	store    VectorStore
	chat     ChatProvider
}

// NewEngine constructs an Engine from its collaborators.
func NewEngine(embedder Embedder, store VectorStore, chat ChatProvider) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if chat == nil {
		return nil, fmt.Errorf("rag: chat provider must not be nil")
	}
	return &Engine{embedder: embedder, store: store, chat: chat}, nil
}

// Retrieve embeds the query and returns the most relevant chunks, best match
// first, preserving the store's ordering. The Rerank option is a passthrough.
func (e *Engine) Retrieve(ctx context.Context, query string, opts QueryOptions) ([]RetrievedChunk, error) {
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}

	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	hits, err := e.store.Search(ctx, embedding, SearchOptions{
		TopK:          topK,
		MinScore:      minScore,
		DocumentTypes: opts.DocumentTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	chunks := make([]RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		chunks = append(chunks, RetrievedChunk{
			Content:      hit.Content,
			Score:        hit.Score,
			DocumentID:   hit.Metadata.DocumentID,
			DocumentType: hit.Metadata.DocumentType,
			OriginalName: hit.Metadata.OriginalName,
			ChunkIndex:   hit.Metadata.ChunkIndex,
			PageNumber:   hit.Metadata.PageNumber,
		})
	}

	return chunks, nil
}

// Query answers a question in one blocking call: retrieve, prompt, generate.
func (e *Engine) Query(ctx context.Context, query string, opts QueryOptions) (*Response, error) {
	retrievalStart := time.Now()
	chunks, err := e.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	retrievalTime := time.Since(retrievalStart)

	logging.FromContext(ctx).Debug("rag: retrieval complete",
		slog.Int("chunks", len(chunks)),
		slog.Duration("elapsed", retrievalTime))

	messages := e.buildMessages(query, chunks)

	generationStart := time.Now()
	msg, err := e.chat.Generate(ctx, messages, e.generateOptions(opts)...)
	if err != nil {
		return nil, fmt.Errorf("rag: generation failed: %w", err)
	}
	generationTime := time.Since(generationStart)

	resp := &Response{
		Answer:  msg.Content,
		Sources: chunks,
		Metadata: ResponseMetadata{
			ModelUsed:      e.chat.Name(),
			RetrievalTime:  retrievalTime,
			GenerationTime: generationTime,
		},
	}
	if meta := msg.ResponseMeta; meta != nil && meta.Usage != nil {
		resp.Metadata.TotalTokens = meta.Usage.TotalTokens
	}

	return resp, nil
}

// QueryStream answers a question incrementally, delivering events through
// emit: one EventSources, then EventChunk per model fragment, then a terminal
// EventDone. Failures produce a terminal EventError and a non-nil return.
// When emit itself fails (client gone), QueryStream stops without emitting
// further events.
func (e *Engine) QueryStream(ctx context.Context, query string, opts QueryOptions, emit func(StreamEvent) error) error {
	retrievalStart := time.Now()
	chunks, err := e.Retrieve(ctx, query, opts)
	if err != nil {
		_ = emit(StreamEvent{Type: EventError, Error: err.Error()})
		return err
	}
	retrievalTime := time.Since(retrievalStart)

	if err := emit(StreamEvent{Type: EventSources, Sources: chunks}); err != nil {
		return fmt.Errorf("rag: emitting sources failed: %w", err)
	}

	messages := e.buildMessages(query, chunks)

	generationStart := time.Now()
	sr, err := e.chat.Stream(ctx, messages, e.generateOptions(opts)...)
	if err != nil {
		err = fmt.Errorf("rag: stream failed: %w", err)
		_ = emit(StreamEvent{Type: EventError, Error: err.Error()})
		return err
	}
	defer sr.Close()

	totalTokens := 0
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			err = fmt.Errorf("rag: stream receive error: %w", err)
			_ = emit(StreamEvent{Type: EventError, Error: err.Error()})
			return err
		}
		if msg == nil {
			continue
		}
		if meta := msg.ResponseMeta; meta != nil && meta.Usage != nil {
			totalTokens = meta.Usage.TotalTokens
		}
		if msg.Content == "" {
			continue
		}
		if err := emit(StreamEvent{Type: EventChunk, Content: msg.Content}); err != nil {
			return fmt.Errorf("rag: emitting chunk failed: %w", err)
		}
	}

	meta := &ResponseMetadata{
		ModelUsed:      e.chat.Name(),
		RetrievalTime:  retrievalTime,
		GenerationTime: time.Since(generationStart),
		TotalTokens:    totalTokens,
	}
	if err := emit(StreamEvent{Type: EventDone, Metadata: meta}); err != nil {
		return fmt.Errorf("rag: emitting done failed: %w", err)
	}

	return nil
}

// buildMessages assembles the system and user turns for a query. Retrieved
// chunks that would push the prompt past the context budget are dropped,
// worst-scoring first.
func (e *Engine) buildMessages(query string, chunks []RetrievedChunk) []*schema.Message {
	chunks = fitContext(query, chunks, budget.DefaultMaxContextTokens)
	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(BuildUserPrompt(query, BuildContext(chunks))),
	}
}

// fitContext trims chunks from the end (retrieval returns best match first)
// until the full prompt fits within maxTokens. The system prompt and the
// question are never trimmed; if even a single chunk exceeds the budget the
// context degrades to the no-information fallback.
func fitContext(query string, chunks []RetrievedChunk, maxTokens int) []RetrievedChunk {
	fixed := budget.EstimateMessages([]*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(BuildUserPrompt(query, "")),
	})
	for len(chunks) > 0 {
		if fixed+budget.Estimate(BuildContext(chunks)) <= maxTokens {
			break
		}
		chunks = chunks[:len(chunks)-1]
	}
	return chunks
}

// generateOptions maps QueryOptions onto eino model options.
func (e *Engine) generateOptions(opts QueryOptions) []model.Option {
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return []model.Option{
		model.WithTemperature(temperature),
		model.WithMaxTokens(maxTokens),
	}
}
