// Package rag implements retrieval-augmented generation over the document
// knowledge base: vector storage, semantic retrieval, and answer generation.
// Concrete backends (Qdrant, the embedding providers, the chat models)
// satisfy small interfaces so the engine never depends on a specific vendor.
package rag

import (
	"context"
)

// VectorMetadata is the payload stored alongside each chunk embedding.
// It carries enough provenance to render source citations without a
// round-trip to the document store.
type VectorMetadata struct {
	// DocumentID is the owning document's UUID.
	DocumentID string

	// DocumentType is the document classification (CONTRACT, INVOICE, ...).
	DocumentType string

	// OriginalName is the user-facing filename of the document.
	OriginalName string

	// ChunkIndex is the zero-based position of this chunk in the document.
	ChunkIndex int

	// PageNumber is the 1-based page the chunk starts on, when known (0 otherwise).
	PageNumber int

	// StartChar and EndChar are the chunk's offsets into the document text.
	StartChar int
	EndChar   int
}

// VectorRecord is one chunk ready for insertion into the vector store.
type VectorRecord struct {
	// ID is the deterministic chunk identifier, "{documentId}-chunk-{index}".
	ID string

	// Content is the chunk text.
	Content string

	// Embedding is the dense vector for Content.
	Embedding []float32

	// Metadata is the provenance payload stored with the vector.
	Metadata VectorMetadata
}

// SearchHit is one result of a vector similarity search.
type SearchHit struct {
	// ID is the chunk identifier the record was inserted under.
	ID string

	// Content is the chunk text.
	Content string

	// Score is the cosine similarity in [0, 1].
	Score float32

	// Metadata is the provenance payload stored with the vector.
	Metadata VectorMetadata
}

// SearchOptions tunes a vector search.
type SearchOptions struct {
	// TopK is the maximum number of hits to return (default 5 when 0).
	TopK int

	// MinScore drops hits scoring below this threshold (default 0.7 when 0).
	MinScore float32

	// DocumentTypes restricts the search to a set of document
	// classifications; a hit matches when its type is any of them.
	// Empty means no filter.
	DocumentTypes []string
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a single text into its embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts a batch of texts into their embeddings.
	// The returned slice is parallel to the input slice.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the length of the vectors this embedder produces.
	Dimension() int

	// Ping verifies the backing service is reachable.
	Ping(ctx context.Context) error

	// Name identifies the provider and model for logging and health output.
	Name() string
}

// VectorStore persists and searches chunk embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Insert stores or updates a single record.
	Insert(ctx context.Context, rec VectorRecord) error

	// InsertBatch stores or updates a batch of records in one call.
	// Re-inserting an existing ID overwrites the previous vector.
	InsertBatch(ctx context.Context, recs []VectorRecord) error

	// Search returns the hits most similar to the query embedding,
	// best first, honoring the options' limit, threshold and filter.
	Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]SearchHit, error)

	// DeleteByDocumentID removes every chunk belonging to a document.
	// Deleting a document with no stored chunks is not an error.
	DeleteByDocumentID(ctx context.Context, documentID string) error

	// DeleteByID removes a single chunk by its record ID.
	DeleteByID(ctx context.Context, id string) error

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (uint64, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
