package server

import (
	"context"
	"fmt"

	"github.com/agrodocs/agrodocs-go/internal/rag"
)

// The embedder and chat provider satisfy Pinger directly (both expose
// Ping and Name). The vector store only exposes Ping, so it gets a small
// adapter that supplies the dependency label.

// VectorStorePinger probes the vector store for readiness. It satisfies the
// Pinger interface and is used by GET /api/ready.
type VectorStorePinger struct {
	store rag.VectorStore
}

// NewVectorStorePinger constructs a VectorStorePinger for the given store.
func NewVectorStorePinger(store rag.VectorStore) *VectorStorePinger {
	return &VectorStorePinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *VectorStorePinger) Name() string { return "qdrant" }

// Ping delegates to the store's health check.
func (p *VectorStorePinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
