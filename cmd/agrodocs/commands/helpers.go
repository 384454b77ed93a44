package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/agrodocs/agrodocs-go/internal/embedder"
	"github.com/agrodocs/agrodocs-go/internal/provider"
	"github.com/agrodocs/agrodocs-go/internal/rag"
	"github.com/agrodocs/agrodocs-go/internal/store"
)

// ragStack bundles the collaborators behind the retrieval and answer engine.
// Close releases the vector store connection.
type ragStack struct {
	embedder rag.Embedder
	vectors  *rag.QdrantStore
	chat     *provider.ChatProvider
	engine   *rag.Engine
}

func (s *ragStack) Close() {
	_ = s.vectors.Close()
}

// buildVectorBackend wires the embedder and Qdrant vector store from the
// environment. The Qdrant collection is sized to the embedder's
// dimensionality, so switching embedding backends needs a fresh collection.
func buildVectorBackend(ctx context.Context, log *slog.Logger) (rag.Embedder, *rag.QdrantStore, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("embedder", emb.Name()), slog.Int("dimension", emb.Dimension()))

	qdrantHost := getEnvOrDefault("QDRANT_HOST", "localhost")
	qdrantPort := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "rag_agro_docs")

	vectors, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       qdrantHost,
		Port:       qdrantPort,
		Collection: collection,
		VectorSize: uint64(emb.Dimension()), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qdrantHost, qdrantPort, err)
	}
	log.Info("qdrant store ready", slog.String("host", qdrantHost), slog.Int("port", qdrantPort), slog.String("collection", collection))

	return emb, vectors, nil
}

// buildRAGStack extends buildVectorBackend with the chat provider and the
// answer engine, for commands that generate answers.
func buildRAGStack(ctx context.Context, log *slog.Logger) (*ragStack, error) {
	emb, vectors, err := buildVectorBackend(ctx, log)
	if err != nil {
		return nil, err
	}

	chat, err := provider.NewFromEnv(ctx)
	if err != nil {
		_ = vectors.Close()
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised", slog.String("model", chat.Name()))

	engine, err := rag.NewEngine(emb, vectors, chat)
	if err != nil {
		_ = vectors.Close()
		return nil, err
	}

	return &ragStack{embedder: emb, vectors: vectors, chat: chat, engine: engine}, nil
}

// openDocumentStore opens the SQLite document store. AGRODOCS_DB overrides
// the default path (~/.agrodocs/documents.db).
func openDocumentStore(log *slog.Logger) (*store.SQLiteStore, error) {
	dbPath := os.Getenv("AGRODOCS_DB")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("could not resolve document DB path: %w", err)
		}
	}

	docs, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	log.Info("document store opened", slog.String("path", dbPath))
	return docs, nil
}

// getEnvOrDefault returns the environment variable's value, or def when unset.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the environment variable parsed as an int, or def when
// unset or unparseable.
func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
