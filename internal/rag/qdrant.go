package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// chunkIDNamespace is the UUIDv5 namespace for mapping logical chunk IDs
// ("{documentId}-chunk-{index}") onto Qdrant point IDs, which must be UUIDs.
// The logical ID is kept in the payload so callers never see the mapping.
var chunkIDNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// pointID derives the deterministic Qdrant point UUID for a logical chunk ID.
func pointID(id string) string {
	return uuid.NewSHA1(chunkIDNamespace, []byte(id)).String()
}

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// toPoint converts a VectorRecord into a Qdrant point with the full
// provenance payload.
func toPoint(rec VectorRecord) *qdrant.PointStruct {
	payload := map[string]interface{}{
		"chunkId":      rec.ID,
		"content":      rec.Content,
		"documentId":   rec.Metadata.DocumentID,
		"documentType": rec.Metadata.DocumentType,
		"originalName": rec.Metadata.OriginalName,
		"chunkIndex":   rec.Metadata.ChunkIndex,
		"startChar":    rec.Metadata.StartChar,
		"endChar":      rec.Metadata.EndChar,
	}
	if rec.Metadata.PageNumber > 0 {
		payload["pageNumber"] = rec.Metadata.PageNumber
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointID(rec.ID)),
		Vectors: qdrant.NewVectors(rec.Embedding...),
		Payload: qdrant.NewValueMap(payload),
	}
}

// Insert stores or updates a single record.
func (s *QdrantStore) Insert(ctx context.Context, rec VectorRecord) error {
	return s.InsertBatch(ctx, []VectorRecord{rec})
}

// InsertBatch stores or updates a batch of records in one upsert call.
func (s *QdrantStore) InsertBatch(ctx context.Context, recs []VectorRecord) error {
	if len(recs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(recs))
	for _, rec := range recs {
		points = append(points, toPoint(rec))
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search honoring the options' limit,
// score threshold, and optional document-type filter.
func (s *QdrantStore) Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]SearchHit, error) {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	limit := uint64(opts.TopK)

	query := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if opts.MinScore > 0 {
		query.ScoreThreshold = &opts.MinScore
	}
	if len(opts.DocumentTypes) > 0 {
		conds := make([]*qdrant.Condition, 0, len(opts.DocumentTypes))
		for _, dt := range opts.DocumentTypes {
			conds = append(conds, qdrant.NewMatchKeyword("documentType", dt))
		}
		// Should = match any of the requested classifications.
		query.Filter = &qdrant.Filter{Should: conds}
	}

	results, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hit := SearchHit{Score: r.Score}
		if p := r.Payload; p != nil {
			if v, ok := p["chunkId"]; ok {
				hit.ID = v.GetStringValue()
			}
			if v, ok := p["content"]; ok {
				hit.Content = v.GetStringValue()
			}
			if v, ok := p["documentId"]; ok {
				hit.Metadata.DocumentID = v.GetStringValue()
			}
			if v, ok := p["documentType"]; ok {
				hit.Metadata.DocumentType = v.GetStringValue()
			}
			if v, ok := p["originalName"]; ok {
				hit.Metadata.OriginalName = v.GetStringValue()
			}
			if v, ok := p["chunkIndex"]; ok {
				hit.Metadata.ChunkIndex = int(v.GetIntegerValue())
			}
			if v, ok := p["pageNumber"]; ok {
				hit.Metadata.PageNumber = int(v.GetIntegerValue())
			}
			if v, ok := p["startChar"]; ok {
				hit.Metadata.StartChar = int(v.GetIntegerValue())
			}
			if v, ok := p["endChar"]; ok {
				hit.Metadata.EndChar = int(v.GetIntegerValue())
			}
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// DeleteByDocumentID removes every chunk belonging to the given document.
// A document with no stored chunks deletes zero points, which is not an error.
func (s *QdrantStore) DeleteByDocumentID(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeyword("documentId", documentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete by document %s failed: %w", documentID, err)
	}

	return nil
}

// DeleteByID removes a single chunk by its logical record ID.
func (s *QdrantStore) DeleteByID(ctx context.Context, id string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID(id))),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete %s failed: %w", id, err)
	}

	return nil
}

// Count returns the exact number of stored vectors.
func (s *QdrantStore) Count(ctx context.Context) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}

	return count, nil
}

// Ping verifies the Qdrant instance is reachable.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
