package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agrodocs/agrodocs-go/internal/document"
	"github.com/agrodocs/agrodocs-go/internal/rag"
	"github.com/agrodocs/agrodocs-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat request end to end.
	ChatTimeout time.Duration
	// UploadDir is the directory where uploaded files are written.
	UploadDir string
	// MaxUploadBytes caps the size of a single uploaded file. Defaults to 50 MiB.
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's Prometheus metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs the GET /metrics endpoint. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// uploader is the interface the document handlers call to run the upload
// workflow. *workflow.Service satisfies it; tests inject a fake.
type uploader interface {
	// Upload persists a PENDING document and schedules background indexing.
	Upload(ctx context.Context, in document.Input) (*document.Document, <-chan error, error)
	// Delete removes a document, its vectors, and its stored file.
	Delete(ctx context.Context, id string) error
}

// answerer is the interface the chat handlers call to answer questions.
// *rag.Engine satisfies it; tests inject a fake.
type answerer interface {
	Query(ctx context.Context, query string, opts rag.QueryOptions) (*rag.Response, error)
	QueryStream(ctx context.Context, query string, opts rag.QueryOptions, emit func(rag.StreamEvent) error) error
}

// Server is the HTTP server exposing the document and chat API.
type Server struct {
	// docs is the document metadata store backing the list/get endpoints.
	docs store.DocumentStore
	// uploads runs the upload and delete workflows.
	uploads uploader
	// engine answers questions over the indexed corpus.
	engine answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus instruments.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat and POST /api/chat/stream.
type chatRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// DocumentTypes optionally restricts retrieval to a set of document
	// categories.
	DocumentTypes []string `json:"documentTypes,omitempty"`
	// TopK overrides the number of chunks retrieved (default 5).
	TopK int `json:"topK,omitempty"`
	// MinScore overrides the similarity floor (default 0.7).
	MinScore float32 `json:"minScore,omitempty"`
	// Temperature overrides the generation temperature.
	Temperature float32 `json:"temperature,omitempty"`
	// MaxTokens overrides the generation token cap.
	MaxTokens int `json:"maxTokens,omitempty"`
}

// documentResponse is the JSON shape of a document in API responses.
type documentResponse struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	OriginalName string         `json:"originalName"`
	MIMEType     string         `json:"mimeType"`
	Size         int64          `json:"size"`
	DocumentType string         `json:"documentType"`
	Status       string         `json:"status"`
	PageCount    int            `json:"pageCount,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IsTemporary  bool           `json:"isTemporary"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	ProcessedAt  *time.Time     `json:"processedAt,omitempty"`
}

// documentListResponse is the JSON response for GET /api/documents.
type documentListResponse struct {
	// Documents is the current page of results.
	Documents []documentResponse `json:"documents"`
	// Total is the number of documents matching the filter across all pages.
	Total int `json:"total"`
	// Limit and Offset echo the applied pagination.
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// toDocumentResponse maps the domain entity to its API shape.
func toDocumentResponse(d *document.Document) documentResponse {
	resp := documentResponse{
		ID:           d.ID,
		Filename:     d.Filename,
		OriginalName: d.OriginalName,
		MIMEType:     d.MIMEType,
		Size:         d.Size,
		DocumentType: string(d.Type),
		Status:       string(d.Status),
		PageCount:    d.PageCount,
		Metadata:     d.Metadata,
		IsTemporary:  d.IsTemporary,
		UserID:       d.UserID,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if !d.ExpiresAt.IsZero() {
		t := d.ExpiresAt
		resp.ExpiresAt = &t
	}
	if !d.ProcessedAt.IsZero() {
		t := d.ProcessedAt
		resp.ProcessedAt = &t
	}
	return resp
}
