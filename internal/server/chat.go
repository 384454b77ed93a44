package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agrodocs/agrodocs-go/internal/document"
	"github.com/agrodocs/agrodocs-go/internal/logging"
	"github.com/agrodocs/agrodocs-go/internal/rag"
)

// handleChat handles POST /api/chat. It runs a blocking RAG query and returns
// the answer, its sources, and generation metadata as JSON.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	start := time.Now()
	resp, err := s.engine.Query(ctx, req.Question, req.queryOptions())
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if ctx.Err() == context.DeadlineExceeded {
			outcome = "timeout"
		}
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())

	if err != nil {
		log.Error("chat query failed", slog.Any("error", err))
		status := http.StatusInternalServerError
		if outcome == "timeout" {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, "failed to answer question", status)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleChatStream handles POST /api/chat/stream. The answer is delivered as
// Server-Sent Events: a "sources" event with the retrieved chunks, "chunk"
// events carrying answer fragments, and a terminal "done" event with the
// generation metadata. Failures surface in-band as an "error" event.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	start := time.Now()
	err := s.engine.QueryStream(ctx, req.Question, req.queryOptions(), func(ev rag.StreamEvent) error {
		return writeSSEEvent(w, flusher, ev)
	})
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if ctx.Err() == context.DeadlineExceeded {
			outcome = "timeout"
		}
		log.Error("chat stream failed", slog.Any("error", err))
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// decodeChatRequest parses and validates the chat request body. On failure it
// writes the error response and returns ok=false.
func decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return req, false
	}
	for _, dt := range req.DocumentTypes {
		if !document.ValidType(dt) {
			http.Error(w, fmt.Sprintf("unknown documentType %q", dt), http.StatusBadRequest)
			return req, false
		}
	}
	return req, true
}

// queryOptions maps the request body onto engine options. Zero values keep
// the engine defaults.
func (req chatRequest) queryOptions() rag.QueryOptions {
	return rag.QueryOptions{
		TopK:          req.TopK,
		MinScore:      req.MinScore,
		DocumentTypes: req.DocumentTypes,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
	}
}

// writeSSEEvent emits one engine stream event as a named SSE frame with a
// JSON payload, flushing after each frame so fragments reach the client
// immediately.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev rag.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode stream event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	flusher.Flush()
	return nil
}
