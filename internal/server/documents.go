package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agrodocs/agrodocs-go/internal/document"
	"github.com/agrodocs/agrodocs-go/internal/logging"
	"github.com/agrodocs/agrodocs-go/internal/store"
)

// handleDocumentUpload handles POST /api/documents. The request is
// multipart/form-data with a required "file" part and optional fields:
//
//	documentType — CONTRACT | PURCHASE_ORDER | INVOICE | SALES_RECORD | OTHER
//	userId       — owner identifier
//	isTemporary  — "true" marks the document for expiry-based cleanup
//	ttlHours     — hours until a temporary document expires (default 24)
//
// The document is persisted as PENDING and indexing runs in the background;
// the response is 202 Accepted with the document in its initial state.
func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		http.Error(w, "invalid multipart request or file too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file part is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	docType := document.TypeOther
	if v := r.FormValue("documentType"); v != "" {
		if !document.ValidType(v) {
			http.Error(w, fmt.Sprintf("unknown documentType %q", v), http.StatusBadRequest)
			return
		}
		docType = document.Type(v)
	}

	isTemporary := r.FormValue("isTemporary") == "true"
	var expiresAt time.Time
	if isTemporary {
		ttl := 24 * time.Hour
		if v := r.FormValue("ttlHours"); v != "" {
			hours, err := strconv.Atoi(v)
			if err != nil || hours <= 0 {
				http.Error(w, "ttlHours must be a positive integer", http.StatusBadRequest)
				return
			}
			ttl = time.Duration(hours) * time.Hour
		}
		expiresAt = time.Now().UTC().Add(ttl)
	}

	storedName, storedPath, size, err := s.saveUpload(file, header)
	if err != nil {
		log.Error("upload: failed to store file", slog.Any("error", err))
		http.Error(w, "failed to store uploaded file", http.StatusInternalServerError)
		return
	}

	doc, _, err := s.uploads.Upload(r.Context(), document.Input{
		Filename:     storedName,
		OriginalName: header.Filename,
		Filepath:     storedPath,
		MIMEType:     detectMIMEType(header),
		Size:         size,
		Type:         docType,
		IsTemporary:  isTemporary,
		ExpiresAt:    expiresAt,
		UserID:       r.FormValue("userId"),
	})
	if err != nil {
		// The upload never entered the pipeline; remove the orphaned file.
		os.Remove(storedPath)
		log.Error("upload: workflow rejected document", slog.Any("error", err))
		http.Error(w, "failed to register document", http.StatusInternalServerError)
		return
	}

	s.metrics.uploadsTotal.WithLabelValues(string(docType)).Inc()
	log.Info("upload: document accepted",
		slog.String("document_id", doc.ID),
		slog.String("original_name", doc.OriginalName),
		slog.Int64("size", doc.Size),
	)

	writeJSON(w, http.StatusAccepted, toDocumentResponse(doc))
}

// saveUpload streams the uploaded part to a uniquely named file under the
// configured upload directory. Returns the stored filename, its absolute
// path, and the number of bytes written.
func (s *Server) saveUpload(file multipart.File, header *multipart.FileHeader) (string, string, int64, error) {
	dir := s.cfg.UploadDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "agrodocs-uploads")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	// Prefix with a UUID so concurrent uploads of the same filename never collide.
	storedName := uuid.NewString() + "-" + filepath.Base(header.Filename)
	storedPath := filepath.Join(dir, storedName)

	dst, err := os.Create(storedPath)
	if err != nil {
		return "", "", 0, fmt.Errorf("create %s: %w", storedPath, err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		os.Remove(storedPath)
		return "", "", 0, fmt.Errorf("write %s: %w", storedPath, err)
	}
	return storedName, storedPath, size, nil
}

// detectMIMEType resolves the content type of an uploaded file, preferring
// the declared part header and falling back to the filename extension.
func detectMIMEType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	default:
		return "application/octet-stream"
	}
}

// handleDocumentList handles GET /api/documents. Query parameters:
//
//	status       — PENDING | PROCESSING | COMPLETED | FAILED
//	documentType — document category filter
//	userId       — owner filter
//	limit        — page size (default 20, max 100)
//	offset       — page offset (default 0)
func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	q := r.URL.Query()

	filter := store.Filter{
		Status: document.Status(q.Get("status")),
		Type:   document.Type(q.Get("documentType")),
		UserID: q.Get("userId"),
	}
	if filter.Type != "" && !document.ValidType(string(filter.Type)) {
		http.Error(w, fmt.Sprintf("unknown documentType %q", filter.Type), http.StatusBadRequest)
		return
	}

	page := store.Page{Limit: 20}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if n > 100 {
			n = 100
		}
		page.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
		page.Offset = n
	}

	docs, err := s.docs.FindMany(r.Context(), filter, page)
	if err != nil {
		log.Error("list documents failed", slog.Any("error", err))
		http.Error(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	total, err := s.docs.Count(r.Context(), filter)
	if err != nil {
		log.Error("count documents failed", slog.Any("error", err))
		http.Error(w, "failed to list documents", http.StatusInternalServerError)
		return
	}

	resp := documentListResponse{
		Documents: make([]documentResponse, 0, len(docs)),
		Total:     total,
		Limit:     page.Limit,
		Offset:    page.Offset,
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, toDocumentResponse(d))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDocumentGet handles GET /api/documents/{id}.
func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	doc, err := s.docs.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		logging.FromContext(r.Context()).Error("get document failed",
			slog.String("document_id", id),
			slog.Any("error", err),
		)
		http.Error(w, "failed to load document", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// handleDocumentDelete handles DELETE /api/documents/{id}. Deletion removes
// the metadata row, the indexed vectors, and the stored file.
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := logging.FromContext(r.Context())

	if err := s.uploads.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		log.Error("delete document failed",
			slog.String("document_id", id),
			slog.Any("error", err),
		)
		http.Error(w, "failed to delete document", http.StatusInternalServerError)
		return
	}

	log.Info("document deleted", slog.String("document_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("response encode error", slog.Any("error", err))
	}
}
