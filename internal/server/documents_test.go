package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agrodocs/agrodocs-go/internal/document"
	"github.com/agrodocs/agrodocs-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes and helpers
// ---------------------------------------------------------------------------

// fakeUploader implements the uploader interface for tests.
type fakeUploader struct {
	// lastInput captures the input of the most recent Upload call.
	lastInput document.Input
	// uploadErr is returned by Upload when set.
	uploadErr error
	// deleted collects document IDs passed to Delete.
	deleted []string
	// deleteErr is returned by Delete when set.
	deleteErr error
}

func (f *fakeUploader) Upload(_ context.Context, in document.Input) (*document.Document, <-chan error, error) {
	f.lastInput = in
	if f.uploadErr != nil {
		return nil, nil, f.uploadErr
	}
	done := make(chan error, 1)
	done <- nil
	close(done)
	return document.New(in), done, nil
}

func (f *fakeUploader) Delete(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

// openTestDocs opens an in-memory document store for handler tests.
func openTestDocs(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestServer builds a minimally wired *Server for handler unit tests.
func newTestServer() *Server {
	return &Server{
		uploads: &fakeUploader{},
		cfg:     &Config{MaxUploadBytes: defaultMaxUploadBytes, ChatTimeout: time.Minute},
		log:     slog.Default(),
		metrics: newServerMetrics(prometheus.NewRegistry()),
	}
}

// newDocsTestServer wires a Server with a live in-memory store and the given
// uploader fake.
func newDocsTestServer(t *testing.T, up uploader) *Server {
	t.Helper()
	s := newTestServer()
	s.docs = openTestDocs(t)
	if up != nil {
		s.uploads = up
	}
	s.cfg.UploadDir = t.TempDir()
	return s
}

// multipartUpload builds a multipart request body with one file part and the
// given extra form fields.
func multipartUpload(t *testing.T, filename, contentType, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	if contentType != "" {
		hdr["Content-Type"] = []string{contentType}
	}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// seedDocument inserts a document directly into the store.
func seedDocument(t *testing.T, docs store.DocumentStore, mutate func(*document.Input)) *document.Document {
	t.Helper()
	in := document.Input{
		Filename:     "stored-contrato.pdf",
		OriginalName: "contrato-soja-2024.pdf",
		Filepath:     "/tmp/stored-contrato.pdf",
		MIMEType:     "application/pdf",
		Size:         2048,
		Type:         document.TypeContract,
	}
	if mutate != nil {
		mutate(&in)
	}
	doc := document.New(in)
	if err := docs.Create(context.Background(), doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return doc
}

// ---------------------------------------------------------------------------
// POST /api/documents — upload
// ---------------------------------------------------------------------------

func TestHandleDocumentUpload_Accepted(t *testing.T) {
	t.Parallel()

	up := &fakeUploader{}
	s := newDocsTestServer(t, up)

	body, ct := multipartUpload(t, "ventas-marzo.csv", "text/csv",
		"producto,cantidad\nsoja,120\n",
		map[string]string{"documentType": "SALES_RECORD", "userId": "u-42"})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()

	s.handleDocumentUpload(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d — body: %s", w.Code, w.Body.String())
	}

	if up.lastInput.OriginalName != "ventas-marzo.csv" {
		t.Errorf("original name: got %q", up.lastInput.OriginalName)
	}
	if up.lastInput.MIMEType != "text/csv" {
		t.Errorf("mime type: got %q", up.lastInput.MIMEType)
	}
	if up.lastInput.Type != document.TypeSalesRecord {
		t.Errorf("document type: got %q", up.lastInput.Type)
	}
	if up.lastInput.UserID != "u-42" {
		t.Errorf("user id: got %q", up.lastInput.UserID)
	}
	if up.lastInput.Size == 0 {
		t.Error("expected non-zero stored size")
	}

	var resp documentResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != string(document.StatusPending) {
		t.Errorf("status: expected PENDING, got %q", resp.Status)
	}
	if resp.ID == "" {
		t.Error("expected a document ID in the response")
	}
}

func TestHandleDocumentUpload_TemporaryWithTTL(t *testing.T) {
	t.Parallel()

	up := &fakeUploader{}
	s := newDocsTestServer(t, up)

	body, ct := multipartUpload(t, "precio-dia.csv", "text/csv", "precio\n310\n",
		map[string]string{"isTemporary": "true", "ttlHours": "48"})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()

	s.handleDocumentUpload(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d — body: %s", w.Code, w.Body.String())
	}
	if !up.lastInput.IsTemporary {
		t.Error("expected IsTemporary to be set")
	}
	wantExpiry := time.Now().UTC().Add(48 * time.Hour)
	if diff := up.lastInput.ExpiresAt.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiry: got %v, want about %v", up.lastInput.ExpiresAt, wantExpiry)
	}
}

func TestHandleDocumentUpload_MissingFile(t *testing.T) {
	t.Parallel()

	s := newDocsTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("documentType", "INVOICE"); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()

	s.handleDocumentUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleDocumentUpload_UnknownType(t *testing.T) {
	t.Parallel()

	s := newDocsTestServer(t, nil)

	body, ct := multipartUpload(t, "x.pdf", "application/pdf", "%PDF-1.4",
		map[string]string{"documentType": "RECEIPT"})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()

	s.handleDocumentUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestDetectMIMEType_ExtensionFallback(t *testing.T) {
	t.Parallel()

	cases := []struct {
		filename string
		declared string
		want     string
	}{
		{"contrato.pdf", "", "application/pdf"},
		{"ventas.csv", "application/octet-stream", "text/csv"},
		{"registro.XLSX", "", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{"factura.csv", "text/csv", "text/csv"},
		{"misterio.bin", "", "application/octet-stream"},
	}
	for _, tc := range cases {
		hdr := &multipart.FileHeader{Filename: tc.filename, Header: map[string][]string{}}
		if tc.declared != "" {
			hdr.Header.Set("Content-Type", tc.declared)
		}
		if got := detectMIMEType(hdr); got != tc.want {
			t.Errorf("%s (declared %q): got %q, want %q", tc.filename, tc.declared, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// GET /api/documents — list and filters
// ---------------------------------------------------------------------------

func TestHandleDocumentList_FiltersAndPagination(t *testing.T) {
	t.Parallel()

	s := newDocsTestServer(t, nil)
	seedDocument(t, s.docs, nil)
	seedDocument(t, s.docs, func(in *document.Input) {
		in.OriginalName = "factura-enero.pdf"
		in.Type = document.TypeInvoice
	})
	seedDocument(t, s.docs, func(in *document.Input) {
		in.OriginalName = "factura-febrero.pdf"
		in.Type = document.TypeInvoice
	})

	req := httptest.NewRequest(http.MethodGet, "/api/documents?documentType=INVOICE&limit=1", nil)
	w := httptest.NewRecorder()

	s.handleDocumentList(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp documentListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total: expected 2, got %d", resp.Total)
	}
	if len(resp.Documents) != 1 {
		t.Fatalf("page size: expected 1, got %d", len(resp.Documents))
	}
	if resp.Documents[0].DocumentType != "INVOICE" {
		t.Errorf("document type: got %q", resp.Documents[0].DocumentType)
	}
	if resp.Limit != 1 || resp.Offset != 0 {
		t.Errorf("pagination echo: limit=%d offset=%d", resp.Limit, resp.Offset)
	}
}

func TestHandleDocumentList_StatusFilter(t *testing.T) {
	t.Parallel()

	s := newDocsTestServer(t, nil)
	seedDocument(t, s.docs, nil)
	seedDocument(t, s.docs, func(in *document.Input) {
		in.OriginalName = "contrato.pdf"
		in.Type = document.TypeContract
	})

	req := httptest.NewRequest(http.MethodGet, "/api/documents?status=PENDING", nil)
	w := httptest.NewRecorder()

	s.handleDocumentList(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp documentListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total: expected 2 pending documents, got %d", resp.Total)
	}
}

func TestHandleDocumentList_UnknownType(t *testing.T) {
	t.Parallel()

	s := newDocsTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/documents?documentType=RECETA", nil)
	w := httptest.NewRecorder()

	s.handleDocumentList(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleDocumentList_BadLimit(t *testing.T) {
	t.Parallel()

	s := newDocsTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/documents?limit=abc", nil)
	w := httptest.NewRecorder()

	s.handleDocumentList(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GET /api/documents/{id}
// ---------------------------------------------------------------------------

func TestHandleDocumentGet_Found(t *testing.T) {
	t.Parallel()

	s := newDocsTestServer(t, nil)
	doc := seedDocument(t, s.docs, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID, nil)
	req.SetPathValue("id", doc.ID)
	w := httptest.NewRecorder()

	s.handleDocumentGet(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp documentResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != doc.ID || resp.OriginalName != "contrato-soja-2024.pdf" {
		t.Errorf("unexpected document: %+v", resp)
	}
}

func TestHandleDocumentGet_NotFound(t *testing.T) {
	t.Parallel()

	s := newDocsTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/documents/missing", nil)
	req.SetPathValue("id", "missing")
	w := httptest.NewRecorder()

	s.handleDocumentGet(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// DELETE /api/documents/{id}
// ---------------------------------------------------------------------------

func TestHandleDocumentDelete_NoContent(t *testing.T) {
	t.Parallel()

	up := &fakeUploader{}
	s := newDocsTestServer(t, up)
	doc := seedDocument(t, s.docs, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+doc.ID, nil)
	req.SetPathValue("id", doc.ID)
	w := httptest.NewRecorder()

	s.handleDocumentDelete(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(up.deleted) != 1 || up.deleted[0] != doc.ID {
		t.Errorf("expected workflow delete for %s, got %v", doc.ID, up.deleted)
	}
}

func TestHandleDocumentDelete_NotFound(t *testing.T) {
	t.Parallel()

	up := &fakeUploader{deleteErr: store.ErrNotFound}
	s := newDocsTestServer(t, up)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/missing", nil)
	req.SetPathValue("id", "missing")
	w := httptest.NewRecorder()

	s.handleDocumentDelete(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
