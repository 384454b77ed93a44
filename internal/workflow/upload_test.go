package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agrodocs/agrodocs-go/internal/document"
	"github.com/agrodocs/agrodocs-go/internal/indexer"
	"github.com/agrodocs/agrodocs-go/internal/parser"
	"github.com/agrodocs/agrodocs-go/internal/store"
	"github.com/agrodocs/agrodocs-go/internal/tasks"
)

// fakeIndexer returns a canned result and records which documents it saw.
type fakeIndexer struct {
	result    indexer.Result
	removed   []string
	removeErr error
}

func (f *fakeIndexer) IndexDocument(ctx context.Context, doc *document.Document) indexer.Result {
	res := f.result
	res.DocumentID = doc.ID
	return res
}

func (f *fakeIndexer) RemoveDocument(ctx context.Context, documentID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, documentID)
	return nil
}

func successResult() indexer.Result {
	return indexer.Result{
		Success:       true,
		ChunksIndexed: 3,
		Extracted: &parser.Parsed{
			Text:      "texto extraído del documento",
			PageCount: 2,
			Metadata:  map[string]any{"pagesWithText": 2},
		},
	}
}

func newTestService(t *testing.T, ix Indexer) (*Service, *store.SQLiteStore) {
	t.Helper()
	docs, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = docs.Close() })

	svc, err := NewService(docs, ix, tasks.NewRunner())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, docs
}

func uploadInput(path string) document.Input {
	return document.Input{
		Filename:     "abc.pdf",
		OriginalName: "contrato.pdf",
		Filepath:     path,
		MIMEType:     "application/pdf",
		Size:         1024,
		Type:         document.TypeContract,
	}
}

func Test_Workflow_UploadReturnsPendingImmediately(t *testing.T) {
	t.Parallel()
	svc, docs := newTestService(t, &fakeIndexer{result: successResult()})
	ctx := context.Background()

	doc, done, err := svc.Upload(ctx, uploadInput("/tmp/none.pdf"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.Status != document.StatusPending {
		t.Errorf("status at return = %s, want PENDING", doc.Status)
	}

	if err := <-done; err != nil {
		t.Fatalf("background task: %v", err)
	}

	got, err := docs.FindByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != document.StatusCompleted {
		t.Errorf("final status = %s, want COMPLETED", got.Status)
	}
	if got.TextContent != "texto extraído del documento" || got.PageCount != 2 {
		t.Errorf("extraction not persisted: %q / %d", got.TextContent, got.PageCount)
	}
	if got.Metadata["pagesWithText"] != float64(2) && got.Metadata["pagesWithText"] != 2 {
		t.Errorf("parser metadata not merged: %v", got.Metadata)
	}
}

func Test_Workflow_UploadIndexingFailureMarksFailed(t *testing.T) {
	t.Parallel()
	svc, docs := newTestService(t, &fakeIndexer{result: indexer.Result{Error: "No chunks generated from document"}})
	ctx := context.Background()

	doc, done, err := svc.Upload(ctx, uploadInput("/tmp/none.pdf"))
	if err != nil {
		t.Fatalf("Upload should not fail when indexing will fail: %v", err)
	}

	if err := <-done; err == nil {
		t.Error("background task should report the failure")
	}

	got, err := docs.FindByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != document.StatusFailed {
		t.Errorf("final status = %s, want FAILED", got.Status)
	}
}

func Test_Workflow_DeleteRemovesEverything(t *testing.T) {
	t.Parallel()

	ix := &fakeIndexer{result: successResult()}
	svc, docs := newTestService(t, ix)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "upload.pdf")
	if err := os.WriteFile(path, []byte("pdf bytes"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	doc, done, err := svc.Upload(ctx, uploadInput(path))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	<-done

	if err := svc.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if len(ix.removed) != 1 || ix.removed[0] != doc.ID {
		t.Errorf("vectors not removed: %v", ix.removed)
	}
	if _, err := docs.FindByID(ctx, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("row still present after delete")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("uploaded file still present after delete")
	}
}

func Test_Workflow_DeleteMissingDocument(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, &fakeIndexer{})

	if err := svc.Delete(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func Test_Workflow_CleanupExpired(t *testing.T) {
	t.Parallel()

	ix := &fakeIndexer{result: successResult()}
	svc, docs := newTestService(t, ix)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := document.New(document.Input{
		Filename: "old.pdf", OriginalName: "old.pdf", Filepath: "/tmp/old.pdf",
		MIMEType: "application/pdf", Type: document.TypeOther,
		IsTemporary: true, ExpiresAt: now.Add(-time.Hour),
	})
	fresh := document.New(document.Input{
		Filename: "new.pdf", OriginalName: "new.pdf", Filepath: "/tmp/new.pdf",
		MIMEType: "application/pdf", Type: document.TypeOther,
		IsTemporary: true, ExpiresAt: now.Add(time.Hour),
	})
	for _, d := range []*document.Document{expired, fresh} {
		if err := docs.Create(ctx, d); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	removed, err := svc.CleanupExpired(ctx, now)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := docs.FindByID(ctx, expired.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("expired document still present")
	}
	if _, err := docs.FindByID(ctx, fresh.ID); err != nil {
		t.Error("fresh temporary document should survive cleanup")
	}
}
