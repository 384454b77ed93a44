// Package workflow implements the document lifecycle use cases: upload with
// background processing, deletion, and expired-document cleanup. It is the
// only layer that moves documents through their status transitions and
// persists each step.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/agrodocs/agrodocs-go/internal/document"
	"github.com/agrodocs/agrodocs-go/internal/indexer"
	"github.com/agrodocs/agrodocs-go/internal/logging"
	"github.com/agrodocs/agrodocs-go/internal/store"
	"github.com/agrodocs/agrodocs-go/internal/tasks"
)

// Indexer is the slice of the indexing orchestrator the workflow needs.
type Indexer interface {
	IndexDocument(ctx context.Context, doc *document.Document) indexer.Result
	RemoveDocument(ctx context.Context, documentID string) error
}

// Service runs the document lifecycle use cases.
type Service struct {
	docs    store.DocumentStore
	indexer Indexer
	runner  *tasks.Runner
}

// NewService constructs a Service from its collaborators.
func NewService(docs store.DocumentStore, ix Indexer, runner *tasks.Runner) (*Service, error) {
	if docs == nil {
		return nil, fmt.Errorf("workflow: document store must not be nil")
	}
	if ix == nil {
		return nil, fmt.Errorf("workflow: indexer must not be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("workflow: task runner must not be nil")
	}
	return &Service{docs: docs, indexer: ix, runner: runner}, nil
}

// Upload registers a new document and dispatches its processing in the
// background. The returned document is in PENDING status; the channel
// receives the background task's result once processing finishes. Processing
// failures mark the document FAILED but never surface to the caller as an
// upload error.
func (s *Service) Upload(ctx context.Context, in document.Input) (*document.Document, <-chan error, error) {
	doc := document.New(in)
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, nil, fmt.Errorf("workflow: create document: %w", err)
	}

	done := s.runner.Go(ctx, "process-document", func(taskCtx context.Context) error {
		return s.process(taskCtx, doc)
	})

	return doc, done, nil
}

// process runs the PROCESSING → COMPLETED/FAILED transition for one document,
// persisting each step.
func (s *Service) process(ctx context.Context, doc *document.Document) error {
	log := logging.FromContext(ctx)

	doc.MarkProcessing()
	if err := s.docs.Update(ctx, doc); err != nil {
		return fmt.Errorf("workflow: persist processing status: %w", err)
	}

	res := s.indexer.IndexDocument(ctx, doc)
	if !res.Success {
		doc.MarkFailed()
		if err := s.docs.Update(ctx, doc); err != nil {
			return fmt.Errorf("workflow: persist failed status: %w", err)
		}
		return fmt.Errorf("workflow: document %s failed: %s", doc.ID, res.Error)
	}

	doc.MarkCompleted(res.Extracted.Text, res.Extracted.PageCount)
	doc.MergeMetadata(res.Extracted.Metadata)
	if err := s.docs.Update(ctx, doc); err != nil {
		return fmt.Errorf("workflow: persist completed status: %w", err)
	}

	log.Info("workflow: document processed",
		slog.String("document_id", doc.ID),
		slog.Int("chunks", res.ChunksIndexed),
		slog.Duration("elapsed", res.ProcessingTime))
	return nil
}

// Delete removes a document entirely: its vectors, its metadata row, and the
// uploaded file. A missing file is ignored; a missing row is an error.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("workflow: delete: %w", err)
	}

	if err := s.indexer.RemoveDocument(ctx, id); err != nil {
		return fmt.Errorf("workflow: delete vectors: %w", err)
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return fmt.Errorf("workflow: delete row: %w", err)
	}
	if doc.Filepath != "" {
		if err := os.Remove(doc.Filepath); err != nil && !os.IsNotExist(err) {
			logging.FromContext(ctx).Warn("workflow: could not remove file",
				slog.String("document_id", id),
				slog.String("path", doc.Filepath),
				slog.Any("error", err))
		}
	}
	return nil
}

// CleanupExpired deletes every temporary document whose expiry has passed at
// now, returning the number of documents removed. Per-document failures are
// logged and skipped so one bad row never blocks the sweep.
func (s *Service) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.docs.FindExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("workflow: cleanup: %w", err)
	}

	log := logging.FromContext(ctx)
	removed := 0
	for _, doc := range expired {
		if err := s.Delete(ctx, doc.ID); err != nil {
			log.Warn("workflow: cleanup skipping document",
				slog.String("document_id", doc.ID),
				slog.Any("error", err))
			continue
		}
		removed++
	}
	return removed, nil
}
