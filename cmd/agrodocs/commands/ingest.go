package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agrodocs/agrodocs-go/internal/chunker"
	"github.com/agrodocs/agrodocs-go/internal/document"
	"github.com/agrodocs/agrodocs-go/internal/indexer"
	"github.com/agrodocs/agrodocs-go/internal/logging"
	"github.com/agrodocs/agrodocs-go/internal/parser"
	"github.com/agrodocs/agrodocs-go/internal/tasks"
	"github.com/agrodocs/agrodocs-go/internal/workflow"
)

// NewIngestCmd constructs the `agrodocs ingest` command, which registers and
// indexes local files without going through the HTTP API.
func NewIngestCmd() *cobra.Command {
	var docType string
	var userID string

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Index local documents into the knowledge base",
		Long: `Register local files as documents and index them into the Qdrant
vector store. Each file is parsed, chunked, embedded and stored, then
becomes available to 'agrodocs ask' and the chat API.

Supported formats: PDF, CSV, and Excel (.xlsx/.xls).

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: rag_agro_docs)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  agrodocs ingest facturas-2026.csv
  agrodocs ingest --type CONTRACT contrato-soja.pdf
  agrodocs ingest --type SALES_RECORD --user u-42 ventas/*.xlsx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if !document.ValidType(docType) {
				return fmt.Errorf("ingest: unknown document type %q", docType)
			}

			emb, vectors, err := buildVectorBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = vectors.Close() }()

			docs, err := openDocumentStore(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = docs.Close() }()

			ix, err := indexer.New(parser.NewFactory(), chunker.DefaultOptions(), emb, vectors)
			if err != nil {
				return fmt.Errorf("ingest: failed to create indexer: %w", err)
			}

			svc, err := workflow.NewService(docs, ix, tasks.NewRunner())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			failed := 0
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					log.Error("ingest: cannot read file", slog.String("path", path), slog.Any("error", err))
					failed++
					continue
				}

				doc, done, err := svc.Upload(ctx, document.Input{
					Filename:     filepath.Base(path),
					OriginalName: filepath.Base(path),
					Filepath:     path,
					MIMEType:     mimeTypeForExtension(path),
					Size:         info.Size(),
					Type:         document.Type(docType),
					UserID:       userID,
				})
				if err != nil {
					log.Error("ingest: upload failed", slog.String("path", path), slog.Any("error", err))
					failed++
					continue
				}

				// Processing runs in the background; wait for it so the CLI
				// reports the real outcome per file.
				if err := <-done; err != nil {
					log.Error("ingest: indexing failed", slog.String("path", path), slog.String("id", doc.ID), slog.Any("error", err))
					failed++
					continue
				}

				log.Info("ingest: document indexed", slog.String("path", path), slog.String("id", doc.ID), slog.String("type", docType))
			}

			if failed > 0 {
				return fmt.Errorf("ingest: %d of %d files failed", failed, len(args))
			}
			log.Info("ingestion complete", slog.Int("files", len(args)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&docType, "type", "t", string(document.TypeOther), "Document type (CONTRACT, PURCHASE_ORDER, INVOICE, SALES_RECORD, OTHER)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner user ID to attach to the documents")

	return cmd
}

// mimeTypeForExtension maps a file extension to the MIME types the parsers
// register for. Unknown extensions fall through to a generic type the parser
// factory will reject with a clear error.
func mimeTypeForExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
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
