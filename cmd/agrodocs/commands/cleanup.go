package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrodocs/agrodocs-go/internal/chunker"
	"github.com/agrodocs/agrodocs-go/internal/indexer"
	"github.com/agrodocs/agrodocs-go/internal/logging"
	"github.com/agrodocs/agrodocs-go/internal/parser"
	"github.com/agrodocs/agrodocs-go/internal/tasks"
	"github.com/agrodocs/agrodocs-go/internal/workflow"
)

// NewCleanupCmd constructs the `agrodocs cleanup` command, which removes
// expired temporary documents and their vectors.
func NewCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired temporary documents",
		Long: `Delete every temporary document whose TTL has elapsed, removing its
vectors from Qdrant, its stored file, and its database record.

Intended to be run periodically (e.g. from cron).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			emb, vectors, err := buildVectorBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			defer func() { _ = vectors.Close() }()

			docs, err := openDocumentStore(log)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			defer func() { _ = docs.Close() }()

			ix, err := indexer.New(parser.NewFactory(), chunker.DefaultOptions(), emb, vectors)
			if err != nil {
				return fmt.Errorf("cleanup: failed to create indexer: %w", err)
			}

			svc, err := workflow.NewService(docs, ix, tasks.NewRunner())
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}

			removed, err := svc.CleanupExpired(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}

			log.Info("cleanup complete", slog.Int("removed", removed))
			fmt.Printf("removed %d expired document(s)\n", removed)
			return nil
		},
	}
}
