package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/agrodocs/agrodocs-go/internal/chunker"
	"github.com/agrodocs/agrodocs-go/internal/indexer"
	"github.com/agrodocs/agrodocs-go/internal/logging"
	"github.com/agrodocs/agrodocs-go/internal/parser"
	"github.com/agrodocs/agrodocs-go/internal/server"
	"github.com/agrodocs/agrodocs-go/internal/tasks"
	"github.com/agrodocs/agrodocs-go/internal/tracing"
	"github.com/agrodocs/agrodocs-go/internal/workflow"
)

// drainTimeout bounds how long shutdown waits for in-flight document
// processing tasks after the HTTP server has stopped.
const drainTimeout = 30 * time.Second

// NewServeCmd constructs the `agrodocs serve` command, which starts the HTTP
// document and chat API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AgroDocs HTTP API",
		Long: `Start the AgroDocs HTTP server on localhost.

The server exposes a REST API for document upload, listing and deletion,
plus a chat endpoint (with SSE streaming) that answers questions grounded
on the indexed documents.

Examples:
  agrodocs serve
  agrodocs serve --port 9090
  MODEL_PROVIDER=openai agrodocs serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			stack, err := buildRAGStack(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer stack.Close()

			docs, err := openDocumentStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = docs.Close() }()

			ix, err := indexer.New(parser.NewFactory(), chunker.DefaultOptions(), stack.embedder, stack.vectors)
			if err != nil {
				return fmt.Errorf("serve: failed to create indexer: %w", err)
			}

			runner := tasks.NewRunner()

			svc, err := workflow.NewService(docs, ix, runner)
			if err != nil {
				return fmt.Errorf("serve: failed to create document workflow: %w", err)
			}

			srv, err := server.New(docs, svc, stack.engine, &server.Config{
				Host:      host,
				Port:      port,
				UploadDir: os.Getenv("AGRODOCS_UPLOAD_DIR"),
				Logger:    log,
				Pingers: []server.Pinger{
					server.NewVectorStorePinger(stack.vectors),
					stack.embedder,
					stack.chat,
				},
				APIKey: os.Getenv("AGRODOCS_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			serveErr := srv.Start(ctx)

			// Let background document processing finish before exiting, so an
			// interrupt during an upload doesn't strand documents in PROCESSING.
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			if err := runner.Drain(drainCtx); err != nil {
				log.Warn("serve: background tasks did not drain cleanly", slog.Any("error", err))
			}

			return serveErr
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
