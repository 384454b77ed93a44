package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agrodocs/agrodocs-go/internal/document"
	"github.com/agrodocs/agrodocs-go/internal/logging"
	"github.com/agrodocs/agrodocs-go/internal/rag"
)

// NewAskCmd constructs the `agrodocs ask` command, which answers a single
// natural language question grounded on the indexed documents.
func NewAskCmd() *cobra.Command {
	var docTypes []string
	var topK int
	var minScore float32
	var stream bool
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about your documents",
		Long: `Ask a natural language question about the indexed documents.

The answer is generated from the most relevant document chunks; use
--sources to see which documents it was grounded on. Questions and
answers are in Spanish.

Examples:
  agrodocs ask "¿Cuánta soja vendí en marzo?"
  agrodocs ask --type INVOICE "¿Qué facturas vencen este mes?"
  agrodocs ask --type CONTRACT --type PURCHASE_ORDER "¿Qué acordamos con la cooperativa?"
  agrodocs ask --stream "Resumí el contrato con la cooperativa"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			for _, dt := range docTypes {
				if !document.ValidType(dt) {
					return fmt.Errorf("ask: unknown document type %q", dt)
				}
			}

			stack, err := buildRAGStack(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer stack.Close()

			opts := rag.QueryOptions{
				TopK:          topK,
				MinScore:      minScore,
				DocumentTypes: docTypes,
			}
			question := args[0]

			if stream {
				return streamAnswer(ctx, stack.engine, question, opts, showSources)
			}

			resp, err := stack.engine.Query(ctx, question, opts)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(resp.Answer)
			if showSources {
				printSources(resp.Sources)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&docTypes, "type", "t", nil, "Restrict retrieval to a document type (repeatable)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default 5)")
	cmd.Flags().Float32Var(&minScore, "min-score", 0, "Similarity threshold for retrieved chunks (default 0.7)")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream the answer to stdout as it is generated")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the source documents after the answer")

	return cmd
}

// streamAnswer prints answer fragments as they arrive, then the sources.
func streamAnswer(ctx context.Context, engine *rag.Engine, question string, opts rag.QueryOptions, showSources bool) error {
	var sources []rag.RetrievedChunk

	err := engine.QueryStream(ctx, question, opts, func(ev rag.StreamEvent) error {
		switch ev.Type {
		case rag.EventSources:
			sources = ev.Sources
		case rag.EventChunk:
			fmt.Print(ev.Content)
		case rag.EventDone:
			fmt.Println()
		case rag.EventError:
			// The failure also comes back as QueryStream's return value.
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if showSources {
		printSources(sources)
	}
	return nil
}

func printSources(sources []rag.RetrievedChunk) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(os.Stdout, "\nFuentes:")
	for _, src := range sources {
		fmt.Fprintf(os.Stdout, "  - %s (%s, score %.2f)\n", src.OriginalName, src.DocumentType, src.Score)
	}
}
