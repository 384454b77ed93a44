// Command agrodocs is the entry point for the agricultural document
// assistant. It provides a CLI interface (via Cobra) and an HTTP server
// exposing the document and chat API.
package main

import (
	"fmt"
	"os"

	"github.com/agrodocs/agrodocs-go/cmd/agrodocs/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
