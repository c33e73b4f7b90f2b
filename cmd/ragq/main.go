package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cloo-solutions/ragquery/internal/cli"
	"github.com/cloo-solutions/ragquery/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ragq",
		Short: "Ask questions about your documents",
		Long: `ragq uploads documents to a ragqd server and answers questions from them with cited sources.

Environment variables:
  RAGQ_API_KEY   API key for authentication
  RAGQ_API_URL   API base URL (default: http://localhost:8080)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(
		client.InitCmd(),
		client.AuthCmd(),
		client.AskCmd(),
		client.AddCmd(),
		client.IngestCmd(),
		client.ReprocessCmd(),
		client.ListCmd(),
		client.DeleteCmd(),
	)

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
