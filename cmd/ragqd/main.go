package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cloo-solutions/ragquery/internal/cli"
	"github.com/cloo-solutions/ragquery/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ragqd",
		Short:         "RAG query server and administration",
		Long:          "ragqd runs the question-answering API and manages users, API keys, ingestion and migrations.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(
		admin.ServeCmd(),
		admin.UserCmd(),
		admin.APIKeyCmd(),
		admin.ReprocessCmd(),
		admin.HealthCmd(),
		admin.MigrateCmd(),
	)

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
