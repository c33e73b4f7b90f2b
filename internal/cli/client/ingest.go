package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

type IngestResult struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

type ReprocessOutcome struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
}

type ReprocessResult struct {
	Total     int                `json:"total"`
	Skipped   int                `json:"skipped"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Outcomes  []ReprocessOutcome `json:"outcomes"`
}

// IngestCmd runs ingestion for one document synchronously instead of
// waiting for the background worker.
func IngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <id>",
		Short: "Chunk and embed a document now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			var result IngestResult
			if err := api.Post(cmd.Context(), "/documents/"+args[0]+"/ingest", nil, &result); err != nil {
				return fmt.Errorf("failed to ingest: %w", err)
			}

			if outputJSON {
				return printJSON(result)
			}
			fmt.Printf("Ingested %s: %d chunk(s)\n", result.DocumentID, result.Chunks)
			return nil
		},
	}
}

func ReprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess",
		Short: "Re-ingest documents that have no embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			var result ReprocessResult
			if err := api.Post(cmd.Context(), "/documents/reprocess", nil, &result); err != nil {
				return fmt.Errorf("failed to reprocess: %w", err)
			}

			if outputJSON {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				fmt.Printf("Documents: %d total, %d skipped, %d succeeded, %d failed\n",
					result.Total, result.Skipped, result.Succeeded, result.Failed)
				for _, o := range result.Outcomes {
					if o.Error != "" {
						fmt.Printf("  %s: FAILED after %d attempt(s): %s\n", o.DocumentID, o.Attempts, o.Error)
					}
				}
			}

			if result.Failed > 0 {
				return fmt.Errorf("%d document(s) failed", result.Failed)
			}
			return nil
		},
	}
}
