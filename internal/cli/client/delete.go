package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

func DeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete documents with their chunks and embeddings",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			type result struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Error  string `json:"error,omitempty"`
			}
			var results []result
			failed := 0

			for _, id := range args {
				if err := api.Delete(cmd.Context(), "/documents/"+id); err != nil {
					failed++
					results = append(results, result{ID: id, Status: "failed", Error: err.Error()})
					if !outputJSON {
						fmt.Printf("FAILED %s: %v\n", id, err)
					}
					continue
				}
				results = append(results, result{ID: id, Status: "deleted"})
				if !outputJSON {
					fmt.Printf("Deleted %s\n", id)
				}
			}

			if outputJSON {
				if err := printJSON(results); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d deletion(s) failed", failed, len(args))
			}
			return nil
		},
	}

	return cmd
}
