package admin

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/ragquery/internal/database"
	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/service"
	"github.com/spf13/cobra"
)

// ReprocessCmd re-ingests a user's documents that are missing embeddings.
func ReprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Re-ingest documents that have no embeddings",
		Long:  "Re-ingest every document of a user that is missing embeddings. Fully embedded documents are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userRef, _ := cmd.Flags().GetString("user")
			outputFormat, _ := cmd.Flags().GetString("output")

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			userID, err := resolveUserID(ctx, a, userRef)
			if err != nil {
				return err
			}
			ingestion, err := a.ingestionService()
			if err != nil {
				return err
			}

			report, err := ingestion.Reprocess(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to reprocess: %w", err)
			}

			if outputFormat == "json" {
				if err := printJSON(reprocessJSON(report)); err != nil {
					return err
				}
			} else {
				printReprocessReport(report)
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d document(s) failed", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringP("user", "u", "", "User ID or name (required)")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func reprocessJSON(report *service.ReprocessReport) map[string]any {
	outcomes := make([]map[string]any, len(report.Outcomes))
	for i, o := range report.Outcomes {
		item := map[string]any{"document_id": o.DocumentID, "chunks": o.Chunks, "attempts": o.Attempts}
		if o.Err != nil {
			item["error"] = o.Err.Error()
		}
		outcomes[i] = item
	}
	return map[string]any{
		"total":     report.Total,
		"skipped":   report.Skipped,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"outcomes":  outcomes,
	}
}

func printReprocessReport(report *service.ReprocessReport) {
	fmt.Printf("Documents: %d total, %d skipped, %d succeeded, %d failed\n",
		report.Total, report.Skipped, report.Succeeded, report.Failed)
	for _, o := range report.Outcomes {
		if o.Err != nil {
			fmt.Printf("  %s: FAILED after %d attempt(s): %v\n", o.DocumentID, o.Attempts, o.Err)
			continue
		}
		fmt.Printf("  %s: %d chunk(s)\n", o.DocumentID, o.Chunks)
	}
}

// HealthCmd prints the aggregate health view. It fails unless the status is
// ok.
func HealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report service health from recent query metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outputFormat, _ := cmd.Flags().GetString("output")

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.health.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to compute health: %w", err)
			}

			if outputFormat == "json" {
				if err := printJSON(map[string]any{
					"status":           report.Status,
					"window_seconds":   int64(report.Window.Seconds()),
					"request_count":    report.RequestCount,
					"error_count":      report.ErrorCount,
					"error_rate":       report.ErrorRate,
					"avg_latency_ms":   report.AvgLatencyMs,
					"avg_similarity":   report.AvgSimilarity,
					"failures_by_code": report.FailuresByCode,
				}); err != nil {
					return err
				}
			} else {
				fmt.Printf("Status: %s (last %s)\n", strings.ToUpper(string(report.Status)), report.Window)
				fmt.Printf("Requests: %d, errors: %d (%.1f%%)\n", report.RequestCount, report.ErrorCount, report.ErrorRate*100)
				fmt.Printf("Avg latency: %.0f ms, avg similarity: %.2f\n", report.AvgLatencyMs, report.AvgSimilarity)
				for code, n := range report.FailuresByCode {
					fmt.Printf("  %s: %d\n", code, n)
				}
			}

			if report.Status != domain.HealthStatusOK {
				return fmt.Errorf("service is %s", report.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			version, err := database.MigrateUp(cfg.DatabaseURL, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			fmt.Printf("Database at version %d\n", version)
			return nil
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := database.MigrateDown(cfg.DatabaseURL, cfg.MigrationsDir, steps); err != nil {
				return err
			}
			fmt.Printf("Rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().Int("steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}
