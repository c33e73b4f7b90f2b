package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

type askRequest struct {
	Question string `json:"question"`
	K        *int   `json:"k,omitempty"`
}

type Source struct {
	Label         string  `json:"label"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	ChunkID       string  `json:"chunk_id,omitempty"`
	PageNo        *int    `json:"page_no,omitempty"`
	Similarity    float64 `json:"similarity"`
	Preview       string  `json:"preview"`
}

type QueryMetrics struct {
	TotalLatency     int64   `json:"totalLatency"`
	LLMLatency       int64   `json:"llmLatency"`
	DBLatency        int64   `json:"dbLatency"`
	EmbLatency       int64   `json:"embLatency"`
	RerankLatency    int64   `json:"rerankLatency"`
	AvgSimilarity    float64 `json:"avgSimilarity"`
	ChunksRetrieved  int     `json:"chunksRetrieved"`
	TotalChunksFound int     `json:"totalChunksFound"`
}

type QueryResult struct {
	RequestID string       `json:"requestId"`
	Answer    string       `json:"answer"`
	Sources   []Source     `json:"sources"`
	Metrics   QueryMetrics `json:"metrics"`
}

// Ask sends one question. k <= 0 leaves the candidate count to the server.
func (c *APIClient) Ask(ctx context.Context, question string, k int) (*QueryResult, error) {
	body := askRequest{Question: question}
	if k > 0 {
		body.K = &k
	}

	raw, err := c.send(ctx, http.MethodPost, "/query", body)
	if err != nil {
		return nil, err
	}
	var result QueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func AskCmd() *cobra.Command {
	var k int
	var showMetrics bool

	cmd := &cobra.Command{
		Use:     "ask <question>",
		Aliases: []string{"q"},
		Short:   "Ask a question about your documents",
		Long: `Answers a question from the documents you have ingested, citing sources as [Source 1], [Source 2].

Examples:
  ragq ask "What is the refund window?"
  ragq ask -k 10 "Who approves travel expenses?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			result, err := api.Ask(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests && apiErr.RetryAfter > 0 {
					return fmt.Errorf("%w; retry in %ds", err, apiErr.RetryAfter)
				}
				return err
			}

			if outputJSON {
				return printJSON(result)
			}
			printAnswer(result, showMetrics)
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of candidate chunks to retrieve (server default when 0)")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print latency and retrieval metrics")

	return cmd
}

func printAnswer(result *QueryResult, showMetrics bool) {
	fmt.Println(result.Answer)

	if len(result.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, s := range result.Sources {
			where := s.DocumentTitle
			if s.PageNo != nil {
				where = fmt.Sprintf("%s, p. %d", where, *s.PageNo)
			}
			fmt.Printf("  [%s] %s (%.2f)\n", s.Label, where, s.Similarity)
		}
	}

	if showMetrics {
		m := result.Metrics
		fmt.Println()
		fmt.Printf("Request %s: %dms total (embed %dms, db %dms, rerank %dms, llm %dms)\n",
			result.RequestID, m.TotalLatency, m.EmbLatency, m.DBLatency, m.RerankLatency, m.LLMLatency)
		fmt.Printf("Chunks: %d used of %d found, avg similarity %.2f\n",
			m.ChunksRetrieved, m.TotalChunksFound, m.AvgSimilarity)
	}
}
