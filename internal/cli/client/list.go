package client

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type DocumentList struct {
	Items   []Document `json:"items"`
	Cursor  string     `json:"cursor,omitempty"`
	HasMore bool       `json:"has_more"`
}

func ListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
		all    bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			var docs []Document
			next := cursor
			for {
				page, err := fetchDocumentPage(cmd, api, limit, next)
				if err != nil {
					return err
				}
				docs = append(docs, page.Items...)
				next = page.Cursor
				if !all || !page.HasMore {
					break
				}
			}

			if outputJSON {
				return printJSON(DocumentList{Items: docs, Cursor: next, HasMore: next != "" && !all})
			}

			if len(docs) == 0 {
				fmt.Println("No documents")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tTYPE\tATTACHMENT\tUPDATED")
			for _, d := range docs {
				attachment := "-"
				if d.HasAttachment {
					attachment = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Title, d.MimeType, attachment, d.UpdatedAt)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if next != "" && !all {
				fmt.Printf("\nMore results: ragq list --cursor %s\n", next)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Page size (max 100)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")
	cmd.Flags().BoolVar(&all, "all", false, "Follow cursors until every document is listed")

	return cmd
}

func fetchDocumentPage(cmd *cobra.Command, api *APIClient, limit int, cursor string) (*DocumentList, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var page DocumentList
	if err := api.Get(cmd.Context(), "/documents?"+q.Encode(), &page); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return &page, nil
}
