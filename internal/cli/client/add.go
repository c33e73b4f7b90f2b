package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

type CreateDocumentRequest struct {
	Title    string `json:"title"`
	Source   string `json:"source,omitempty"`
	Content  string `json:"content"`
	MimeType string `json:"mime_type,omitempty"`
}

type Document struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Source        string `json:"source,omitempty"`
	MimeType      string `json:"mime_type,omitempty"`
	HasAttachment bool   `json:"has_attachment"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type attachmentInit struct {
	DocumentID string `json:"document_id"`
	StorageKey string `json:"storage_key"`
	UploadURL  string `json:"upload_url"`
}

// AddResult is one line of the add report.
type AddResult struct {
	Input  string `json:"input"`
	ID     string `json:"id,omitempty"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const maxAddBatch = 100

func AddCmd() *cobra.Command {
	var (
		title  string
		source string
		attach bool
	)

	cmd := &cobra.Command{
		Use:   "add <file>... | -",
		Short: "Add documents for question answering",
		Long: `Uploads text documents. Each document is queued for chunking and embedding
and becomes answerable once ingestion finishes.

A JSON file (or stdin) may hold one {"title","source","content"} object or an
array of them.

Examples:
  ragq add handbook.md
  ragq add --title "Travel policy" policy.txt --attach
  cat docs.json | ragq add -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			if title != "" && len(args) > 1 {
				return fmt.Errorf("--title can only be used with a single file")
			}

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			var results []AddResult
			for _, arg := range args {
				results = append(results, addInput(cmd.Context(), api, arg, title, source, attach)...)
			}

			failed := 0
			for _, r := range results {
				if r.Status != "created" {
					failed++
				}
			}

			if outputJSON {
				if err := printJSON(map[string]any{"results": results, "total": len(results), "failed": failed}); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Error != "" {
						fmt.Printf("FAILED %s: %s\n", r.Input, r.Error)
						continue
					}
					fmt.Printf("Added %s (%s)\n", r.Title, r.ID)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d document(s) failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (defaults to the file name)")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Source reference stored with the document (defaults to the file path)")
	cmd.Flags().BoolVar(&attach, "attach", false, "Also upload the original file as an attachment")

	return cmd
}

func addInput(ctx context.Context, api *APIClient, arg, title, source string, attach bool) []AddResult {
	data, err := readInput(arg)
	if err != nil {
		return []AddResult{{Input: arg, Status: "failed", Error: err.Error()}}
	}

	if isJSONInput(data) {
		reqs, err := parseDocumentJSON(data)
		if err != nil {
			return []AddResult{{Input: arg, Status: "failed", Error: err.Error()}}
		}
		results := make([]AddResult, 0, len(reqs))
		for i, req := range reqs {
			input := fmt.Sprintf("%s[%d]", arg, i)
			results = append(results, createDocument(ctx, api, input, req, ""))
		}
		return results
	}

	req := documentFromFile(arg, data, title, source)
	attachPath := ""
	if attach && arg != "-" {
		attachPath = arg
	}
	return []AddResult{createDocument(ctx, api, arg, req, attachPath)}
}

func readInput(arg string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if arg == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("input is empty")
	}
	return data, nil
}

func isJSONInput(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func parseDocumentJSON(data []byte) ([]CreateDocumentRequest, error) {
	trimmed := bytes.TrimSpace(data)

	var reqs []CreateDocumentRequest
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, fmt.Errorf("failed to parse JSON array: %w", err)
		}
	} else {
		var req CreateDocumentRequest
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return nil, fmt.Errorf("failed to parse JSON object: %w", err)
		}
		reqs = append(reqs, req)
	}

	if len(reqs) == 0 {
		return nil, fmt.Errorf("no documents in input")
	}
	if len(reqs) > maxAddBatch {
		return nil, fmt.Errorf("too many documents: %d (max %d)", len(reqs), maxAddBatch)
	}
	return reqs, nil
}

func documentFromFile(path string, data []byte, title, source string) CreateDocumentRequest {
	if title == "" {
		base := filepath.Base(path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
		if path == "-" {
			title = "stdin"
		}
	}
	if source == "" && path != "-" {
		source = path
	}
	return CreateDocumentRequest{
		Title:    title,
		Source:   source,
		Content:  string(data),
		MimeType: detectMimeType(path),
	}
}

func detectMimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "text/markdown"
	case "", ".txt":
		return "text/plain"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
	}
	return "text/plain"
}

func createDocument(ctx context.Context, api *APIClient, input string, req CreateDocumentRequest, attachPath string) AddResult {
	var doc Document
	if err := api.Post(ctx, "/documents", req, &doc); err != nil {
		return AddResult{Input: input, Title: req.Title, Status: "failed", Error: err.Error()}
	}

	result := AddResult{Input: input, ID: doc.ID, Title: doc.Title, Status: "created"}
	if attachPath != "" {
		if err := uploadAttachment(ctx, api, doc.ID, attachPath); err != nil {
			result.Status = "attachment_failed"
			result.Error = err.Error()
		}
	}
	return result
}

func uploadAttachment(ctx context.Context, api *APIClient, documentID, path string) error {
	contentType := detectMimeType(path)

	var init attachmentInit
	err := api.Post(ctx, "/documents/"+documentID+"/attachment", map[string]string{
		"filename":     filepath.Base(path),
		"content_type": contentType,
	}, &init)
	if err != nil {
		return fmt.Errorf("failed to start attachment upload: %w", err)
	}

	if err := api.UploadFile(ctx, init.UploadURL, path, contentType, nil); err != nil {
		return err
	}

	if err := api.Put(ctx, "/documents/"+documentID+"/attachment", map[string]string{"storage_key": init.StorageKey}, nil); err != nil {
		return fmt.Errorf("failed to complete attachment upload: %w", err)
	}
	return nil
}
