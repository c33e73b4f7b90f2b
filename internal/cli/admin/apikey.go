package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/pagination"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resolveUserID accepts a user ID or a user name.
func resolveUserID(ctx context.Context, a *app, ref string) (string, error) {
	var (
		user *domain.User
		err  error
	)
	if _, perr := uuid.Parse(ref); perr == nil {
		user, err = a.users.GetByID(ctx, ref)
	} else {
		user, err = a.users.GetByName(ctx, ref)
	}
	if errors.Is(err, domain.ErrUserNotFound) {
		return "", fmt.Errorf("user not found: %s", ref)
	}
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// apiKeyView is the admin rendering of a key. The token is set only right
// after creation.
type apiKeyView struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	Token     string     `json:"token,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	Revoked   bool       `json:"revoked"`
}

func viewOf(key *domain.APIKey) apiKeyView {
	return apiKeyView{
		ID:        key.ID,
		UserID:    key.UserID,
		Name:      key.Name,
		CreatedAt: key.CreatedAt,
		RevokedAt: key.RevokedAt,
		Revoked:   key.IsRevoked(),
	}
}

func writeAPIKeyTable(out io.Writer, keys []apiKeyView) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCREATED")
	for _, k := range keys {
		status := "active"
		if k.Revoked {
			status = "revoked"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.ID, k.Name, status, k.CreatedAt.UTC().Format(time.DateTime))
	}
	return w.Flush()
}

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "Create, list and revoke the API keys users query with",
	}

	cmd.AddCommand(apiKeyCreateCmd(), apiKeyListCmd(), apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var userRef, name, output string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			userID, err := resolveUserID(ctx, a, userRef)
			if err != nil {
				return err
			}
			token, err := a.auth.CreateAPIKey(ctx, userID, name)
			if err != nil {
				return fmt.Errorf("failed to create API key: %w", err)
			}
			key, err := a.auth.LookupAPIKey(ctx, token)
			if err != nil {
				return fmt.Errorf("failed to read back API key: %w", err)
			}

			view := viewOf(key)
			view.Token = token
			if output == "json" {
				return printJSON(view)
			}
			fmt.Printf("Created API key %q (%s) for user %s\n", view.Name, view.ID, userID)
			fmt.Printf("Token: %s\n", token)
			fmt.Println("\nStore this token now. It is not shown again.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&userRef, "user", "u", "", "User ID or name (required)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "API key name (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var (
		userRef, output, cursor string
		limit                   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the API keys of a user, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			userID, err := resolveUserID(ctx, a, userRef)
			if err != nil {
				return err
			}
			after, err := pagination.DecodeCursor(cursor)
			if err != nil {
				return err
			}
			page, err := a.apiKeys.ListByUserWithCursor(ctx, userID, after, limit)
			if err != nil {
				return fmt.Errorf("failed to list API keys: %w", err)
			}

			views := make([]apiKeyView, len(page.Items))
			for i, k := range page.Items {
				views[i] = viewOf(k)
			}

			if output == "json" {
				return printJSON(map[string]any{
					"items":    views,
					"cursor":   page.NextCursor,
					"has_more": page.HasMore,
				})
			}
			if len(views) == 0 {
				fmt.Printf("No API keys for user %s\n", userID)
				return nil
			}
			if err := writeAPIKeyTable(os.Stdout, views); err != nil {
				return err
			}
			if page.HasMore {
				fmt.Printf("\nMore results: ragqd apikey list -u %s --cursor %s\n", userRef, page.NextCursor)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userRef, "user", "u", "", "User ID or name (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text or json)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Long:  "Revoke an API key. Queries with the key fail with AUTH_401 from then on.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.auth.RevokeAPIKey(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to revoke API key: %w", err)
			}
			if output == "json" {
				return printJSON(map[string]any{"id": args[0], "revoked": true})
			}
			fmt.Printf("API key %s revoked\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text or json)")
	return cmd
}
