package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func AuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored credentials",
	}

	cmd.AddCommand(authLoginCmd(), authLogoutCmd(), authStatusCmd())
	return cmd
}

func authLoginCmd() *cobra.Command {
	var apiKey, apiURL string
	var skipVerify bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key in the global config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				key, err := prompt(os.Stdin, "Enter API key: ")
				if err != nil {
					return err
				}
				apiKey = key
			}
			if err := runAuthLogin(cmd.Context(), apiKey, apiURL, !skipVerify); err != nil {
				return err
			}
			fmt.Println("Successfully logged in")
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "key", "", "API key (rqk_...)")
	cmd.Flags().StringVar(&apiURL, "url", defaultAPIURL, "API URL")
	cmd.Flags().BoolVar(&skipVerify, "no-verify", false, "Store the key without checking it against the server")

	return cmd
}

func authLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := DeleteGlobalConfig(); err != nil {
				return fmt.Errorf("failed to logout: %w", err)
			}
			fmt.Println("Successfully logged out")
			return nil
		},
	}
}

func authStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where credentials come from",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			flagKey, _ := cmd.Flags().GetString("api-key")
			flagURL, _ := cmd.Flags().GetString("api-url")

			source, apiKey, apiURL, err := ResolveCredentials(flagKey, flagURL)
			if err != nil {
				return err
			}
			status := authStatus(source, apiKey, apiURL)

			if outputJSON {
				return printJSON(status)
			}
			if source == SourceNone {
				fmt.Println("Not authenticated")
				fmt.Println("Run 'ragq init' to authenticate")
				return nil
			}
			fmt.Printf("Source: %s\nAPI key: %s\nAPI URL: %s\n", source, status["api_key"], apiURL)
			return nil
		},
	}
}

// runAuthLogin validates apiKey and stores it. With verify set the key is
// first used against the server so a revoked key is never saved.
func runAuthLogin(ctx context.Context, apiKey, apiURL string, verify bool) error {
	if !IsValidAPIKey(apiKey) {
		return fmt.Errorf("invalid API key format (expected rqk_ + 64 hex characters)")
	}
	if verify {
		if err := verifyKey(ctx, NewAPIClientWithConfig(apiKey, apiURL)); err != nil {
			return err
		}
	}

	if err := SaveGlobalConfig(&GlobalConfig{APIKey: apiKey, APIURL: apiURL}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func verifyKey(ctx context.Context, api *APIClient) error {
	var keys []map[string]any
	if err := api.Get(ctx, "/apikeys", &keys); err != nil {
		return fmt.Errorf("API key rejected: %w", err)
	}
	return nil
}

func authStatus(source CredentialSource, apiKey, apiURL string) map[string]any {
	status := map[string]any{
		"authenticated": source != SourceNone,
		"source":        string(source),
	}
	if source != SourceNone {
		status["api_key"] = maskAPIKey(apiKey)
		status["api_url"] = apiURL
	}
	return status
}

func maskAPIKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func prompt(in io.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
