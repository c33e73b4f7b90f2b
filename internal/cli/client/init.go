package client

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const envFile = ".env"

// InitCmd sets up credentials for the current machine and, with --env,
// for the current directory.
func InitCmd() *cobra.Command {
	var apiKey, apiURL string
	var writeEnv bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Configure ragq with an API key",
		Long: `Checks the API key against the server and stores it in the global config.
With --env the key is written to ./.env instead, for per-directory setups.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			if apiKey == "" {
				apiKey = os.Getenv(envAPIKey)
			}
			if apiKey == "" {
				key, err := prompt(os.Stdin, "Enter API key: ")
				if err != nil {
					return err
				}
				apiKey = key
			}
			if apiURL == "" {
				apiURL = os.Getenv(envAPIURL)
			}
			if apiURL == "" {
				apiURL = defaultAPIURL
			}

			target, err := runInit(cmd, apiKey, apiURL, writeEnv)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]any{"success": true, "api_url": apiURL, "saved_to": target})
			}
			fmt.Printf("Connected to %s\n", apiURL)
			fmt.Printf("Credentials saved to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "key", "", "API key (rqk_...)")
	cmd.Flags().StringVar(&apiURL, "url", "", "API base URL (default: http://localhost:8080)")
	cmd.Flags().BoolVar(&writeEnv, "env", false, "Write credentials to ./.env instead of the global config")

	return cmd
}

func runInit(cmd *cobra.Command, apiKey, apiURL string, writeEnv bool) (string, error) {
	if !writeEnv {
		if err := runAuthLogin(cmd.Context(), apiKey, apiURL, true); err != nil {
			return "", err
		}
		return GetConfigPath()
	}

	if !IsValidAPIKey(apiKey) {
		return "", fmt.Errorf("invalid API key format (expected rqk_ + 64 hex characters)")
	}
	if _, err := os.Stat(envFile); err == nil {
		return "", fmt.Errorf("%s already exists", envFile)
	}
	if err := verifyKey(cmd.Context(), NewAPIClientWithConfig(apiKey, apiURL)); err != nil {
		return "", err
	}

	data, err := godotenv.Marshal(map[string]string{envAPIKey: apiKey, envAPIURL: apiURL})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(envFile, []byte(data+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", envFile, err)
	}
	return envFile, nil
}
