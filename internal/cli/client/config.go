package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	envAPIKey = "RAGQ_API_KEY"
	envAPIURL = "RAGQ_API_URL"

	defaultAPIURL = "http://localhost:8080"
)

var apiKeyPattern = regexp.MustCompile(`^rqk_[0-9a-fA-F]{64}$`)

// IsValidAPIKey checks the rqk_<64 hex> shape without contacting the server.
func IsValidAPIKey(key string) bool {
	return apiKeyPattern.MatchString(key)
}

// GlobalConfig is the credential file written by `ragq init` and
// `ragq auth login`, stored at <user config dir>/ragq/config.json.
type GlobalConfig struct {
	APIKey string `json:"api_key"`
	APIURL string `json:"api_url"`
}

// configPath is swapped out in tests.
var configPath = func() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(base, "ragq", "config.json"), nil
}

func GetConfigPath() (string, error) {
	return configPath()
}

// LoadGlobalConfig returns (nil, nil) when the file does not exist yet.
func LoadGlobalConfig() (*GlobalConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := new(GlobalConfig)
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SaveGlobalConfig writes cfg with owner-only permissions; it holds a
// bearer credential.
func SaveGlobalConfig(cfg *GlobalConfig) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func DeleteGlobalConfig() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete config file: %w", err)
	}
	return nil
}

// CredentialSource tells where the active API key came from.
type CredentialSource string

const (
	SourceFlag         CredentialSource = "flag"
	SourceEnv          CredentialSource = "env"
	SourceGlobalConfig CredentialSource = "global_config"
	SourceNone         CredentialSource = "none"
)

// ResolveCredentials looks up the API key and URL in flags, then the
// environment, then the global config file. Key and URL resolve
// independently; the URL defaults to a local server, the key has no default.
func ResolveCredentials(flagAPIKey, flagAPIURL string) (CredentialSource, string, string, error) {
	key, source := flagAPIKey, SourceFlag
	if key == "" {
		key, source = os.Getenv(envAPIKey), SourceEnv
	}
	url := flagAPIURL
	if url == "" {
		url = os.Getenv(envAPIURL)
	}

	if key == "" || url == "" {
		file, err := LoadGlobalConfig()
		if err != nil {
			return SourceNone, "", "", err
		}
		if file != nil {
			if key == "" {
				key, source = file.APIKey, SourceGlobalConfig
			}
			if url == "" {
				url = file.APIURL
			}
		}
	}

	if key == "" {
		source = SourceNone
	}
	if url == "" {
		url = defaultAPIURL
	}
	return source, key, url, nil
}
