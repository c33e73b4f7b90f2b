package client

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey      = "rqk_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	otherTestKey = "rqk_1111111111111111111111111111111111111111111111111111111111111111"
)

// useTempConfig points the global config at a fresh temp dir for one test.
func useTempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ragq", "config.json")

	previous := configPath
	configPath = func() (string, error) { return path, nil }
	t.Cleanup(func() { configPath = previous })

	t.Setenv(envAPIKey, "")
	t.Setenv(envAPIURL, "")
	return path
}

func TestGetConfigPath(t *testing.T) {
	path, err := GetConfigPath()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.True(t, strings.HasSuffix(path, filepath.Join("ragq", "config.json")))
}

func TestLoadGlobalConfig_FileNotExists(t *testing.T) {
	useTempConfig(t)

	cfg, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadGlobalConfig_InvalidJSON(t *testing.T) {
	path := useTempConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("{invalid json}"), 0o600))

	cfg, err := LoadGlobalConfig()
	assert.Nil(t, cfg)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestSaveGlobalConfig_RoundTrip(t *testing.T) {
	path := useTempConfig(t)

	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: testKey, APIURL: "http://example.com"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := LoadGlobalConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, testKey, cfg.APIKey)
	assert.Equal(t, "http://example.com", cfg.APIURL)
}

func TestSaveGlobalConfig_NilConfig(t *testing.T) {
	assert.Error(t, SaveGlobalConfig(nil))
}

func TestDeleteGlobalConfig(t *testing.T) {
	path := useTempConfig(t)

	require.NoError(t, DeleteGlobalConfig(), "missing file is not an error")

	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: testKey}))
	require.NoError(t, DeleteGlobalConfig())
	assert.NoFileExists(t, path)
}

func TestIsValidAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid lowercase", testKey, true},
		{"valid uppercase hex", "rqk_" + strings.Repeat("AB", 32), true},
		{"wrong prefix", "sk-" + strings.Repeat("ab", 32), false},
		{"too short", "rqk_abc", false},
		{"too long", testKey + "0", false},
		{"non hex", "rqk_" + strings.Repeat("zz", 32), false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidAPIKey(tt.key))
		})
	}
}

func TestResolveCredentials(t *testing.T) {
	t.Run("nothing configured", func(t *testing.T) {
		useTempConfig(t)

		source, key, url, err := ResolveCredentials("", "")
		require.NoError(t, err)
		assert.Equal(t, SourceNone, source)
		assert.Empty(t, key)
		assert.Equal(t, defaultAPIURL, url)
	})

	t.Run("flags win", func(t *testing.T) {
		useTempConfig(t)
		t.Setenv(envAPIKey, otherTestKey)
		t.Setenv(envAPIURL, "http://env.example.com")

		source, key, url, err := ResolveCredentials(testKey, "http://flag.example.com")
		require.NoError(t, err)
		assert.Equal(t, SourceFlag, source)
		assert.Equal(t, testKey, key)
		assert.Equal(t, "http://flag.example.com", url)
	})

	t.Run("env over global config", func(t *testing.T) {
		useTempConfig(t)
		require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: otherTestKey, APIURL: "http://file.example.com"}))
		t.Setenv(envAPIKey, testKey)

		source, key, url, err := ResolveCredentials("", "")
		require.NoError(t, err)
		assert.Equal(t, SourceEnv, source)
		assert.Equal(t, testKey, key)
		assert.Equal(t, "http://file.example.com", url, "URL still falls through to the file")
	})

	t.Run("global config", func(t *testing.T) {
		useTempConfig(t)
		require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: testKey, APIURL: "http://file.example.com"}))

		source, key, url, err := ResolveCredentials("", "")
		require.NoError(t, err)
		assert.Equal(t, SourceGlobalConfig, source)
		assert.Equal(t, testKey, key)
		assert.Equal(t, "http://file.example.com", url)
	})

	t.Run("broken config file", func(t *testing.T) {
		path := useTempConfig(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.NoError(t, os.WriteFile(path, []byte("nope"), 0o600))

		_, _, _, err := ResolveCredentials("", "")
		assert.Error(t, err)
	})
}
