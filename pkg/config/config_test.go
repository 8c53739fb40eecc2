package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
request:
  padtxt_length: 500
  custom_prompt: "stay terse"
accounts:
  max_sessions_per_cookie: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address())
	assert.Equal(t, 500, cfg.Request.PadtxtLength)
	assert.Equal(t, "stay terse", cfg.Request.CustomPrompt)
	assert.Equal(t, 5, cfg.Accounts.MaxSessionsPerCookie)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://claude.ai", cfg.Claude.WebBaseURL)
	assert.Equal(t, time.Minute, cfg.Accounts.TaskInterval())
	assert.True(t, cfg.Request.SkipUnknownEvents)
	assert.Equal(t, 15*time.Minute, cfg.Request.ToolCallTTL())
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("SAFFRON_TEST_KEY", "sk-from-env")

	path := writeConfig(t, `
server:
  api_key: ${SAFFRON_TEST_KEY}
  host: ${SAFFRON_TEST_HOST:-127.0.0.1}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.Server.APIKey)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"port out of range", "server:\n  port: 70000\n"},
		{"bad web baseurl", "claude:\n  web_baseurl: not-a-url\n"},
		{"negative padding", "request:\n  padtxt_length: -1\n"},
		{"zero sessions", "accounts:\n  max_sessions_per_cookie: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNoFilesystemModeSkipsDataFolderCheck(t *testing.T) {
	cfg := Default()
	cfg.Accounts.DataFolder = ""
	cfg.Accounts.NoFilesystemMode = true
	assert.NoError(t, cfg.Validate())

	cfg.Accounts.NoFilesystemMode = false
	assert.Error(t, cfg.Validate())
}
