package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/t2r/internal/config"
)

func TestLoadWritesTemplateOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t2r", "config.yml")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultTogglURL, cfg.Toggl.BaseURL)
	assert.Equal(t, config.DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, config.DefaultDebounce, cfg.Publish.Debounce)
	assert.Equal(t, "info", cfg.Log.Level)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "api_token")

	// The written template parses to the same defaults.
	again, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Toggl, again.Toggl)
	assert.Equal(t, cfg.Log, again.Log)
	assert.Equal(t, cfg.Publish, again.Publish)
	assert.Equal(t, cfg.Server, again.Server)
	assert.Equal(t, "en", again.Language)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
toggl:
  api_token: "tok"
redmine:
  url: "https://redmine.example.com"
  oauth:
    client_id: "cid"
    scopes: ["public", "time_entries"]
publish:
  debounce: "250ms"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Toggl.APIToken)
	assert.Equal(t, "https://redmine.example.com", cfg.Redmine.URL)
	assert.Equal(t, "cid", cfg.Redmine.OAuth.ClientID)
	assert.Equal(t, []string{"public", "time_entries"}, cfg.Redmine.OAuth.Scopes)
	assert.Equal(t, 250*time.Millisecond, cfg.Publish.Debounce)
	assert.NoError(t, cfg.CheckRemote())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("redmine:\n  api_key: from-file\n"), 0o600))
	t.Setenv("T2R_REDMINE_API_KEY", "from-env")
	t.Setenv("T2R_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Redmine.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("toggl: [unclosed"), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestCheckRemote(t *testing.T) {
	err := config.Config{}.CheckRemote()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "toggl.api_token")
	assert.Contains(t, err.Error(), "redmine.url")
	assert.Contains(t, err.Error(), "redmine.api_key")
}
