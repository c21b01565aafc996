package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alexaremote.yaml")
	content := `
session_file: /tmp/session
client:
  amazon_site: ${ALEXA_SITE:amazon.de}
  request_timeout: 30s
  bad_request_retry: 5
login:
  addr: 127.0.0.1:4000
logger:
  level: debug
`
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Run("defaults fill unset env placeholders", func(t *testing.T) {
		cfg, resolved, err := LoadConfig(path)
		assert.NoError(t, err)
		assert.Equal(t, path, resolved)
		assert.Equal(t, "amazon.de", cfg.Client.AmazonSite)
		assert.Equal(t, 5, cfg.Client.BadRequestRetry)
		assert.Equal(t, "127.0.0.1:4000", cfg.Login.Addr)
		assert.Equal(t, "debug", cfg.Logger.Level)
		// unset sections get defaults
		assert.Equal(t, ":9090", cfg.Metrics.Addr)
		assert.Equal(t, "alexaremote", cfg.Metrics.Namespace)
	})

	t.Run("environment overrides the placeholder", func(t *testing.T) {
		t.Setenv("ALEXA_SITE", "amazon.co.jp")
		cfg, _, err := LoadConfig(path)
		assert.NoError(t, err)
		assert.Equal(t, "amazon.co.jp", cfg.Client.AmazonSite)
	})

	t.Run("missing file reports the resolved path", func(t *testing.T) {
		_, resolved, err := LoadConfig(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
		assert.True(t, os.IsNotExist(err))
		assert.NotEmpty(t, resolved)
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.SessionFile)
	assert.Equal(t, "127.0.0.1:3000", cfg.Login.Addr)
	assert.Equal(t, "alexaremote", cfg.Metrics.Namespace)
}
