package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigValid(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 12345
  cache_entries: 4096
logger:
  level: INFO
  file: /tmp/proxy.log
blacklist:
  - 10.0.0.1
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.Server.Port)
	assert.Equal(t, 4096, cfg.Server.CacheEntries)
	assert.Equal(t, []string{"10.0.0.1"}, cfg.Blacklist)
}

func TestLoadConfigMissingPort(t *testing.T) {
	path := writeConfig(t, `
server:
  cache_entries: 4096
logger:
  level: INFO
  file: /tmp/proxy.log
`)
	_, err := LoadConfig(path)
	assert.Error(t, err, "expected validation error for missing port")
}

func TestLoadConfigMissingCacheEntries(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 12345
logger:
  level: INFO
  file: /tmp/proxy.log
`)
	_, err := LoadConfig(path)
	assert.Error(t, err, "expected validation error for missing cache_entries")
}

func TestLoadConfigMissingLogger(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 12345
  cache_entries: 4096
`)
	_, err := LoadConfig(path)
	assert.Error(t, err, "expected validation error for missing logger settings")
}
