package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  host: 127.0.0.1
  port: 9090
store:
  dir: /tmp/index
  db_type: goleveldb
feed:
  url: http://localhost:16110
  poll_interval: 5s
indexer:
  retry_budget: 4
mempool:
  ttl: 1h
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 5*time.Second, cfg.Feed.PollInterval)
	require.Equal(t, 4, cfg.Indexer.RetryBudget)
	require.Equal(t, time.Hour, cfg.Mempool.TTL)

	// Unset knobs fall back to defaults.
	require.Equal(t, 256, cfg.Indexer.EventBuf)
	require.Equal(t, 2*time.Minute, cfg.Indexer.DependencyWait)
	require.Equal(t, time.Minute, cfg.Mempool.SweepInterval)
	require.Equal(t, time.Minute, cfg.Stats.SampleInterval)
}

func TestLoadConfigRequiresStoreDir(t *testing.T) {
	path := writeConfig(t, `
feed:
  url: http://localhost:16110
`)
	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "store.dir")
}

func TestLoadConfigRequiresFeedURL(t *testing.T) {
	path := writeConfig(t, `
store:
  dir: /tmp/index
`)
	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "feed.url")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
