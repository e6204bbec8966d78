package kadcrawl

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "6881", cfg.Get("dht.port", ""))
	assert.Equal(t, "50", cfg.Get("bittorrent.max_connections", ""))
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kadcrawl.yaml")
	contents := `
dht:
  port: 7000
  bootstrap_nodes: "router.bittorrent.com:6881,router.utorrent.com:6881"
crawler:
  random_discovery: false
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.GetInt("dht.port", 0))
	assert.False(t, cfg.GetBool("crawler.random_discovery", true))
	assert.Equal(t, []string{"router.bittorrent.com:6881", "router.utorrent.com:6881"}, cfg.GetStringList("dht.bootstrap_nodes", nil))
}

func TestGetDurationFallsBackOnInvalidValue(t *testing.T) {
	cfg := &Config{Settings: map[string]string{"dht.ping_interval": "not-a-duration"}}
	assert.Equal(t, 42*time.Second, cfg.GetDuration("dht.ping_interval", 42*time.Second))
}

func TestSetOverridesRuntimeSetting(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Set("web.port", "9090")
	assert.Equal(t, "9090", cfg.Get("web.port", ""))
}
