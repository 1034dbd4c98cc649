package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Empty(t, cfg.Brokers)
	assert.Equal(t, "jobengine", cfg.Daemon.Name)
	assert.Equal(t, ":8089", cfg.Daemon.StatusAddress)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "jobengine.yaml")

	configContent := `
brokers:
  - address: redis://localhost:6379/0
    user: engine
    password: secret
    retry_delay: 2s

daemon:
  name: d1
  host: node-7
  file_roots:
    data: /srv/data
  services:
    - name: checksum
      worker: checksum
      concurrency: 4
      options:
        output_dir: /srv/out

cache:
  enabled: true
  dir: /tmp/cache

workflow:
  priority: 3

logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	broker, err := cfg.Broker()
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", broker.Address)
	assert.Equal(t, "engine", broker.User)
	assert.Equal(t, 2*time.Second, broker.RetryDelay)

	assert.Equal(t, "node-7", cfg.Daemon.Host)
	assert.Equal(t, "/srv/data", cfg.Daemon.FileRoots["data"])
	svc, ok := cfg.Service("checksum")
	require.True(t, ok)
	assert.Equal(t, 4, svc.Concurrency)
	assert.Equal(t, "/srv/out", svc.Options["output_dir"])

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 3, cfg.Workflow.Priority)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Daemon.Name, cfg.Daemon.Name)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JE_DAEMON_NAME", "from-env")
	t.Setenv("JE_CACHE_ENABLED", "true")
	t.Setenv("JE_WORKFLOW_PRIORITY", "7")
	t.Setenv("JE_DAEMON_FILE_ROOTS", "a=/x, b=/y")
	t.Setenv("JE_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Daemon.Name)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 7, cfg.Workflow.Priority)
	assert.Equal(t, map[string]string{"a": "/x", "b": "/y"}, cfg.Daemon.FileRoots)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvPrefix(t *testing.T) {
	t.Setenv("XX_DAEMON_NAME", "prefixed")

	cfg, err := NewLoader().WithEnvPrefix("XX_").Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Daemon.Name)
}

func TestEnvOverrideInvalidValue(t *testing.T) {
	t.Setenv("JE_WORKFLOW_PRIORITY", "high")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestCmdOverridesWinOverEnv(t *testing.T) {
	t.Setenv("JE_DAEMON_NAME", "from-env")

	cfg, err := NewLoader().WithCmdArgs(map[string]string{
		"daemon.name":       "from-flag",
		"cache.dir":         "/flag/cache",
		"logging.file_path": "/var/log/je.log",
		"workflow.priority": "-2",
	}).Load()
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.Daemon.Name)
	assert.Equal(t, "/flag/cache", cfg.Cache.Dir)
	assert.Equal(t, "/var/log/je.log", cfg.Logging.FilePath)
	assert.Equal(t, -2, cfg.Workflow.Priority)
}

func TestCmdOverrideUnknownPath(t *testing.T) {
	_, err := NewLoader().WithCmdArgs(map[string]string{"daemon.nope": "x"}).Load()
	assert.Error(t, err)

	_, err = NewLoader().WithCmdArgs(map[string]string{"daemon.name.deeper": "x"}).Load()
	assert.Error(t, err)
}

func TestParseOverrides(t *testing.T) {
	m, err := ParseOverrides([]string{"daemon.name=x", "cache.dir=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "x", m["daemon.name"])
	assert.Equal(t, "a=b", m["cache.dir"])

	_, err = ParseOverrides([]string{"novalue"})
	assert.Error(t, err)
}

func TestBrokerRequiresExactlyOne(t *testing.T) {
	cfg := DefaultConfig()
	_, err := cfg.Broker()
	assert.Error(t, err)

	cfg.Brokers = []BrokerConfig{{Address: "memory://a"}}
	b, err := cfg.Broker()
	require.NoError(t, err)
	assert.Equal(t, DefaultRetryDelay, b.RetryDelay)

	cfg.Brokers = append(cfg.Brokers, BrokerConfig{Address: "memory://b"})
	_, err = cfg.Broker()
	assert.Error(t, err)
}

func TestSerializeRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Brokers = []BrokerConfig{{Address: "memory://x", RetryDelay: time.Second}}

	data, err := cfg.Serialize()
	require.NoError(t, err)

	parsed, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Brokers, parsed.Brokers)
	assert.Equal(t, cfg.Daemon.Name, parsed.Daemon.Name)
}
