package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Control.Address)
	assert.Equal(t, ":9001", cfg.Media.Address)
	assert.Equal(t, ":9002", cfg.FileTransfer.Address)
	assert.Equal(t, 20, cfg.FileTransfer.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.SessionTimeout)
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "control address must not be empty",
			mutate: func(c *Config) { c.Control.Address = "" },
		},
		{
			name:   "max frame bytes must be > 0",
			mutate: func(c *Config) { c.Control.MaxFrameBytes = 0 },
		},
		{
			name:   "media packet too small",
			mutate: func(c *Config) { c.Media.MaxPacket = 2 },
		},
		{
			name:   "dscp out of range",
			mutate: func(c *Config) { c.Media.DSCP = 64 },
		},
		{
			name:   "workers must be > 0",
			mutate: func(c *Config) { c.FileTransfer.Workers = 0 },
		},
		{
			name:   "sweeper interval must be > 0",
			mutate: func(c *Config) { c.Sweeper.Interval = 0 },
		},
		{
			name:   "session timeout must be > 0",
			mutate: func(c *Config) { c.Sweeper.SessionTimeout = -time.Second },
		},
		{
			name:   "unknown log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
		},
		{
			name: "redis enabled without channel",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Channel = ""
			},
		},
		{
			name: "rate limiting burst",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.Burst = 0
			},
		},
		{
			name: "tracing sample rate",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 2
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_DisabledSectionsIgnoreZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.Burst = 0
	cfg.RateLimiting.MessagesPerSecond = 0
	cfg.Redis.Enabled = false
	cfg.Redis.Channel = ""
	cfg.Admin.Enabled = false
	cfg.Admin.Address = ""

	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Control.Address, cfg.Control.Address)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
control:
  address: "127.0.0.1:7000"
sweeper:
  interval: 45s
  session_timeout: 2m
file_transfer:
  workers: 4
logging:
  level: debug
  format: console
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Control.Address)
	assert.Equal(t, 45*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Sweeper.SessionTimeout)
	assert.Equal(t, 4, cfg.FileTransfer.Workers)
	assert.Equal(t, "console", cfg.Logging.Format)
	// untouched keys keep defaults
	assert.Equal(t, ":9001", cfg.Media.Address)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("control: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LANRELAY_CONTROL_ADDRESS", "127.0.0.1:1234")
	t.Setenv("LANRELAY_SESSION_TIMEOUT", "90s")
	t.Setenv("LANRELAY_FILE_WORKERS", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", cfg.Control.Address)
	assert.Equal(t, 90*time.Second, cfg.Sweeper.SessionTimeout)
	assert.Equal(t, 3, cfg.FileTransfer.Workers)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("file_transfer:\n  workers: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file_transfer.workers")
}
