package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Control struct {
		Address          string        `yaml:"address"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		MaxFrameBytes    int           `yaml:"max_frame_bytes"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		SendQueue        int           `yaml:"send_queue"`
	} `yaml:"control"`

	Media struct {
		Address     string        `yaml:"address"`
		ReadBuffer  int           `yaml:"read_buffer"`
		WriteBuffer int           `yaml:"write_buffer"`
		MaxPacket   int           `yaml:"max_packet"`
		SendTimeout time.Duration `yaml:"send_timeout"`
		DSCP        int           `yaml:"dscp"`
	} `yaml:"media"`

	FileTransfer struct {
		Address      string        `yaml:"address"`
		StorageDir   string        `yaml:"storage_dir"`
		Workers      int           `yaml:"workers"`
		IOTimeout    time.Duration `yaml:"io_timeout"`
		MaxFilename  int           `yaml:"max_filename"`
		MaxFileBytes int64         `yaml:"max_file_bytes"`
		PurgeOnStart bool          `yaml:"purge_on_start"`
	} `yaml:"file_transfer"`

	Sweeper struct {
		Interval       time.Duration `yaml:"interval"`
		SessionTimeout time.Duration `yaml:"session_timeout"`
	} `yaml:"sweeper"`

	Admin struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"admin"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Control
	if c.Control.Address == "" {
		return fmt.Errorf("control.address must not be empty")
	}
	if c.Control.HandshakeTimeout <= 0 {
		return fmt.Errorf("control.handshake_timeout must be > 0")
	}
	if c.Control.MaxFrameBytes <= 0 {
		return fmt.Errorf("control.max_frame_bytes must be > 0")
	}
	if c.Control.WriteTimeout <= 0 {
		return fmt.Errorf("control.write_timeout must be > 0")
	}
	if c.Control.SendQueue <= 0 {
		return fmt.Errorf("control.send_queue must be > 0")
	}

	// Media
	if c.Media.Address == "" {
		return fmt.Errorf("media.address must not be empty")
	}
	if c.Media.MaxPacket < 3 || c.Media.MaxPacket > 65535 {
		return fmt.Errorf("media.max_packet must be between 3 and 65535")
	}
	if c.Media.SendTimeout <= 0 {
		return fmt.Errorf("media.send_timeout must be > 0")
	}
	if c.Media.DSCP < 0 || c.Media.DSCP > 63 {
		return fmt.Errorf("media.dscp must be between 0 and 63")
	}
	if c.Media.ReadBuffer < 0 || c.Media.WriteBuffer < 0 {
		return fmt.Errorf("media.read_buffer and media.write_buffer must be >= 0")
	}

	// File transfer
	if c.FileTransfer.Address == "" {
		return fmt.Errorf("file_transfer.address must not be empty")
	}
	if c.FileTransfer.StorageDir == "" {
		return fmt.Errorf("file_transfer.storage_dir must not be empty")
	}
	if c.FileTransfer.Workers <= 0 {
		return fmt.Errorf("file_transfer.workers must be > 0")
	}
	if c.FileTransfer.IOTimeout <= 0 {
		return fmt.Errorf("file_transfer.io_timeout must be > 0")
	}
	if c.FileTransfer.MaxFilename <= 0 {
		return fmt.Errorf("file_transfer.max_filename must be > 0")
	}
	if c.FileTransfer.MaxFileBytes <= 0 {
		return fmt.Errorf("file_transfer.max_file_bytes must be > 0")
	}

	// Sweeper
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be > 0")
	}
	if c.Sweeper.SessionTimeout <= 0 {
		return fmt.Errorf("sweeper.session_timeout must be > 0")
	}

	// Admin
	if c.Admin.Enabled {
		if c.Admin.Address == "" {
			return fmt.Errorf("admin.address must not be empty when admin.enabled=true")
		}
		if c.Admin.ShutdownTimeout <= 0 {
			return fmt.Errorf("admin.shutdown_timeout must be > 0")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
			// fall back to defaults
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Control.Address = ":9000"
	cfg.Control.HandshakeTimeout = 10 * time.Second
	cfg.Control.MaxFrameBytes = 1 << 20
	cfg.Control.WriteTimeout = 5 * time.Second
	cfg.Control.SendQueue = 256

	cfg.Media.Address = ":9001"
	cfg.Media.ReadBuffer = 4 << 20
	cfg.Media.WriteBuffer = 4 << 20
	cfg.Media.MaxPacket = 65535
	cfg.Media.SendTimeout = 50 * time.Millisecond
	cfg.Media.DSCP = 46 // EF

	cfg.FileTransfer.Address = ":9002"
	cfg.FileTransfer.StorageDir = "server_file_uploads"
	cfg.FileTransfer.Workers = 20
	cfg.FileTransfer.IOTimeout = 30 * time.Second
	cfg.FileTransfer.MaxFilename = 255
	cfg.FileTransfer.MaxFileBytes = 4 << 30
	cfg.FileTransfer.PurgeOnStart = true

	cfg.Sweeper.Interval = 30 * time.Second
	cfg.Sweeper.SessionTimeout = 5 * time.Minute

	cfg.Admin.Enabled = true
	cfg.Admin.Address = ":9080"
	cfg.Admin.ShutdownTimeout = 5 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "lanrelay:presence"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "lanrelay"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.MessagesPerSecond = 50
	cfg.RateLimiting.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("LANRELAY_CONTROL_ADDRESS"); addr != "" {
		c.Control.Address = addr
	}
	if addr := os.Getenv("LANRELAY_MEDIA_ADDRESS"); addr != "" {
		c.Media.Address = addr
	}
	if addr := os.Getenv("LANRELAY_FILE_ADDRESS"); addr != "" {
		c.FileTransfer.Address = addr
	}
	if dir := os.Getenv("LANRELAY_STORAGE_DIR"); dir != "" {
		c.FileTransfer.StorageDir = dir
	}
	if addr := os.Getenv("LANRELAY_ADMIN_ADDRESS"); addr != "" {
		c.Admin.Address = addr
	}
	if level := os.Getenv("LANRELAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("LANRELAY_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if v := os.Getenv("LANRELAY_SESSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sweeper.SessionTimeout = d
		}
	}
	if v := os.Getenv("LANRELAY_FILE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FileTransfer.Workers = n
		}
	}
}
