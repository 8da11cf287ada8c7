package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"peerboard/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		PublicURL       string        `yaml:"public_url"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Room struct {
		ID string `yaml:"id"` // generated when empty
	} `yaml:"room"`

	Participant struct {
		ID          string `yaml:"id"`
		DisplayName string `yaml:"display_name"`
		Color       string `yaml:"color"`
	} `yaml:"participant"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		GatherTimeout  time.Duration `yaml:"gather_timeout"`
		MaxTokenLength int           `yaml:"max_token_length"`
	} `yaml:"webrtc"`

	Sync struct {
		CursorInterval       time.Duration `yaml:"cursor_interval"`
		StreamAppendInterval time.Duration `yaml:"stream_append_interval"`
		QueueSize            int           `yaml:"queue_size"`
	} `yaml:"sync"`

	Storage struct {
		BatchSize     int           `yaml:"batch_size"`
		FlushInterval time.Duration `yaml:"flush_interval"`
		WriteTimeout  time.Duration `yaml:"write_timeout"`
		Retry         struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`
		Breaker struct {
			FailureThreshold int           `yaml:"failure_threshold"` // 0 disables
			Timeout          time.Duration `yaml:"timeout"`
		} `yaml:"breaker"`
	} `yaml:"storage"`

	Backup struct {
		Enabled  bool          `yaml:"enabled"`
		Dir      string        `yaml:"dir"`
		Interval time.Duration `yaml:"interval"`
		Keep     int           `yaml:"keep"` // 0 keeps all
	} `yaml:"backup"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`

		// ConnectAttempts bounds the startup ping before falling back to memory.
		ConnectAttempts int `yaml:"connect_attempts"`
	} `yaml:"redis"`

	Control struct {
		AuthSecret string        `yaml:"auth_secret"` // empty disables auth
		TokenTTL   time.Duration `yaml:"token_ttl"`
		RateLimit  struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"control"`

	Render struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
	} `yaml:"render"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		StaleAfter        time.Duration `yaml:"stale_after"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
		Environment    string  `yaml:"environment"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if err := validation.ValidateURL(c.Server.PublicURL); err != nil {
		return fmt.Errorf("server.public_url: %w", err)
	}

	// Room and participant
	if c.Room.ID != "" {
		if err := validation.ValidateRoomID(c.Room.ID); err != nil {
			return fmt.Errorf("room.id: %w", err)
		}
	}
	if c.Participant.ID != "" {
		if err := validation.ValidateParticipantID(c.Participant.ID); err != nil {
			return fmt.Errorf("participant.id: %w", err)
		}
	}
	if c.Participant.Color != "" {
		if err := validation.ValidateColor(c.Participant.Color); err != nil {
			return fmt.Errorf("participant.color: %w", err)
		}
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
	}
	if c.WebRTC.GatherTimeout <= 0 {
		return fmt.Errorf("webrtc.gather_timeout must be > 0")
	}
	if c.WebRTC.MaxTokenLength <= 0 {
		return fmt.Errorf("webrtc.max_token_length must be > 0")
	}

	// Sync
	if c.Sync.CursorInterval < 0 {
		return fmt.Errorf("sync.cursor_interval must be >= 0")
	}
	if c.Sync.StreamAppendInterval < 0 {
		return fmt.Errorf("sync.stream_append_interval must be >= 0")
	}
	if c.Sync.QueueSize <= 0 {
		return fmt.Errorf("sync.queue_size must be > 0")
	}

	// Storage
	if c.Storage.BatchSize <= 0 {
		return fmt.Errorf("storage.batch_size must be > 0")
	}
	if c.Storage.FlushInterval <= 0 {
		return fmt.Errorf("storage.flush_interval must be > 0")
	}
	if c.Storage.WriteTimeout <= 0 {
		return fmt.Errorf("storage.write_timeout must be > 0")
	}
	if c.Storage.Retry.MaxAttempts < 1 {
		return fmt.Errorf("storage.retry.max_attempts must be >= 1")
	}
	if c.Storage.Retry.MaxAttempts > 1 && c.Storage.Retry.InitialDelay <= 0 {
		return fmt.Errorf("storage.retry.initial_delay must be > 0 when retrying")
	}
	if c.Storage.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("storage.breaker.failure_threshold must be >= 0")
	}
	if c.Storage.Breaker.FailureThreshold > 0 && c.Storage.Breaker.Timeout <= 0 {
		return fmt.Errorf("storage.breaker.timeout must be > 0 when the breaker is enabled")
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Dir == "" {
			return fmt.Errorf("backup.dir must not be empty when backup.enabled=true")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be > 0 when backup.enabled=true")
		}
	}
	if c.Backup.Keep < 0 {
		return fmt.Errorf("backup.keep must be >= 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Control
	if c.Control.AuthSecret != "" && c.Control.TokenTTL <= 0 {
		return fmt.Errorf("control.token_ttl must be > 0 when control.auth_secret is set")
	}
	if c.Control.RateLimit.Enabled {
		if c.Control.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("control.rate_limit.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.Control.RateLimit.Burst <= 0 {
			return fmt.Errorf("control.rate_limit.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Render
	if c.Render.PingInterval <= 0 {
		return fmt.Errorf("render.ping_interval must be > 0")
	}
	if c.Render.PongTimeout <= c.Render.PingInterval {
		return fmt.Errorf("render.pong_timeout must be > render.ping_interval")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.StaleAfter <= 0 {
		return fmt.Errorf("monitoring.stale_after must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = "127.0.0.1:8080"
	cfg.Server.PublicURL = "http://127.0.0.1:8080/join"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.WebRTC.ICEServers = []struct {
		URLs       []string `yaml:"urls"`
		Username   string   `yaml:"username,omitempty"`
		Credential string   `yaml:"credential,omitempty"`
	}{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
	cfg.WebRTC.GatherTimeout = 10 * time.Second
	cfg.WebRTC.MaxTokenLength = 64 * 1024

	cfg.Sync.CursorInterval = 50 * time.Millisecond
	cfg.Sync.StreamAppendInterval = 20 * time.Millisecond
	cfg.Sync.QueueSize = 1024

	cfg.Storage.BatchSize = 64
	cfg.Storage.FlushInterval = 500 * time.Millisecond
	cfg.Storage.WriteTimeout = 5 * time.Second
	cfg.Storage.Retry.MaxAttempts = 3
	cfg.Storage.Retry.InitialDelay = 50 * time.Millisecond
	cfg.Storage.Retry.MaxDelay = time.Second
	cfg.Storage.Breaker.FailureThreshold = 5
	cfg.Storage.Breaker.Timeout = 30 * time.Second

	cfg.Backup.Enabled = false
	cfg.Backup.Dir = "snapshots"
	cfg.Backup.Interval = 5 * time.Minute
	cfg.Backup.Keep = 12

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.ConnectAttempts = 3

	cfg.Control.TokenTTL = 24 * time.Hour
	cfg.Control.RateLimit.Enabled = true
	cfg.Control.RateLimit.RequestsPerSecond = 50
	cfg.Control.RateLimit.Burst = 100

	cfg.Render.PingInterval = 30 * time.Second
	cfg.Render.PongTimeout = 60 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.StaleAfter = 30 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0
	cfg.Tracing.Environment = "development"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	if addr := os.Getenv("PEERBOARD_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("PEERBOARD_PUBLIC_URL"); url != "" {
		c.Server.PublicURL = url
	}
	if room := os.Getenv("PEERBOARD_ROOM_ID"); room != "" {
		c.Room.ID = room
	}
	if name := os.Getenv("PEERBOARD_DISPLAY_NAME"); name != "" {
		c.Participant.DisplayName = name
	}
	if level := os.Getenv("PEERBOARD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("PEERBOARD_AUTH_SECRET"); secret != "" {
		c.Control.AuthSecret = secret
	}
	if addr := os.Getenv("PEERBOARD_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if v := os.Getenv("PEERBOARD_TRACING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PEERBOARD_TRACING_ENABLED: %w", err)
		}
		c.Tracing.Enabled = enabled
	}
	return nil
}
