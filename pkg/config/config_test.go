package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_RateLimitDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Control.RateLimit.Enabled = false
	cfg.Control.RateLimit.RequestsPerSecond = 0
	cfg.Control.RateLimit.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "server address must not be empty",
			mutate: func(c *Config) { c.Server.Address = "" },
		},
		{
			name:   "public url must be http(s)",
			mutate: func(c *Config) { c.Server.PublicURL = "board.local/join" },
		},
		{
			name:   "room id must be url safe",
			mutate: func(c *Config) { c.Room.ID = "calm board" },
		},
		{
			name:   "participant color must be hex",
			mutate: func(c *Config) { c.Participant.Color = "green" },
		},
		{
			name: "port range min must be < max",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 6000
				c.WebRTC.PortRange.Max = 5000
			},
		},
		{
			name:   "port range needs both bounds",
			mutate: func(c *Config) { c.WebRTC.PortRange.Min = 5000 },
		},
		{
			name: "ice server needs urls",
			mutate: func(c *Config) {
				c.WebRTC.ICEServers[0].URLs = nil
			},
		},
		{
			name:   "gather timeout must be > 0",
			mutate: func(c *Config) { c.WebRTC.GatherTimeout = 0 },
		},
		{
			name:   "cursor interval must be >= 0",
			mutate: func(c *Config) { c.Sync.CursorInterval = -time.Millisecond },
		},
		{
			name:   "queue size must be > 0",
			mutate: func(c *Config) { c.Sync.QueueSize = 0 },
		},
		{
			name:   "batch size must be > 0",
			mutate: func(c *Config) { c.Storage.BatchSize = 0 },
		},
		{
			name:   "retry attempts must be >= 1",
			mutate: func(c *Config) { c.Storage.Retry.MaxAttempts = 0 },
		},
		{
			name: "backup dir required when enabled",
			mutate: func(c *Config) {
				c.Backup.Enabled = true
				c.Backup.Dir = ""
			},
		},
		{
			name:   "backup keep must be >= 0",
			mutate: func(c *Config) { c.Backup.Keep = -1 },
		},
		{
			name: "breaker timeout required when enabled",
			mutate: func(c *Config) {
				c.Storage.Breaker.FailureThreshold = 3
				c.Storage.Breaker.Timeout = 0
			},
		},
		{
			name: "redis address required when enabled",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
		{
			name: "token ttl required with auth secret",
			mutate: func(c *Config) {
				c.Control.AuthSecret = "secret"
				c.Control.TokenTTL = 0
			},
		},
		{
			name:   "rate limit rps must be > 0",
			mutate: func(c *Config) { c.Control.RateLimit.RequestsPerSecond = 0 },
		},
		{
			name:   "rate limit burst must be > 0",
			mutate: func(c *Config) { c.Control.RateLimit.Burst = 0 },
		},
		{
			name:   "pong timeout must exceed ping interval",
			mutate: func(c *Config) { c.Render.PongTimeout = c.Render.PingInterval },
		},
		{
			name:   "stale window must be > 0",
			mutate: func(c *Config) { c.Monitoring.StaleAfter = 0 },
		},
		{
			name: "sample rate within bounds",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
		{
			name:   "log level must not be empty",
			mutate: func(c *Config) { c.Logging.Level = "" },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sync.CursorInterval != 50*time.Millisecond {
		t.Fatalf("expected default cursor interval, got %v", cfg.Sync.CursorInterval)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
room:
  id: calm-board-1
participant:
  display_name: Alice
sync:
  cursor_interval: 100ms
storage:
  batch_size: 8
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PEERBOARD_LOG_LEVEL", "debug")
	t.Setenv("PEERBOARD_ROOM_ID", "warm-team-7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Room.ID != "warm-team-7" {
		t.Fatalf("expected env room id, got %q", cfg.Room.ID)
	}
	if cfg.Participant.DisplayName != "Alice" {
		t.Fatalf("expected display name from file, got %q", cfg.Participant.DisplayName)
	}
	if cfg.Sync.CursorInterval != 100*time.Millisecond {
		t.Fatalf("expected cursor interval from file, got %v", cfg.Sync.CursorInterval)
	}
	if cfg.Storage.BatchSize != 8 {
		t.Fatalf("expected batch size 8, got %d", cfg.Storage.BatchSize)
	}
	if cfg.Sync.StreamAppendInterval != 20*time.Millisecond {
		t.Fatalf("expected default stream interval to survive, got %v", cfg.Sync.StreamAppendInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env log level, got %q", cfg.Logging.Level)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  batch_size: 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error, got nil")
	}
}

func TestLoad_InvalidEnvBool(t *testing.T) {
	t.Setenv("PEERBOARD_TRACING_ENABLED", "sometimes")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for invalid bool, got nil")
	}
}
