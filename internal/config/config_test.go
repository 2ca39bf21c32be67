package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is api",
			check:  func(c *Config) bool { return c.Mode == "api" },
			expect: "api",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
		{
			name:   "default node timeout is 3s",
			check:  func(c *Config) bool { return c.NodeTimeout() == 3*time.Second },
			expect: "3s",
		},
		{
			name:   "default registration cooldown is 10s",
			check:  func(c *Config) bool { return c.RegistrationCooldown() == 10*time.Second },
			expect: "10s",
		},
		{
			name:   "redis url with no password",
			check:  func(c *Config) bool { return c.RedisURL() == "redis://localhost:6379/0" },
			expect: "redis://localhost:6379/0",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestRedisURLWithPassword(t *testing.T) {
	cfg := &Config{RedisIP: "redis.internal:6379", RedisPassword: "secret"}
	want := "redis://:secret@redis.internal:6379/0"
	if got := cfg.RedisURL(); got != want {
		t.Errorf("RedisURL() = %q, want %q", got, want)
	}
}
