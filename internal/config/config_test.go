package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Superproxy.Host != DefaultSuperproxyHost {
		t.Errorf("expected host %s, got %s", DefaultSuperproxyHost, cfg.Superproxy.Host)
	}
	if cfg.Superproxy.Port != DefaultSuperproxyPort {
		t.Errorf("expected port %d, got %d", DefaultSuperproxyPort, cfg.Superproxy.Port)
	}
	if cfg.Pool.MaxSimultaneous != 4 {
		t.Errorf("expected max_simultaneous 4, got %d", cfg.Pool.MaxSimultaneous)
	}
	if cfg.Broker.Strategy != "RANDOM" {
		t.Errorf("expected strategy RANDOM, got %s", cfg.Broker.Strategy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	cfg, err := Load("", nil, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Superproxy.Port != DefaultSuperproxyPort {
		t.Errorf("expected default port %d, got %d", DefaultSuperproxyPort, cfg.Superproxy.Port)
	}
}

func TestLoadConfig_WithEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"PROXYBROKER_SUPERPROXY_PORT": "9090",
		"PROXYBROKER_LOGGING_LEVEL":   "debug",
	}
	for k, v := range testEnvVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range testEnvVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := Load("", nil, nil)
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}
	if cfg.Superproxy.Port != 9090 {
		t.Errorf("expected port 9090 from env var, got %d", cfg.Superproxy.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug from env var, got %s", cfg.Logging.Level)
	}
}

func TestApplyOverride(t *testing.T) {
	testCases := []struct {
		name    string
		kv      string
		check   func(*Config) bool
		wantErr bool
	}{
		{"port", "superproxy.port=1234", func(c *Config) bool { return c.Superproxy.Port == 1234 }, false},
		{"strategy", "broker.strategy=fastest", func(c *Config) bool { return c.Broker.Strategy == "FASTEST" }, false},
		{"allow_no_proxy", "broker.allow_no_proxy=true", func(c *Config) bool { return c.Broker.AllowNoProxy }, false},
		{"sources", "scrape.sources=a,b,c", func(c *Config) bool { return len(c.Scrape.Sources) == 3 }, false},
		{"malformed", "no-equals-sign", nil, true},
		{"unknown key", "nonexistent.key=1", nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			err := applyOverride(cfg, tc.kv)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for override %q", tc.kv)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.check(cfg) {
				t.Errorf("override %q did not take effect", tc.kv)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default is valid", func(c *Config) {}, false},
		{"zero max_simultaneous", func(c *Config) { c.Pool.MaxSimultaneous = 0 }, true},
		{"zero max_fail", func(c *Config) { c.Pool.MaxFail = 0 }, true},
		{"checker enabled, zero pool size", func(c *Config) {
			c.Checker.Enabled = true
			c.Checker.PoolSize = 0
		}, true},
		{"checker disabled, zero pool size is fine", func(c *Config) {
			c.Checker.Enabled = false
			c.Checker.PoolSize = 0
		}, false},
		{"port out of range", func(c *Config) { c.Superproxy.Port = 70000 }, true},
		{"bad strategy", func(c *Config) { c.Broker.Strategy = "SLOWEST" }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Errorf("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestConfigFileExists(t *testing.T) {
	if configFileExists("") {
		t.Error("empty path should not exist")
	}
	if configFileExists("/definitely/not/a/real/path.yaml") {
		t.Error("nonexistent path should not exist")
	}
	f, err := os.CreateTemp("", "proxybroker-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	f.Close()
	if !configFileExists(f.Name()) {
		t.Error("existing temp file should exist")
	}
}

func TestDefaultConfigBlacklistTimeout(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Pool.BlacklistTimeout != 24*time.Hour {
		t.Errorf("expected 24h blacklist timeout, got %v", cfg.Pool.BlacklistTimeout)
	}
}
