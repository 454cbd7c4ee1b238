package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultSuperproxyPort = 8899
	DefaultSuperproxyHost = "0.0.0.0"

	DefaultFileWriteDelay = 150 * time.Millisecond // lets the writer finish before we re-read
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults, mirroring
// the defaults named across spec.md §4.2-§4.7.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Pool: PoolConfig{
			MaxSimultaneous:  4,
			MaxFail:          3,
			UpdateInterval:   30 * time.Second,
			RecheckTimeout:   10 * time.Minute,
			PoolManagerIdle:  5 * time.Minute,
			BlacklistTimeout: 24 * time.Hour,
			MinActiveSize:    10,
			HistoryEnabled:   true,
			SnapshotPath:     "./proxybroker-snapshot.json",
		},
		Checker: CheckerConfig{
			Enabled:         true,
			PoolSize:        20,
			Timeout:         10 * time.Second,
			RetryCount:      1,
			RetryWait:       2 * time.Second,
			HTTPCheck:       true,
			HTTPSCheck:      true,
			HTTPSForceCheck: false,
			Target:          "httpbin",
			HistoryLength:   20,
		},
		Scrape: ScrapeConfig{
			Sources:        []string{"*"},
			Concurrency:    8,
			RequestTimeout: 15 * time.Second,
			RequestWait:    500 * time.Millisecond,
			RetryCount:     2,
			SuccessDelta:   0,
		},
		Broker: BrokerConfig{
			Strategy:       "RANDOM",
			MaxRetries:     3,
			RequestTimeout: 10 * time.Second,
			Wait:           5 * time.Second,
			AllowNoProxy:   false,
			FailTimeout:    0,
			RestTimeout:    60 * time.Second,
		},
		Superproxy: SuperproxyConfig{
			Host:            DefaultSuperproxyHost,
			Port:            DefaultSuperproxyPort,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     0, // streaming responses may run long
			ShutdownTimeout:  10 * time.Second,
		},
		Engineering: EngineeringConfig{
			ShowNerdStats: false,
		},
	}
}

// Load loads configuration from file and environment variables. path, if
// non-empty, is the `-c`/`--config` flag's value; overrides are `-o
// key.path=value` strings applied after the file/env merge, matching
// spec.md §6's CLI surface.
func Load(path string, overrides []string, onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	// Binding the struct's keys lets AutomaticEnv reach Unmarshal even for
	// keys that appear in no config file.
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PROXYBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Decode by the yaml tags, so file keys and env names follow them
	// (pool.max_simultaneous, PROXYBROKER_POOL_MAX_SIMULTANEOUS).
	useYAMLTags := func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }
	if err := v.Unmarshal(cfg, useYAMLTags); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	for _, o := range overrides {
		if err := applyOverride(cfg, o); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if onConfigChange != nil {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // debounce rapid-fire fsnotify events
			}
			lastReload = now

			// some filesystems emit the write event before the file is
			// fully flushed
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// applyOverride applies a single "-o key.path=value" string onto cfg. Only
// the handful of scalar knobs operators actually need to override live here
// -- this is not a general reflection-based setter, matching the spec's
// instruction that override strings are a small, explicit mechanism.
func applyOverride(cfg *Config, override string) error {
	parts := strings.SplitN(override, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("config: malformed override %q, want key=value", override)
	}
	key, value := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	switch key {
	case "superproxy.port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: override %s: %w", key, err)
		}
		cfg.Superproxy.Port = n
	case "superproxy.host":
		cfg.Superproxy.Host = value
	case "pool.max_simultaneous":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: override %s: %w", key, err)
		}
		cfg.Pool.MaxSimultaneous = n
	case "pool.min_active_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: override %s: %w", key, err)
		}
		cfg.Pool.MinActiveSize = n
	case "broker.strategy":
		cfg.Broker.Strategy = strings.ToUpper(value)
	case "broker.allow_no_proxy":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: override %s: %w", key, err)
		}
		cfg.Broker.AllowNoProxy = b
	case "scrape.sources":
		cfg.Scrape.Sources = strings.Split(value, ",")
	case "logging.level":
		cfg.Logging.Level = value
	case "engineering.show_nerdstats":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: override %s: %w", key, err)
		}
		cfg.Engineering.ShowNerdStats = b
	default:
		return fmt.Errorf("config: unknown override key %q", key)
	}
	return nil
}

// Validate checks structural invariants that would otherwise surface as a
// confusing panic deep in the pool/checker/gateway instead of at startup.
func (c *Config) Validate() error {
	if c.Pool.MaxSimultaneous <= 0 {
		return fmt.Errorf("pool.max_simultaneous must be positive, got %d", c.Pool.MaxSimultaneous)
	}
	if c.Pool.MaxFail <= 0 {
		return fmt.Errorf("pool.max_fail must be positive, got %d", c.Pool.MaxFail)
	}
	if c.Checker.Enabled && c.Checker.PoolSize <= 0 {
		return fmt.Errorf("checker.pool_size must be positive when checker.enabled, got %d", c.Checker.PoolSize)
	}
	if c.Superproxy.Port <= 0 || c.Superproxy.Port > 65535 {
		return fmt.Errorf("superproxy.port out of range: %d", c.Superproxy.Port)
	}
	switch strings.ToUpper(c.Broker.Strategy) {
	case "RANDOM", "FASTEST":
	default:
		return fmt.Errorf("broker.strategy must be RANDOM or FASTEST, got %q", c.Broker.Strategy)
	}
	return nil
}

// configFileExists reports whether path names a readable file, used by the
// CLI layer to decide whether to pass an explicit config path to Load.
func configFileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
