// Package config holds the YAML-backed configuration for the three CLI
// subcommands (fetcher, superproxy, checker), loaded the teacher's way:
// viper for file + env binding, fsnotify-driven hot reload for the
// long-running superproxy process.
package config

import "time"

// Config holds all configuration for the proxybroker binary. Not every
// subcommand uses every section: fetcher reads Scrape+Checker+Pool,
// checker reads Checker+Pool, superproxy reads all of it.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Pool      PoolConfig      `yaml:"pool"`
	Checker   CheckerConfig   `yaml:"checker"`
	Scrape    ScrapeConfig    `yaml:"scrape"`
	Broker    BrokerConfig    `yaml:"broker"`
	Superproxy SuperproxyConfig `yaml:"superproxy"`
	Engineering EngineeringConfig `yaml:"engineering"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineeringConfig holds development/debugging configuration
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats"`
}

// PoolConfig tunes ProxyPool lifecycle thresholds (spec.md §4.2/§9).
type PoolConfig struct {
	MaxSimultaneous  int           `yaml:"max_simultaneous"`
	MaxFail          int           `yaml:"max_fail"`
	UpdateInterval   time.Duration `yaml:"update_interval"`
	RecheckTimeout   time.Duration `yaml:"recheck_timeout"`
	PoolManagerIdle  time.Duration `yaml:"pool_manager_idle"`
	BlacklistTimeout time.Duration `yaml:"blacklist_timeout"`
	MinActiveSize    int           `yaml:"min_active_size"`
	HistoryEnabled   bool          `yaml:"history_enabled"`
	SnapshotPath     string        `yaml:"snapshot_path"`
}

// CheckerConfig tunes the Checker (spec.md §4.3).
type CheckerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	PoolSize         int           `yaml:"pool_size"`
	Timeout          time.Duration `yaml:"timeout"`
	RetryCount       int           `yaml:"retry_count"`
	RetryWait        time.Duration `yaml:"retry_wait"`
	HTTPCheck        bool          `yaml:"http_check"`
	HTTPSCheck       bool          `yaml:"https_check"`
	HTTPSForceCheck  bool          `yaml:"https_force_check"`
	Target           string        `yaml:"target"` // "httpbin" | "ipify"
	HistoryLength    int           `yaml:"history_length"`
}

// ScrapeConfig drives the Fetcher orchestrator (spec.md §4.4/§4.5).
type ScrapeConfig struct {
	Sources          []string      `yaml:"sources"` // scraper names, or ["*"]
	Concurrency      int           `yaml:"concurrency"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	RequestWait      time.Duration `yaml:"request_wait"` // per-scraper throttle
	RetryCount       int           `yaml:"retry_count"`
	Countries        []string      `yaml:"countries"`         // allow-list, empty = all
	Anonymities      []string      `yaml:"anonymities"`       // allow-list, empty = all
	Types            []string      `yaml:"types"`             // allow-list, empty = all
	SuccessDelta     time.Duration `yaml:"success_delta"`     // freshness window, 0 = no filter
}

// BrokerConfig configures the brokered HTTP session's default knobs
// (spec.md §4.6), overridable per-request via X-Superproxy-* headers.
type BrokerConfig struct {
	Strategy        string        `yaml:"strategy"` // RANDOM | FASTEST
	MaxRetries      int           `yaml:"max_retries"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	Wait            time.Duration `yaml:"wait"`
	AllowNoProxy    bool          `yaml:"allow_no_proxy"`
	SuccessTimeout  time.Duration `yaml:"success_timeout"`
	FailTimeout     time.Duration `yaml:"fail_timeout"`
	RestTimeout     time.Duration `yaml:"rest_timeout"`
}

// SuperproxyConfig configures the forward-proxy gateway (spec.md §4.7).
type SuperproxyConfig struct {
	Host            string            `yaml:"host"`
	Port            int               `yaml:"port"`
	ReadTimeout     time.Duration     `yaml:"read_timeout"`
	WriteTimeout    time.Duration     `yaml:"write_timeout"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	AllowedIPs      []string          `yaml:"allowed_ips"`       // glob patterns, empty = allow all
	AdminAllowedIPs []string          `yaml:"admin_allowed_ips"` // glob patterns, empty = allow all
	BasicAuth       map[string]string `yaml:"basic_auth"`        // username -> password
	AdminBasicAuth  map[string]string `yaml:"admin_basic_auth"`  // username -> password, independent of proxy auth

	// TrustProxyHeaders and TrustedProxyCIDRs control how the gateway
	// resolves a caller's IP for the access-policy checks above when it
	// itself sits behind a load balancer or reverse proxy: only a
	// X-Forwarded-For/X-Real-IP value reported by a trusted CIDR is honoured.
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`
}
