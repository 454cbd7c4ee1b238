package checker

import "time"

// Config tunes the Checker's probing behaviour (spec.md §4.3).
type Config struct {
	PoolSize        int
	Timeout         time.Duration
	RetryCount      int
	RetryWait       time.Duration
	HTTPCheck       bool
	HTTPSCheck      bool
	HTTPSForceCheck bool
	Target          string // "httpbin" | "ipify"
	HistoryLength   int
}

func DefaultConfig() Config {
	return Config{
		PoolSize:        20,
		Timeout:         10 * time.Second,
		RetryCount:      1,
		RetryWait:       2 * time.Second,
		HTTPCheck:       true,
		HTTPSCheck:      true,
		HTTPSForceCheck: false,
		Target:          "httpbin",
		HistoryLength:   20,
	}
}
