package domain

import (
	"fmt"
	"time"
)

// InsufficientProxiesError is returned by ProxyPool.Get when the pool cannot
// satisfy a selection request from the currently active set.
type InsufficientProxiesError struct {
	Requested int
	Available int
	Strategy  string
}

func (e *InsufficientProxiesError) Error() string {
	return fmt.Sprintf("insufficient proxies: requested %d, have %d available (strategy=%s)", e.Requested, e.Available, e.Strategy)
}

// MaxRetriesExceededError is returned by a brokered session once it has
// exhausted its retry budget without a classified success.
type MaxRetriesExceededError struct {
	Err       error
	RequestID string
	Attempts  int
	FailCount int
	RestCount int
	TargetURL string
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("proxy request [%s] exceeded %d attempts against %s (fail_count=%d, rest_count=%d): %v",
		e.RequestID, e.Attempts, e.TargetURL, e.FailCount, e.RestCount, e.Err)
}

func (e *MaxRetriesExceededError) Unwrap() error {
	return e.Err
}

// ProxyError wraps a failure that occurred while routing a single request
// through a specific proxy.
type ProxyError struct {
	Err        error
	RequestID  string
	ProxyKey   string
	TargetURL  string
	Method     string
	StatusCode int
	Latency    time.Duration
}

func (e *ProxyError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("proxy request failed [%s] %s %s via %s: HTTP %d after %v: %v",
			e.RequestID, e.Method, e.TargetURL, e.ProxyKey, e.StatusCode, e.Latency, e.Err)
	}
	return fmt.Sprintf("proxy request failed [%s] %s %s via %s: %v after %v",
		e.RequestID, e.Method, e.TargetURL, e.ProxyKey, e.Err, e.Latency)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// CheckError wraps a failure encountered while probing a proxy against a
// reference endpoint.
type CheckError struct {
	Err        error
	ProxyKey   string
	CheckURL   string
	StatusCode int
	Latency    time.Duration
}

func (e *CheckError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("check failed for %s against %s: HTTP %d after %v: %v", e.ProxyKey, e.CheckURL, e.StatusCode, e.Latency, e.Err)
	}
	return fmt.Sprintf("check failed for %s against %s: %v after %v", e.ProxyKey, e.CheckURL, e.Err, e.Latency)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// ScrapeError wraps a failure encountered while fetching or parsing a
// scraper's source listing.
type ScrapeError struct {
	Err    error
	Source string
	URL    string
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape failed for %s (%s): %v", e.Source, e.URL, e.Err)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// ConfigValidationError reports an invalid configuration value.
type ConfigValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s=%v: %s", e.Field, e.Value, e.Reason)
}

func NewProxyError(requestID, proxyKey, targetURL, method string, statusCode int, latency time.Duration, err error) *ProxyError {
	return &ProxyError{
		RequestID:  requestID,
		ProxyKey:   proxyKey,
		TargetURL:  targetURL,
		Method:     method,
		StatusCode: statusCode,
		Latency:    latency,
		Err:        err,
	}
}

func NewCheckError(proxyKey, checkURL string, statusCode int, latency time.Duration, err error) *CheckError {
	return &CheckError{
		ProxyKey:   proxyKey,
		CheckURL:   checkURL,
		StatusCode: statusCode,
		Latency:    latency,
		Err:        err,
	}
}
