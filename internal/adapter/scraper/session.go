package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"proxybroker/internal/logger"
)

// userAgents rotates a small pool of realistic desktop browser strings,
// grounded on proxyfetcher.py's random User-Agent selection - listing sites
// are quick to rate-limit or serve a CAPTCHA page to an obvious bot string.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// SessionOptions tunes the shared HTTP session every concrete scraper is
// built from (spec.md §4.4): timeout, retry-on-status and a per-source rate
// limiter so a misbehaving source can't be hammered by a tight retry loop.
type SessionOptions struct {
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryStatus  map[int]struct{}
	RateLimit    rate.Limit // requests per second, 0 disables limiting
	RateBurst    int
	Log          *logger.StyledLogger
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Timeout:     20 * time.Second,
		RetryCount:  2,
		RetryWait:   1500 * time.Millisecond,
		RetryStatus: map[int]struct{}{429: {}, 503: {}},
		RateLimit:   rate.Limit(1),
		RateBurst:   2,
	}
}

// session is the shared fetch helper every concrete scraper composes:
// rotating User-Agent, bounded body size, retry on transient status codes
// and an optional token-bucket limiter bounding request rate to one source.
type session struct {
	opts    SessionOptions
	client  *http.Client
	limiter *rate.Limiter
	uaIdx   int
}

const maxListingBody = 8 * 1024 * 1024

func newSession(opts SessionOptions) *session {
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return &session{
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: limiter,
	}
}

// get fetches url with retry on network errors or a RetryStatus code,
// returning the response body with its size bounded by maxListingBody.
func (s *session) get(ctx context.Context, url string) ([]byte, error) {
	return s.fetch(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	})
}

// post submits a urlencoded form to url with retry, used by the spys.one
// scraper's per-country listing request.
func (s *session) post(ctx context.Context, url string, form neturl.Values, referer string) ([]byte, error) {
	return s.fetch(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if referer != "" {
			req.Header.Set("Referer", referer)
		}
		return req, nil
	})
}

func (s *session) fetch(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.opts.RetryWait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, retryable, err := s.attempt(ctx, build)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *session) attempt(ctx context.Context, build func() (*http.Request, error)) (body []byte, retryable bool, err error) {
	req, err := build()
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", s.nextUserAgent())
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		_, retry := s.opts.RetryStatus[resp.StatusCode]
		return nil, retry, fmt.Errorf("scraper: unexpected status %d fetching %s", resp.StatusCode, req.URL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBody))
	if err != nil {
		return nil, true, err
	}
	return data, false, nil
}

func (s *session) nextUserAgent() string {
	ua := userAgents[s.uaIdx%len(userAgents)]
	s.uaIdx++
	return ua
}
