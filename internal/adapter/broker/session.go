// Package broker implements the brokered HTTP Session (C6): it selects a
// proxy from the Pool, issues the caller's request through it, classifies
// the outcome against the configured Matchers, reports that outcome back
// to the Pool, and retries through a different proxy on failure - the
// request-routing loop spec.md §4.6 describes. The retry/backoff shape is
// grounded on the teacher's proxy/core/retry.go attempt loop.
package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"proxybroker/internal/adapter/dialer"
	"proxybroker/internal/core/domain"
	"proxybroker/internal/core/ports"
)

// Options tunes defaults applied when a caller's SessionOptions omits them.
type Options struct {
	DialTimeout    time.Duration
	DefaultTimeout time.Duration
	DefaultRetries int
	// MaxBodyPeek bounds how much of a response body is buffered in memory
	// to evaluate Text/TextNot matcher clauses. Responses are otherwise
	// streamed back to the caller untouched.
	MaxBodyPeek int64
}

func DefaultOptions() Options {
	return Options{
		DialTimeout:    10 * time.Second,
		DefaultTimeout: 30 * time.Second,
		DefaultRetries: 3,
		MaxBodyPeek:    64 * 1024,
	}
}

// Session satisfies ports.Session.
type Session struct {
	pool ports.ProxyPool
	opts Options
}

func New(pool ports.ProxyPool, opts Options) *Session {
	return &Session{pool: pool, opts: opts}
}

// outcome classifies one completed attempt against a proxy.
type outcome int

const (
	outcomeFail outcome = iota
	outcomeSuccess
	outcomeRest
)

// Do issues req through a Pool-selected proxy, retrying through a fresh
// proxy on classified failure up to sopts.MaxRetries times. The returned
// ports.CallStats is scoped to this one call: it counts only the fail/rest
// outcomes this Do observed, never the proxy's lifetime totals (spec.md
// §4.6 step 4, §7).
func (s *Session) Do(ctx context.Context, req *http.Request, sopts ports.SessionOptions) (*http.Response, *domain.Proxy, ports.CallStats, error) {
	timeout := sopts.Timeout
	if timeout <= 0 {
		timeout = s.opts.DefaultTimeout
	}
	maxRetries := sopts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.opts.DefaultRetries
	}
	requestID := sopts.RequestIdent
	if requestID == "" {
		requestID = uuid.NewString()
	}

	wait := sopts.Wait
	if wait <= 0 {
		wait = timeout
	}

	excluded := append([]string(nil), sopts.Exclude...)
	var lastErr error
	var stats ports.CallStats

	for attempt := 0; attempt < maxRetries; attempt++ {
		proxy, perr := s.pool.Get(ctx, ports.GetOptions{
			Strategy:     sopts.Strategy,
			Persist:      sopts.Persist,
			Wait:         wait,
			RequestIdent: requestID,
			Exclude:      excluded,
			Filters:      sopts.Filters,
		})
		if perr != nil {
			if sopts.AllowNoProxy {
				resp, proxy, err := s.direct(ctx, req, timeout)
				return resp, proxy, stats, err
			}
			lastErr = perr
			break
		}

		resp, result, attemptErr := s.attempt(ctx, req, proxy, timeout, sopts)
		switch result {
		case outcomeSuccess:
			s.pool.Success(proxy, sopts.SuccessTimeout, resp, requestID)
			return resp, proxy, stats, nil
		case outcomeRest:
			stats.RestCount++
			if err := s.pool.Rest(proxy, restTimeout(sopts.RestTimeout), resp, requestID); err != nil {
				lastErr = err
			}
			drainAndClose(resp)
		default:
			stats.FailCount++
			s.pool.Fail(proxy, sopts.FailTimeout, attemptErr, resp, requestID)
			drainAndClose(resp)
		}

		excluded = append(excluded, proxy.Key())
		if attemptErr != nil {
			lastErr = domain.NewProxyError(requestID, proxy.Key(), req.URL.String(), req.Method, statusOf(resp), 0, attemptErr)
		}
	}

	return nil, nil, stats, &domain.MaxRetriesExceededError{
		Err:       lastErr,
		RequestID: requestID,
		Attempts:  maxRetries,
		FailCount: stats.FailCount,
		RestCount: stats.RestCount,
		TargetURL: req.URL.String(),
	}
}

// attempt runs a single proxied try and classifies the result.
func (s *Session) attempt(ctx context.Context, req *http.Request, p *domain.Proxy, timeout time.Duration, sopts ports.SessionOptions) (*http.Response, outcome, error) {
	p.MarkUsed()

	dt := dialer.PreferredType(p)
	tr, err := dialer.Build(p, dt, dialer.Options{DialTimeout: s.opts.DialTimeout})
	if err != nil {
		return nil, outcomeFail, err
	}

	client := &http.Client{Transport: tr, Timeout: timeout}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outReq := req.Clone(attemptCtx)
	resp, err := client.Do(outReq)
	if err != nil {
		return nil, outcomeFail, err
	}

	body := peekBody(resp, s.needsBodyPeek(sopts), s.opts.MaxBodyPeek)

	result := classify(resp.StatusCode, resp.Header, body, sopts)
	if result == outcomeFail && err == nil {
		err = fmt.Errorf("classified as failure: status %d", resp.StatusCode)
	}
	return resp, result, err
}

// peekBody reads up to maxPeek bytes of the body for matcher evaluation and
// re-attaches the drained-plus-remaining stream so the caller still
// receives the whole, untouched response.
func peekBody(resp *http.Response, need bool, maxPeek int64) []byte {
	if !need || resp.Body == nil {
		return nil
	}
	peeked, err := io.ReadAll(io.LimitReader(resp.Body, maxPeek))
	if err != nil {
		return nil
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{
		Reader: io.MultiReader(bytes.NewReader(peeked), resp.Body),
		Closer: resp.Body,
	}
	return peeked
}

func (s *Session) needsBodyPeek(sopts ports.SessionOptions) bool {
	return hasTextClause(sopts.SuccessResponse) || hasTextClause(sopts.FailResponse) || hasTextClause(sopts.RestResponse)
}

func hasTextClause(m *domain.Matcher) bool {
	return m != nil && (len(m.Text) > 0 || len(m.TextNot) > 0)
}

// classify applies the caller's matchers in rest/fail/success priority, per
// spec.md §4.6's classification order: rest takes precedence, a reply that
// matches both success and fail is treated as fail (spec.md §9 OQ-c), and
// with no matcher configured at all the default 2xx-is-success rule
// applies.
func classify(status int, header http.Header, body []byte, sopts ports.SessionOptions) outcome {
	if !sopts.RestResponse.IsZero() && sopts.RestResponse.Match(status, header, body) {
		return outcomeRest
	}

	failConfigured := !sopts.FailResponse.IsZero()
	successConfigured := !sopts.SuccessResponse.IsZero()
	failMatches := failConfigured && sopts.FailResponse.Match(status, header, body)

	if failMatches {
		return outcomeFail
	}
	if successConfigured {
		if sopts.SuccessResponse.Match(status, header, body) {
			return outcomeSuccess
		}
		return outcomeFail
	}
	if !failConfigured {
		if status >= 200 && status < 300 {
			return outcomeSuccess
		}
		return outcomeFail
	}
	// Only fail_response is configured and it didn't match: fall back to
	// the default status-code rule.
	if status >= 200 && status < 300 {
		return outcomeSuccess
	}
	return outcomeFail
}

// direct issues req without a proxy, used when the caller set AllowNoProxy
// and the Pool has nothing available.
func (s *Session) direct(ctx context.Context, req *http.Request, timeout time.Duration) (*http.Response, *domain.Proxy, error) {
	client := &http.Client{Timeout: timeout}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := client.Do(req.Clone(attemptCtx))
	if err != nil {
		return nil, nil, err
	}
	return resp, nil, nil
}

func restTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
