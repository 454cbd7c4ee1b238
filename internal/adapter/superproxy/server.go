// Package superproxy implements the gateway (C7): an HTTP server that acts
// as a forward proxy for absolute-URI requests, brokering them through
// ports.Session, while routing everything else to a small set of admin JSON
// endpoints - spec.md §4.7/§6. Grounded on the teacher's app.startWebServer
// (a plain http.ServeMux, no router framework) since the forward-proxy
// decoding needs direct access to the request line, which a mux-style
// router awkwardly obscures.
package superproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"proxybroker/internal/config"
	"proxybroker/internal/core/ports"
	"proxybroker/internal/logger"
)

// Server is the forward-proxy + admin gateway.
type Server struct {
	cfg     config.SuperproxyConfig
	broker  config.BrokerConfig
	pool    ports.ProxyPool
	session ports.Session
	checker ports.Checker
	fetcher ports.Fetcher
	log     *logger.StyledLogger

	proxyPolicy accessPolicy
	adminPolicy accessPolicy

	httpServer *http.Server
}

// New constructs a Server. fetcher/checker may be nil - the corresponding
// admin actions and /status booleans degrade gracefully.
func New(cfg config.SuperproxyConfig, broker config.BrokerConfig, pool ports.ProxyPool, session ports.Session, checker ports.Checker, fetcher ports.Fetcher, log *logger.StyledLogger) (*Server, error) {
	proxyPolicy, err := newAccessPolicy(cfg.AllowedIPs, cfg.BasicAuth, cfg.TrustProxyHeaders, cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("superproxy: proxy access policy: %w", err)
	}
	adminPolicy, err := newAccessPolicy(cfg.AdminAllowedIPs, cfg.AdminBasicAuth, cfg.TrustProxyHeaders, cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("superproxy: admin access policy: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		broker:      broker,
		pool:        pool,
		session:     session,
		checker:     checker,
		fetcher:     fetcher,
		log:         log,
		proxyPolicy: proxyPolicy,
		adminPolicy: adminPolicy,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/superproxy/", s.handleShell)
	mux.HandleFunc("/status", s.requireAdmin(s.handleStatus))
	mux.HandleFunc("/countries", s.requireAdmin(s.handleCountries))
	mux.HandleFunc("/proxies", s.requireAdmin(s.handleProxies))
	mux.HandleFunc("/waiting", s.requireAdmin(s.handleWaiting))
	mux.HandleFunc("/history", s.requireAdmin(s.handleHistory))
	mux.HandleFunc("/action", s.requireAdmin(s.handleActionPost))
}

func (s *Server) handleActionPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.handleAction(w, r)
}

// requireAdmin wraps an admin handler with the admin access policy.
func (s *Server) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.adminPolicy.ipAllowed(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if !s.adminPolicy.authorized(r) {
			writeUnauthorized(w)
			return
		}
		h(w, r)
	}
}

// handleRoot is net/http's single entry point for both absolute-URI forward
// requests and the `/`/`/superproxy` redirect, since ServeMux only ever
// dispatches here for any path it doesn't have a more specific pattern for.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" || r.URL.Path == "/superproxy" {
		http.Redirect(w, r, "/superproxy/", http.StatusFound)
		return
	}
	if isAbsoluteProxyRequest(r) {
		s.handleProxyRequest(w, r)
		return
	}
	http.NotFound(w, r)
}

// isAbsoluteProxyRequest reports whether r arrived as a forward-proxy style
// absolute-URI request - net/http already parses the request line's
// scheme+host into r.URL for us, so "does the path start with /" (the
// original's framing, evaluated against the raw request line) becomes "does
// the request carry a host in its URL".
func isAbsoluteProxyRequest(r *http.Request) bool {
	return r.URL.IsAbs() || r.URL.Host != ""
}

// handleShell serves the HTML admin shell placeholder - a full frontend is
// out of scope, per spec.md §1.
func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, "<html><body><h1>proxybroker superproxy</h1><p>Admin JSON is under /status, /proxies, /history, /waiting, /countries.</p></body></html>")
}

// handleProxyRequest brokers an absolute-URI request through the Session,
// per spec.md §4.7's brokering translation.
func (s *Server) handleProxyRequest(w http.ResponseWriter, r *http.Request) {
	if !s.proxyPolicy.ipAllowed(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if !s.proxyPolicy.authorized(r) {
		writeUnauthorized(w)
		return
	}

	outReq, err := s.buildOutboundRequest(r)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	sopts := decodePolicy(r.Header)
	applyBrokerDefaults(&sopts, s.broker)

	resp, proxy, stats, err := s.session.Do(r.Context(), outReq, sopts)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	copyResponseHeaders(w.Header(), resp.Header)
	setProxyResponseHeaders(w.Header(), proxy, stats)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (s *Server) buildOutboundRequest(r *http.Request) (*http.Request, error) {
	targetURL := r.URL.String()
	if !r.URL.IsAbs() {
		targetURL = "http://" + r.Host + r.URL.RequestURI()
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, r.Body)
	if err != nil {
		return nil, err
	}
	outReq.Header = make(http.Header)
	copyUpstreamHeaders(outReq.Header, r.Header)
	outReq.ContentLength = r.ContentLength
	return outReq, nil
}

func applyBrokerDefaults(opts *ports.SessionOptions, cfg config.BrokerConfig) {
	if opts.Strategy == "" {
		opts.Strategy = cfg.Strategy
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = cfg.RequestTimeout
	}
	if opts.Wait <= 0 {
		opts.Wait = cfg.Wait
	}
	if !opts.AllowNoProxy {
		opts.AllowNoProxy = cfg.AllowNoProxy
	}
	if opts.SuccessTimeout <= 0 {
		opts.SuccessTimeout = cfg.SuccessTimeout
	}
	if opts.FailTimeout <= 0 {
		opts.FailTimeout = cfg.FailTimeout
	}
	if opts.RestTimeout <= 0 {
		opts.RestTimeout = cfg.RestTimeout
	}
}

// Start binds and serves until the context is cancelled, then shuts down
// gracefully within cfg.ShutdownTimeout - the CLI's SIGINT/SIGTERM/SIGQUIT
// handling per spec.md §6.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if s.log != nil {
			s.log.Info("superproxy: listening", "addr", s.httpServer.Addr)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
