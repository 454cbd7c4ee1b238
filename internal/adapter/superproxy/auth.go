package superproxy

import (
	"net"
	"net/http"

	"github.com/gobwas/glob"

	"proxybroker/internal/util"
)

// accessPolicy bundles an optional IP allow-list and an optional HTTP Basic
// credential map, evaluated independently for the proxy path and the admin
// path per spec.md §4.7.
type accessPolicy struct {
	allowedIPs        []glob.Glob
	basicAuth         map[string]string
	trustProxyHeaders bool
	trustedCIDRs      []*net.IPNet
}

func newAccessPolicy(allowedIPPatterns []string, basicAuth map[string]string, trustProxyHeaders bool, trustedCIDRPatterns []string) (accessPolicy, error) {
	pol := accessPolicy{basicAuth: basicAuth, trustProxyHeaders: trustProxyHeaders}
	for _, pattern := range allowedIPPatterns {
		g, err := glob.Compile(pattern, '.', ':')
		if err != nil {
			return accessPolicy{}, err
		}
		pol.allowedIPs = append(pol.allowedIPs, g)
	}
	cidrs, err := util.ParseTrustedCIDRs(trustedCIDRPatterns)
	if err != nil {
		return accessPolicy{}, err
	}
	pol.trustedCIDRs = cidrs
	return pol, nil
}

// allows reports whether r passes this policy's IP allow-list (if any is
// configured) and Basic auth (if any credential map is configured). An empty
// allow-list or credential map means "allow everything" for that dimension.
func (p accessPolicy) allows(r *http.Request) bool {
	if !p.ipAllowed(r) {
		return false
	}
	return p.authorized(r)
}

func (p accessPolicy) ipAllowed(r *http.Request) bool {
	if len(p.allowedIPs) == 0 {
		return true
	}
	ip := util.GetClientIP(r, p.trustProxyHeaders, p.trustedCIDRs)
	for _, g := range p.allowedIPs {
		if g.Match(ip) {
			return true
		}
	}
	return false
}

func (p accessPolicy) authorized(r *http.Request) bool {
	if len(p.basicAuth) == 0 {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	want, ok := p.basicAuth[user]
	return ok && want == pass
}

func (p accessPolicy) requiresAuth() bool {
	return len(p.basicAuth) > 0
}

// writeUnauthorized writes the 401 response the gateway returns for failed
// Basic auth, per spec.md §4.7's "wrong auth yields 401".
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm=superproxy`)
	w.WriteHeader(http.StatusUnauthorized)
}
