package scraper

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"proxybroker/internal/core/domain"
	"proxybroker/internal/core/ports"
)

// NameSocksProxyNet is the source name socks-proxy.net scrapes under.
const NameSocksProxyNet = "socksproxynet"

const socksProxyNetURL = "https://socks-proxy.net"

var socksProxyNetTypes = map[string]domain.ProxyType{
	"socks4": domain.ProxyTypeSOCKS4,
	"socks5": domain.ProxyTypeSOCKS5,
}

// socksProxyNetScraper parses socks-proxy.net's table, which shares
// free-proxy-list.net's row layout (same underlying site template) but
// carries a SOCKS4/SOCKS5 version in the fifth cell, where
// free-proxy-list.net has its anonymity column. No anonymity cell is read:
// every proxy is recorded as high anonymity. This matches SocksProxyNet's
// subclassing of FreeProxyListNet in the original.
type socksProxyNetScraper struct {
	sess *session
}

func newSocksProxyNetScraper(opts SessionOptions) ports.Scraper {
	return &socksProxyNetScraper{sess: newSession(opts)}
}

func (s *socksProxyNetScraper) Name() string { return NameSocksProxyNet }

func (s *socksProxyNetScraper) Worker(ctx context.Context, emit func(*domain.Proxy)) error {
	body, err := s.sess.get(ctx, socksProxyNetURL)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Name(), err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: parse html: %w", s.Name(), err)
	}

	rows := doc.Find("table#proxylisttable tbody tr")
	if rows.Length() == 0 {
		return fmt.Errorf("%s: no proxy rows found, layout may have changed", s.Name())
	}

	rows.Each(func(_ int, tr *goquery.Selection) {
		if p, ok := parseSocksProxyNetRow(tr); ok {
			emit(p)
		}
	})
	return nil
}

func parseSocksProxyNetRow(tr *goquery.Selection) (*domain.Proxy, bool) {
	cells := tr.Find("td")
	if cells.Length() < 8 {
		return nil, false
	}

	ip := strings.TrimSpace(cells.Eq(0).Text())
	portStr := strings.TrimSpace(cells.Eq(1).Text())
	port, err := strconv.Atoi(portStr)
	if err != nil || ip == "" {
		return nil, false
	}

	t, ok := socksProxyNetTypes[strings.ToLower(strings.TrimSpace(cells.Eq(4).Text()))]
	if !ok {
		return nil, false
	}

	p := domain.NewProxy(ip, port, t, domain.AnonymityHigh)

	if country := strings.TrimSpace(cells.Eq(2).Text()); country != "" && country != "Unknown" {
		p.Country = country
	}

	stampAge(p, cells.Eq(7).Text())
	return p, true
}
