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

// NameFreeProxyList is the source name free-proxy-list.net scrapes under.
const NameFreeProxyList = "freeproxylist"

const freeProxyListURL = "https://free-proxy-list.net"

var freeProxyListAnonymity = map[string]domain.Anonymity{
	"elite proxy": domain.AnonymityHigh,
	"anonymous":   domain.AnonymityAnonymous,
	"transparent": domain.AnonymityTransparent,
}

// freeProxyListScraper parses free-proxy-list.net's single HTML table,
// grounded on FreeProxyListNet.worker/_parse_proxy_row.
type freeProxyListScraper struct {
	sess *session
}

func newFreeProxyListScraper(opts SessionOptions) ports.Scraper {
	return &freeProxyListScraper{sess: newSession(opts)}
}

func (s *freeProxyListScraper) Name() string { return NameFreeProxyList }

func (s *freeProxyListScraper) Worker(ctx context.Context, emit func(*domain.Proxy)) error {
	body, err := s.sess.get(ctx, freeProxyListURL)
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
		if p, ok := parseFreeProxyListRow(tr); ok {
			emit(p)
		}
	})
	return nil
}

// parseFreeProxyListRow reads one <tr>: IP, Port, Code, Country, Anonymity,
// Google, Https, Last Checked - the column order _parse_proxy_row relies on.
func parseFreeProxyListRow(tr *goquery.Selection) (*domain.Proxy, bool) {
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

	p := domain.NewProxy(ip, port, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)

	if https := strings.TrimSpace(strings.ToLower(cells.Eq(6).Text())); https == "yes" {
		p.AddType(domain.ProxyTypeHTTPS)
	}

	if anon, ok := freeProxyListAnonymity[strings.ToLower(strings.TrimSpace(cells.Eq(4).Text()))]; ok {
		p.Anonymity = anon
	}

	if country := strings.TrimSpace(cells.Eq(2).Text()); country != "" && country != "Unknown" {
		p.Country = country
	}

	stampAge(p, cells.Eq(7).Text())
	return p, true
}

// stampAge backdates p.AddedAt by the source-reported "last seen good"
// duration, giving PostFilter.MaxAge something meaningful to compare
// against since scraped candidates have no check history of their own yet.
func stampAge(p *domain.Proxy, reported string) {
	if age, ok := parseRelativeAge(reported); ok {
		p.AddedAt = p.AddedAt.Add(-age)
	}
}
