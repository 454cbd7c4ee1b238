package scraper

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"proxybroker/internal/core/domain"
	"proxybroker/internal/core/ports"
)

// NameHideMyName is the source name hidemy.name scrapes under.
const NameHideMyName = "hidemyname"

const hideMyNameURL = "https://hidemy.name/en/proxy-list/"

// hideMyNamePageSize matches the `start` query step used by page_worker in
// the original (one page is 64 rows).
const hideMyNamePageSize = 64

// hideMyNameMaxPages bounds how many pages are fetched in total (the first
// page plus at most nine more, fetched concurrently), since the site's own pagination count can run into the hundreds and a
// scrape should not turn into an unbounded crawl.
const hideMyNameMaxPages = 10

var hideMyNameAnonymity = map[string]domain.Anonymity{
	"high":   domain.AnonymityHigh,
	"medium": domain.AnonymityAnonymous,
	"low":    domain.AnonymityAnonymous,
	"no":     domain.AnonymityTransparent,
}

var hideMyNameTypes = map[string]domain.ProxyType{
	"HTTP":   domain.ProxyTypeHTTP,
	"HTTPS":  domain.ProxyTypeHTTPS,
	"SOCKS4": domain.ProxyTypeSOCKS4,
	"SOCKS5": domain.ProxyTypeSOCKS5,
}

// hideMyNameScraper parses hidemy.name's paginated table, grounded on
// HidemyNameProxyFetcher.worker/page_worker/parse_proxies.
type hideMyNameScraper struct {
	sess *session
}

func newHideMyNameScraper(opts SessionOptions) ports.Scraper {
	return &hideMyNameScraper{sess: newSession(opts)}
}

func (s *hideMyNameScraper) Name() string { return NameHideMyName }

func (s *hideMyNameScraper) Worker(ctx context.Context, emit func(*domain.Proxy)) error {
	doc, err := s.fetchPage(ctx, hideMyNameURL)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Name(), err)
	}

	parseHideMyNameRows(doc, emit)

	pages := parseHideMyNamePageCount(doc)
	if pages > hideMyNameMaxPages {
		pages = hideMyNameMaxPages
	}

	var wg sync.WaitGroup
	for i := 1; i < pages; i++ {
		start := i * hideMyNamePageSize
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			pageDoc, err := s.fetchPage(ctx, fmt.Sprintf("%s?start=%d", hideMyNameURL, start))
			if err != nil {
				return
			}
			parseHideMyNameRows(pageDoc, emit)
		}(start)
	}
	wg.Wait()
	return nil
}

func (s *hideMyNameScraper) fetchPage(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := s.sess.get(ctx, url)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

func parseHideMyNamePageCount(doc *goquery.Document) int {
	last := doc.Find("div.proxy__pagination ul li").Last().Find("a").Text()
	last = strings.TrimSpace(last)
	n, err := strconv.Atoi(last)
	if err != nil {
		return 1
	}
	return n
}

func parseHideMyNameRows(doc *goquery.Document, emit func(*domain.Proxy)) {
	doc.Find("table.proxy__t tbody tr").Each(func(_ int, tr *goquery.Selection) {
		if p, ok := parseHideMyNameRow(tr); ok {
			emit(p)
		}
	})
}

func parseHideMyNameRow(tr *goquery.Selection) (*domain.Proxy, bool) {
	cells := tr.Find("td")
	if cells.Length() < 7 {
		return nil, false
	}

	ip := strings.TrimSpace(cells.Eq(0).Text())
	portStr := strings.TrimSpace(cells.Eq(1).Text())
	port, err := strconv.Atoi(portStr)
	if err != nil || ip == "" {
		return nil, false
	}

	typeNames := strings.Split(strings.ToUpper(strings.TrimSpace(cells.Eq(4).Text())), ",")
	var types []domain.ProxyType
	for _, name := range typeNames {
		if t, ok := hideMyNameTypes[strings.TrimSpace(name)]; ok {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		return nil, false
	}

	p := domain.NewProxy(ip, port, types[0], domain.AnonymityAnonymous)
	for _, t := range types[1:] {
		p.AddType(t)
	}

	country := parseHideMyNameCountry(cells.Eq(2))
	if country != "" {
		p.Country = country
	}

	if anon, ok := hideMyNameAnonymity[strings.ToLower(strings.TrimSpace(cells.Eq(5).Text()))]; ok {
		p.Anonymity = anon
	}

	stampAge(p, cells.Eq(6).Text())
	return p, true
}

// parseHideMyNameCountry reads the ISO code off the flag-icon CSS class
// (e.g. "flag-icon flag-icon-de" -> "DE"), matching the original's
// assertion-based class-name slicing.
func parseHideMyNameCountry(cell *goquery.Selection) string {
	class, ok := cell.Find("span").First().Attr("class")
	if !ok {
		return ""
	}
	const marker = "flag-icon-"
	idx := strings.Index(class, marker)
	if idx < 0 {
		return ""
	}
	code := class[idx+len(marker):]
	if sp := strings.IndexByte(code, ' '); sp >= 0 {
		code = code[:sp]
	}
	return strings.ToUpper(strings.TrimSpace(code))
}
