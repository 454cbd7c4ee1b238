package superproxy

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"proxybroker/internal/core/constants"
	"proxybroker/internal/core/domain"
	"proxybroker/internal/util"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(constants.ContentTypeHeader, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// proxyRecord is the flat JSON shape admin endpoints return for a single
// proxy, per spec.md §6's snapshot format (timestamps ISO-8601 UTC, enums as
// names, sets as arrays).
type proxyRecord struct {
	Addr         string   `json:"addr"`
	Types        []string `json:"types"`
	Anonymity    string   `json:"anonymity"`
	Country      string   `json:"country,omitempty"`
	Source       string   `json:"source,omitempty"`
	Speed        float64  `json:"speed"`
	ConsecFail   int      `json:"consec_fail"`
	InUse        int32    `json:"in_use"`
	Blacklisted  bool     `json:"blacklisted"`
	SuccessCount uint64   `json:"success_count"`
	FailCount    uint64   `json:"fail_count"`
	RestCount    uint64   `json:"rest_count"`
	AddedAt      string   `json:"added_at"`
	CheckedAt    string   `json:"checked_at,omitempty"`
	UsedAt       string   `json:"used_at,omitempty"`
	RestTill     string   `json:"rest_till,omitempty"`
}

func toProxyRecord(p *domain.Proxy, blacklisted bool) proxyRecord {
	types := make([]string, 0, len(p.Types))
	for t := range p.Types {
		types = append(types, string(t))
	}
	sort.Strings(types)

	rec := proxyRecord{
		Addr:         p.Key(),
		Types:        types,
		Anonymity:    string(p.Anonymity),
		Country:      p.Country,
		Source:       p.Meta["source"],
		Speed:        p.Speed,
		ConsecFail:   p.ConsecFail,
		InUse:        p.InUse(),
		Blacklisted:  blacklisted,
		SuccessCount: p.SuccessCount(),
		FailCount:    p.FailCount(),
		RestCount:    p.RestCount(),
		AddedAt:      formatTime(p.AddedAt),
	}
	if !p.CheckedAt.IsZero() {
		rec.CheckedAt = formatTime(p.CheckedAt)
	}
	if used := p.UsedAt(); !used.IsZero() {
		rec.UsedAt = formatTime(used)
	}
	if !p.RestTill.IsZero() {
		rec.RestTill = formatTime(p.RestTill)
	}
	return rec
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// handleStatus serves GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.pool.Snapshot()

	body := map[string]interface{}{
		"active":       len(snap.Active),
		"blacklisted":  len(snap.Blacklisted),
		"in_use":       snap.InUse,
		"waiting":      len(snap.Waiting),
		"need_update":  snap.NeedUpdate,
		"checker":      s.checker != nil,
		"fetcher":      s.fetcher != nil,
		"started_at":   formatTime(snap.StartedAt),
		"updated_at":   formatTime(snap.UpdatedAt),
		"actions": []string{
			"fetch", "forget_blacklist", "blacklist", "unblacklist",
			"reset_rest_till", "recheck", "clear_pool_manager",
		},
	}
	if s.fetcher != nil {
		body["fetcher_ready"] = s.fetcher.Ready()
		body["fetcher_started_at"] = formatTime(s.fetcher.StartedAt())
	}
	writeJSON(w, http.StatusOK, body)
}

// handleCountries serves GET /countries: distinct country codes with counts
// across the active and blacklisted sets.
func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	snap := s.pool.Snapshot()
	counts := make(map[string]int)
	for _, p := range snap.Active {
		counts[countryKey(p.Country)]++
	}
	for _, p := range snap.Blacklisted {
		counts[countryKey(p.Country)]++
	}

	out := make([]map[string]interface{}, 0, len(counts))
	for country, count := range counts {
		out = append(out, map[string]interface{}{"country": country, "count": count})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["country"].(string) < out[j]["country"].(string)
	})
	writeJSON(w, http.StatusOK, out)
}

func countryKey(c string) string {
	if c == "" {
		return "unknown"
	}
	return c
}

// handleProxies serves GET /proxies?status=&search=&sort=&page=&per_page=.
func (s *Server) handleProxies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snap := s.pool.Snapshot()

	records := make([]proxyRecord, 0, len(snap.Active)+len(snap.Blacklisted))
	statuses := splitCSV(q.Get("status"))
	wantActive, wantBlacklisted := statusFilter(statuses)

	if wantActive {
		for _, p := range snap.Active {
			records = append(records, toProxyRecord(p, false))
		}
	}
	if wantBlacklisted {
		for _, p := range snap.Blacklisted {
			records = append(records, toProxyRecord(p, true))
		}
	}

	records = filterBySearch(records, q.Get("search"))
	sortProxyRecords(records, q.Get("sort"))

	page, perPage := pagination(q)
	writeJSON(w, http.StatusOK, paginate(records, page, perPage))
}

func statusFilter(statuses []string) (active, blacklisted bool) {
	if len(statuses) == 0 {
		return true, true
	}
	for _, s := range statuses {
		switch strings.ToLower(s) {
		case "active":
			active = true
		case "blacklisted", "blacklist":
			blacklisted = true
		}
	}
	return active, blacklisted
}

func filterBySearch(records []proxyRecord, search string) []proxyRecord {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return records
	}
	out := records[:0]
	for _, rec := range records {
		haystack := strings.ToLower(strings.Join(append([]string{rec.Addr, rec.Country, rec.Source}, rec.Types...), " "))
		if strings.Contains(haystack, search) {
			out = append(out, rec)
		}
	}
	return out
}

func sortProxyRecords(records []proxyRecord, sortKey string) {
	desc := strings.HasPrefix(sortKey, "-")
	key := strings.TrimPrefix(sortKey, "-")
	switch key {
	case "speed":
		sort.Slice(records, func(i, j int) bool {
			if desc {
				return records[i].Speed > records[j].Speed
			}
			return records[i].Speed < records[j].Speed
		})
	case "used_at":
		sort.Slice(records, func(i, j int) bool {
			if desc {
				return records[i].UsedAt > records[j].UsedAt
			}
			return records[i].UsedAt < records[j].UsedAt
		})
	}
}

func pagination(q map[string][]string) (page, perPage int) {
	page = 1
	perPage = defaultPerPage
	if v := first(q, "page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := first(q, "per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			perPage = n
		}
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

func first(q map[string][]string, key string) string {
	if vs, ok := q[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

type pagedResult struct {
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
	Items   interface{} `json:"items"`
}

func paginate[T any](items []T, page, perPage int) pagedResult {
	total := len(items)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return pagedResult{Total: total, Page: page, PerPage: perPage, Items: items[start:end]}
}

// handleWaiting serves GET /waiting.
func (s *Server) handleWaiting(w http.ResponseWriter, r *http.Request) {
	snap := s.pool.Snapshot()
	out := make(map[string]interface{}, len(snap.Waiting))
	for id, entry := range snap.Waiting {
		out[id] = map[string]interface{}{
			"since":         formatTime(entry.Since),
			"request_ident": entry.RequestIdent,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type historyRecord struct {
	Addr     string `json:"addr"`
	Outcome  string `json:"outcome"`
	HTTPCode int    `json:"http_code"`
	At       string `json:"at"`
}

// handleHistory serves GET /history?result=&search=&page=&per_page=: the
// timeline across every proxy's bounded history ring, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snap := s.pool.Snapshot()
	results := splitCSV(q.Get("result"))
	search := strings.ToLower(strings.TrimSpace(q.Get("search")))

	all := make([]*domain.Proxy, 0, len(snap.Active)+len(snap.Blacklisted))
	all = append(all, snap.Active...)
	all = append(all, snap.Blacklisted...)

	var out []historyRecord
	for _, p := range all {
		addr := p.Key()
		if search != "" && !strings.Contains(strings.ToLower(addr), search) {
			continue
		}
		for _, h := range p.History() {
			if len(results) > 0 && !containsFold(results, h.Outcome) {
				continue
			}
			out = append(out, historyRecord{Addr: addr, Outcome: h.Outcome, HTTPCode: h.HTTPCode, At: formatTime(h.At)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At > out[j].At })

	page, perPage := pagination(q)
	writeJSON(w, http.StatusOK, paginate(out, page, perPage))
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

type actionRequest struct {
	Action        string `json:"action"`
	Addr          string `json:"addr"`
	UsedAtBefore  string `json:"used_at_before"`
}

// handleAction serves POST /action. Verbs per spec.md §6: `fetch`,
// `forget_blacklist`, and the per-proxy verbs `blacklist`, `unblacklist`,
// `reset_rest_till`, `recheck`, `clear_pool_manager`.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed action body"})
		return
	}

	switch req.Action {
	case "fetch":
		s.handleFetchAction(w, r)
	case "forget_blacklist":
		s.handleForgetBlacklistAction(w, req)
	case "blacklist", "unblacklist", "reset_rest_till", "recheck", "clear_pool_manager":
		s.handleProxyAction(w, r, req)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action " + req.Action})
	}
}

func (s *Server) handleFetchAction(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no fetcher configured"})
		return
	}
	if err := s.fetcher.Run(r.Context(), false); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "fetch started"})
}

func (s *Server) handleForgetBlacklistAction(w http.ResponseWriter, req actionRequest) {
	before := time.Duration(0)
	if req.UsedAtBefore != "" {
		if d, err := util.ParseLooseDuration(req.UsedAtBefore); err == nil {
			before = d
		}
	}
	s.pool.ForgetBlacklisted(before)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProxyAction(w http.ResponseWriter, r *http.Request, req actionRequest) {
	if req.Addr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "addr is required for " + req.Action})
		return
	}
	p, ok := s.pool.GetByAddr(req.Addr)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown proxy " + req.Addr})
		return
	}

	switch req.Action {
	case "blacklist":
		s.pool.Blacklist(p, false)
	case "unblacklist":
		s.pool.Unblacklist(p)
	case "reset_rest_till":
		s.pool.ResetRestTill(p)
	case "recheck":
		if s.checker == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no checker configured"})
			return
		}
		if err := s.pool.Recheck(r.Context(), p, s.checker.Check); err != nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "rechecked", "result": "fail"})
			return
		}
	case "clear_pool_manager":
		s.pool.ClearPoolManager(p)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
