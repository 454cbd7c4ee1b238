// Package tui implements a small live operator console for the superproxy
// gateway's admin JSON endpoints (spec.md §6 "Admin JSON"), built on the
// same bubbletea/bubbles/lipgloss stack the teacher carries in its go.mod.
// The console is a client: it never touches the Pool directly, only the
// /status and /proxies endpoints any other admin caller would use.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	rowStyle   = lipgloss.NewStyle().PaddingLeft(1)
	headerRow  = lipgloss.NewStyle().Bold(true).Underline(true)
	footerHint = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
)

// status mirrors the subset of GET /status this console renders.
type status struct {
	Active      int  `json:"active"`
	Blacklisted int  `json:"blacklisted"`
	InUse       int  `json:"in_use"`
	Waiting     int  `json:"waiting"`
	NeedUpdate  bool `json:"need_update"`
	Checker     bool `json:"checker"`
	Fetcher     bool `json:"fetcher"`
	FetcherRdy  bool `json:"fetcher_ready"`
}

// proxyRow mirrors the fields of GET /proxies this console displays.
type proxyRow struct {
	Addr    string  `json:"addr"`
	Country string  `json:"country"`
	Speed   float64 `json:"speed"`
	InUse   int32   `json:"in_use"`
	Fails   int     `json:"consec_fail"`
}

type proxiesPage struct {
	Total int        `json:"total"`
	Items []proxyRow `json:"items"`
}

// Model is the bubbletea model driving the console.
type Model struct {
	client  *http.Client
	baseURL string
	auth    [2]string // username, password; empty means no auth

	spin    spinner.Model
	status  status
	rows    []proxyRow
	err     error
	width   int
	lastErr time.Time
}

// New constructs a Model polling baseURL (e.g. "http://127.0.0.1:8899").
func New(baseURL, username, password string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle
	return Model{
		client:  &http.Client{Timeout: 4 * time.Second},
		baseURL: baseURL,
		auth:    [2]string{username, password},
		spin:    s,
	}
}

type tickMsg time.Time
type fetchedMsg struct {
	status status
	rows   []proxyRow
	err    error
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.poll(), tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }))
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		st, err := m.fetchStatus()
		if err != nil {
			return fetchedMsg{err: err}
		}
		rows, err := m.fetchProxies()
		if err != nil {
			return fetchedMsg{status: st, err: err}
		}
		return fetchedMsg{status: st, rows: rows}
	}
}

func (m Model) fetchStatus() (status, error) {
	var st status
	if err := m.getJSON("/status", &st); err != nil {
		return status{}, err
	}
	return st, nil
}

func (m Model) fetchProxies() ([]proxyRow, error) {
	var page proxiesPage
	if err := m.getJSON("/proxies?per_page=20&sort=speed", &page); err != nil {
		return nil, err
	}
	sort.Slice(page.Items, func(i, j int) bool { return page.Items[i].Speed > page.Items[j].Speed })
	return page.Items, nil
}

func (m Model) getJSON(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	if m.auth[0] != "" {
		req.SetBasicAuth(m.auth[0], m.auth[1])
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(m.poll(), tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }))
	case fetchedMsg:
		m.status = msg.status
		m.err = msg.err
		if msg.err == nil {
			m.rows = msg.rows
		} else {
			m.lastErr = time.Now()
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	header := fmt.Sprintf("%s %s  %s", m.spin.View(), titleStyle.Render("proxybroker"), labelStyle.Render(m.baseURL))

	if m.err != nil {
		return header + "\n" + badStyle.Render(fmt.Sprintf("poll failed: %v", m.err)) + "\n" + footerHint.Render("q to quit")
	}

	counts := fmt.Sprintf(
		"%s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("active"), goodStyle.Render(fmt.Sprint(m.status.Active)),
		labelStyle.Render("blacklisted"), badStyle.Render(fmt.Sprint(m.status.Blacklisted)),
		labelStyle.Render("in_use"), warnStyle.Render(fmt.Sprint(m.status.InUse)),
		labelStyle.Render("waiting"), warnStyle.Render(fmt.Sprint(m.status.Waiting)),
	)

	flags := fmt.Sprintf(
		"checker=%v fetcher=%v fetcher_ready=%v need_update=%v",
		m.status.Checker, m.status.Fetcher, m.status.FetcherRdy, m.status.NeedUpdate,
	)

	table := headerRow.Render(fmt.Sprintf("%-22s %-8s %8s %6s %6s", "addr", "country", "speed", "in_use", "fails")) + "\n"
	for _, r := range m.rows {
		table += rowStyle.Render(fmt.Sprintf("%-22s %-8s %8.1f %6d %6d", r.Addr, r.Country, r.Speed, r.InUse, r.Fails)) + "\n"
	}

	return header + "\n" + counts + "\n" + labelStyle.Render(flags) + "\n\n" + table + footerHint.Render("q to quit")
}
