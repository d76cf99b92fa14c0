// Package tools exposes the tab orchestrator as MCP tools, so an assistant can
// list tabs, drive their navigation and read the pages they show.
package tools

import (
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/standardbeagle/tabgate/internal/browser"
	"github.com/standardbeagle/tabgate/internal/logging"
	"github.com/standardbeagle/tabgate/internal/navigation"
)

// Instructions describes the tool set to MCP clients.
const Instructions = `Controls the tabs of a tabgate host. Pages are embedded through the gateway and
answer commands over the tunnel once the host shell has attached their frames.

Available tools:
- tabs: list, new, switch, close, pin, unpin, reorder
- navigate: go, back, forward, refresh
- page: info, content, element, query, click, scroll`

// Config configures BrowserTools.
type Config struct {
	// CallTimeout bounds each page command when the request carries no
	// deadline. Defaults to 10s.
	CallTimeout time.Duration
	Logger      *zap.Logger
}

// BrowserTools holds the orchestrator the tools act on.
type BrowserTools struct {
	b       *browser.Browser
	timeout time.Duration
	log     *zap.Logger
}

// NewBrowserTools wraps b.
func NewBrowserTools(b *browser.Browser, cfg Config) *BrowserTools {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &BrowserTools{
		b:       b,
		timeout: cfg.CallTimeout,
		log:     logging.OrNop(cfg.Logger).Named("tools"),
	}
}

// Register adds every tool to server.
func Register(server *mcp.Server, bt *BrowserTools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "tabs",
		Description: `Manage the tab strip.

Actions:
  list: every tab with its history and the active tab id
  new: open a tab at url (blank when empty) and activate it
  switch: activate tab id
  close: close tab id (pinned tabs are kept)
  pin / unpin: pin state of tab id
  reorder: move tab id before or after target_id`,
	}, bt.makeTabsHandler())

	mcp.AddTool(server, &mcp.Tool{
		Name: "navigate",
		Description: `Drive a tab's navigation. tab_id defaults to the active tab.

Actions:
  go: load url (bare hosts get https://)
  back / forward: step through history; remote steps are carried out by the page
  refresh: reload a proxied page`,
	}, bt.makeNavigateHandler())

	mcp.AddTool(server, &mcp.Tool{
		Name: "page",
		Description: `Read or act on the page shown in a tab. Needs an attached frame.

Actions:
  info: title, url, ready state and text
  content: latest page text reported by the tab (no round trip)
  element: snapshot of the first element matching selector
  query: summaries of every element matching selector
  click / scroll: act on the first match of selector`,
	}, bt.makePageHandler())
}

// TabOutput is one tab as reported by the tools.
type TabOutput struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	DisplayURL   string   `json:"display_url,omitempty"`
	Type         string   `json:"type"`
	Pinned       bool     `json:"pinned,omitempty"`
	Active       bool     `json:"active,omitempty"`
	History      []string `json:"history"`
	HistoryIndex int      `json:"history_index"`
}

func tabOutput(t navigation.Tab) TabOutput {
	return TabOutput{
		ID:           t.ID,
		Title:        t.Title,
		URL:          t.URL,
		DisplayURL:   t.DisplayURL,
		Type:         string(t.Type),
		Pinned:       t.Pinned,
		Active:       t.Active,
		History:      t.History,
		HistoryIndex: t.HistoryIndex,
	}
}

func (bt *BrowserTools) findTab(id string) (navigation.Tab, bool) {
	st := bt.b.State()
	if id == "" {
		id = st.ActiveID
	}
	for _, t := range st.Tabs {
		if t.ID == id {
			return t, true
		}
	}
	return navigation.Tab{}, false
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
