package navigation

import (
	"net/url"
	"slices"
)

// Tab is one browser tab and its history. History[HistoryIndex] is the
// logically current entry even when URL or DisplayURL diverge from it.
type Tab struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	DisplayURL string   `json:"displayUrl,omitempty"`
	Favicon    string   `json:"favicon,omitempty"`
	Pinned     bool     `json:"pinned"`
	Active     bool     `json:"active"`
	History    []string `json:"history"`
	// HistoryIndex always satisfies 0 <= HistoryIndex < len(History).
	HistoryIndex int  `json:"historyIndex"`
	Type         Type `json:"type"`

	pages LocalPages
}

// NewTab returns a tab showing u (about:blank when empty).
func NewTab(id, u string) *Tab {
	return newTab(id, u, nil)
}

func newTab(id, u string, pages LocalPages) *Tab {
	if u == "" {
		u = BlankURL
	}
	t := &Tab{ID: id, History: []string{u}, pages: pages}
	t.showAs(u, "")
	return t
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *Tab) Clone() Tab {
	c := *t
	c.History = slices.Clone(t.History)
	return c
}

// Page returns the variant of the current history entry.
func (t *Tab) Page() Page { return PageOf(t.Current()) }

// Current returns History[HistoryIndex].
func (t *Tab) Current() string { return t.History[t.HistoryIndex] }

// Shown returns DisplayURL, falling back to URL.
func (t *Tab) Shown() string {
	if t.DisplayURL != "" {
		return t.DisplayURL
	}
	return t.URL
}

// Navigate records a navigation to u. A popstate to an entry already in
// history jumps there. A target equal to the current entry, ignoring a
// trailing slash, only refreshes cosmetic fields, unless the tab still shows
// another page after a remote step, in which case it shows u. Anything else drops the
// forward history and appends. It reports whether HistoryIndex or History
// changed.
func (t *Tab) Navigate(u, navigationType, displayURL string) bool {
	if navigationType == "popstate" {
		if i := slices.Index(t.History, u); i >= 0 {
			moved := i != t.HistoryIndex
			t.HistoryIndex = i
			t.showAs(u, displayURL)
			return moved
		}
	}

	if sameEntry(u, t.Current()) {
		if !sameEntry(u, t.URL) {
			t.showAs(u, displayURL)
			return false
		}
		if displayURL != "" {
			t.DisplayURL = displayURL
		}
		t.Favicon = FaviconFor(t.Shown())
		t.Type = PageOf(t.Current()).Type()
		return false
	}

	t.History = append(t.History[:t.HistoryIndex+1:t.HistoryIndex+1], u)
	t.HistoryIndex = len(t.History) - 1
	t.showAs(u, displayURL)
	return true
}

// Step is one back or forward move through history.
type Step struct {
	URL   string
	Index int
	// Remote steps are carried out by the embedded document; the tab only
	// moved HistoryIndex and expects a NAVIGATION event to follow.
	Remote bool
}

// Back moves one entry back. It reports false at the start of history.
func (t *Tab) Back() (Step, bool) { return t.step(-1) }

// Forward moves one entry forward. It reports false at the end of history.
func (t *Tab) Forward() (Step, bool) { return t.step(1) }

func (t *Tab) step(delta int) (Step, bool) {
	i := t.HistoryIndex + delta
	if i < 0 || i >= len(t.History) {
		return Step{}, false
	}
	target := t.History[i]
	s := Step{URL: target, Index: i, Remote: !ShouldHandleLocally(t, target)}

	t.HistoryIndex = i
	if !s.Remote {
		t.showAs(target, "")
	}
	return s, true
}

// showAs makes u the visible page without touching history. An empty
// displayURL is derived from u.
func (t *Tab) showAs(u, displayURL string) {
	t.URL = u
	if displayURL == "" {
		if p, err := ParseNavigationURL(u, t.pages); err == nil {
			displayURL = p.DisplayURL
		}
	}
	t.DisplayURL = ""
	if displayURL != u {
		t.DisplayURL = displayURL
	}
	t.Title = titleFor(u)
	t.Favicon = FaviconFor(t.Shown())
	t.Type = PageOf(u).Type()
}

// Refresh sets the transient loading title of a PROXY tab. It reports
// false for other tabs, which have nothing to reload.
func (t *Tab) Refresh() bool {
	if t.Type != TypeProxy {
		return false
	}
	host := t.URL
	if u, err := url.Parse(t.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	t.Title = "Loading " + host + "..."
	return true
}

func titleFor(u string) string {
	if u == BlankURL {
		return DefaultTitle
	}
	return LoadingTitle
}

// ShouldHandleLocally reports whether a navigation of tab to target is
// performed by the host. Only a PROXY tab moving to another external URL is
// left to the embedded document.
func ShouldHandleLocally(tab *Tab, target string) bool {
	if tab == nil {
		return true
	}
	if PageOf(target).Local() {
		return true
	}
	return tab.Type != TypeProxy
}

// CanGoBack combines local history with the embedded document's own back
// capability, which only counts for PROXY tabs.
func CanGoBack(tab *Tab, proxyCanGoBack bool) bool {
	if tab == nil {
		return false
	}
	local := tab.HistoryIndex > 0
	if tab.Type == TypeProxy {
		return proxyCanGoBack || local
	}
	return local
}

// CanGoForward uses local history only. A document cannot observe its own
// forward history.
func CanGoForward(tab *Tab) bool {
	return tab != nil && tab.HistoryIndex < len(tab.History)-1
}
