// Package navigation holds the per-tab history model and the tab set. It
// decides, for every back/forward/navigate action, whether the host or the
// embedded document is authoritative.
package navigation

import (
	"errors"
	"net/url"
	"strings"
)

// Type is the tab type derived from the page a tab shows.
type Type string

const (
	// TypeStub tabs are rendered by the host itself.
	TypeStub Type = "stub"
	// TypeProxy tabs embed a frame pointed at the gateway.
	TypeProxy Type = "proxy"
)

const (
	BlankURL     = "about:blank"
	DefaultTitle = "New Tab"
	LoadingTitle = "Loading..."

	localPrefix = "local:"
)

// ErrEmptyURL is returned by ParseNavigationURL for empty input.
var ErrEmptyURL = errors.New("URL cannot be empty")

// Kind tags the variant of a Page.
type Kind int

const (
	// Internal pages are host-rendered about: pages.
	Internal Kind = iota
	// LocalStub pages are files served by the host: local:<path>#<display>,
	// root-relative paths and file: URLs.
	LocalStub
	// Proxied pages are external URLs reached through the gateway.
	Proxied
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "internal"
	case LocalStub:
		return "local"
	case Proxied:
		return "proxied"
	}
	return "unknown"
}

// Page is the tagged variant of a history entry.
type Page struct {
	Kind Kind
	URL  string
}

// PageOf classifies a history entry.
func PageOf(u string) Page {
	switch {
	case strings.HasPrefix(u, "about:"):
		return Page{Kind: Internal, URL: u}
	case strings.HasPrefix(u, localPrefix),
		strings.HasPrefix(u, "file:"),
		isRootRelative(u):
		return Page{Kind: LocalStub, URL: u}
	}
	return Page{Kind: Proxied, URL: u}
}

// Type is STUB for internal and local pages and PROXY otherwise.
func (p Page) Type() Type {
	if p.Kind == Proxied {
		return TypeProxy
	}
	return TypeStub
}

// Local reports whether the host renders the page without an embedded document.
func (p Page) Local() bool { return p.Kind != Proxied }

func isRootRelative(u string) bool {
	return strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//")
}

// LocalPages maps root-relative local page paths to the URL shown for them.
type LocalPages map[string]string

// DisplayURL returns the URL shown for path, or path itself when unmapped.
func (lp LocalPages) DisplayURL(path string) string {
	if v, ok := lp[path]; ok && v != "" {
		return v
	}
	return path
}

// Parsed is the result of ParseNavigationURL.
type Parsed struct {
	// URL is the entry recorded in tab history.
	URL string
	// DisplayURL is what the address bar shows.
	DisplayURL string
	// LocalPath is set for local pages.
	LocalPath string
	Hostname  string
}

// Local reports whether the parsed input names a local page.
func (p Parsed) Local() bool { return p.LocalPath != "" }

// ParseNavigationURL turns address bar input into a history entry.
// local:<path>#<display> keeps its form in history and shows <display>;
// root-relative paths show their LocalPages mapping; about: pages pass
// through; anything without an http(s) scheme gets https://.
func ParseNavigationURL(raw string, pages LocalPages) (Parsed, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Parsed{}, ErrEmptyURL
	}

	switch PageOf(raw).Kind {
	case Internal:
		return Parsed{URL: raw, DisplayURL: raw}, nil
	case LocalStub:
		if rest, ok := strings.CutPrefix(raw, localPrefix); ok {
			path, display, _ := strings.Cut(rest, "#")
			if display == "" {
				display = raw
			}
			return Parsed{URL: raw, DisplayURL: display, LocalPath: path, Hostname: hostname(display)}, nil
		}
		display := pages.DisplayURL(raw)
		return Parsed{URL: raw, DisplayURL: display, LocalPath: raw, Hostname: hostname(display)}, nil
	}

	full := raw
	if !strings.HasPrefix(full, "http://") && !strings.HasPrefix(full, "https://") {
		full = "https://" + full
	}
	u, err := url.Parse(full)
	if err != nil || u.Host == "" {
		return Parsed{URL: raw, DisplayURL: raw}, nil
	}
	return Parsed{URL: full, DisplayURL: full, Hostname: u.Hostname()}, nil
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// FaviconFor returns the favicon reference for a shown URL: builtin:<name>
// for internal pages and the site's /favicon.ico otherwise.
func FaviconFor(shown string) string {
	if name, ok := strings.CutPrefix(shown, "about:"); ok {
		return "builtin:" + name
	}
	u, err := url.Parse(shown)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "builtin:page"
	}
	return u.Scheme + "://" + u.Host + "/favicon.ico"
}

func sameEntry(a, b string) bool {
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}
