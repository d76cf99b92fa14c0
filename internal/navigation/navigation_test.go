package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageOf(t *testing.T) {
	tests := []struct {
		url  string
		kind Kind
		typ  Type
	}{
		{"about:blank", Internal, TypeStub},
		{"about:newtab", Internal, TypeStub},
		{"/pages/test.html", LocalStub, TypeStub},
		{"local:/pages/wiki.html#https://en.wikipedia.org/wiki/Go", LocalStub, TypeStub},
		{"file:///Users/test/doc.html", LocalStub, TypeStub},
		{"https://example.com", Proxied, TypeProxy},
		{"//cdn.example.com/x", Proxied, TypeProxy},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			p := PageOf(tt.url)
			assert.Equal(t, tt.kind, p.Kind)
			assert.Equal(t, tt.typ, p.Type())
		})
	}
}

func TestNavigateDedup(t *testing.T) {
	tab := NewTab("t", "")
	assert.Equal(t, DefaultTitle, tab.Title)
	assert.Equal(t, TypeStub, tab.Type)

	assert.True(t, tab.Navigate("https://x.com", "", ""))
	assert.Equal(t, TypeProxy, tab.Type)
	assert.Equal(t, LoadingTitle, tab.Title)
	assert.Equal(t, "https://x.com/favicon.ico", tab.Favicon)

	assert.False(t, tab.Navigate("https://x.com/", "", ""))
	assert.False(t, tab.Navigate("https://x.com", "", ""))
	assert.Equal(t, []string{"about:blank", "https://x.com"}, tab.History)
	assert.Equal(t, 1, tab.HistoryIndex)

	tab.Navigate("https://x.com/", "", "https://shown.example/")
	assert.Equal(t, "https://shown.example/", tab.Shown())
	assert.Len(t, tab.History, 2)
}

func TestNavigateTruncatesForwardHistory(t *testing.T) {
	tab := NewTab("t", "")
	tab.Navigate("https://a.com/", "", "")
	tab.Navigate("https://b.com/", "", "")
	tab.Navigate("https://c.com/", "", "")

	tab.HistoryIndex = 1
	assert.True(t, tab.Navigate("https://d.com/", "pushstate", ""))
	assert.Equal(t, []string{"about:blank", "https://a.com/", "https://d.com/"}, tab.History)
	assert.Equal(t, 2, tab.HistoryIndex)
}

func TestPopstateReentry(t *testing.T) {
	tab := NewTab("t", "")
	tab.Navigate("https://a.com/", "", "")
	tab.Navigate("https://b.com/", "", "")
	tab.Navigate("https://c.com/", "", "")
	require.Equal(t, 3, tab.HistoryIndex)

	assert.True(t, tab.Navigate("https://a.com/", "popstate", ""))
	assert.Equal(t, 1, tab.HistoryIndex)
	assert.Len(t, tab.History, 4)
	assert.Equal(t, "https://a.com/", tab.URL)

	// An unknown popstate target is an ordinary navigation.
	tab.Navigate("https://z.com/", "popstate", "")
	assert.Equal(t, []string{"about:blank", "https://a.com/", "https://z.com/"}, tab.History)
}

func TestBackForwardBounds(t *testing.T) {
	tab := NewTab("t", "")
	_, ok := tab.Back()
	assert.False(t, ok)
	_, ok = tab.Forward()
	assert.False(t, ok)

	tab.Navigate("https://a.com/", "", "")
	tab.Navigate("https://b.com/", "", "")

	// PROXY tab moving to another external page: the document does it.
	step, ok := tab.Back()
	require.True(t, ok)
	assert.Equal(t, Step{URL: "https://a.com/", Index: 1, Remote: true}, step)
	assert.Equal(t, "https://b.com/", tab.URL, "remote steps leave the visible page alone")

	// Back to about:blank is handled by the host.
	step, ok = tab.Back()
	require.True(t, ok)
	assert.False(t, step.Remote)
	assert.Equal(t, "about:blank", tab.URL)
	assert.Equal(t, DefaultTitle, tab.Title)
	assert.Equal(t, TypeStub, tab.Type)
	assert.Equal(t, "builtin:blank", tab.Favicon)

	_, ok = tab.Back()
	assert.False(t, ok)
	assert.Equal(t, 0, tab.HistoryIndex)

	// From a STUB tab even external targets are local.
	step, ok = tab.Forward()
	require.True(t, ok)
	assert.False(t, step.Remote)
	assert.Equal(t, TypeProxy, tab.Type)

	tab.Forward()
	_, ok = tab.Forward()
	assert.False(t, ok)
	assert.Equal(t, 2, tab.HistoryIndex)
}

func TestRemoteStepReconciledByDocument(t *testing.T) {
	for _, navType := range []string{"", "initial", "pushstate"} {
		t.Run("type="+navType, func(t *testing.T) {
			tab := NewTab("t", "")
			tab.Navigate("https://a.example/", "", "")
			tab.Navigate("https://b.other/", "", "")

			step, ok := tab.Back()
			require.True(t, ok)
			require.True(t, step.Remote)
			require.Equal(t, "https://b.other/", tab.URL)

			// The new document reports where it landed.
			assert.False(t, tab.Navigate("https://a.example/", navType, ""))
			assert.Equal(t, "https://a.example/", tab.URL)
			assert.Equal(t, "https://a.example/", tab.Shown())
			assert.Equal(t, "https://a.example/favicon.ico", tab.Favicon)
			assert.Equal(t, []string{"about:blank", "https://a.example/", "https://b.other/"}, tab.History)
			assert.Equal(t, 1, tab.HistoryIndex)
			assert.True(t, CanGoForward(tab))
		})
	}
}

func TestLocalPagesDisplay(t *testing.T) {
	s := NewTabSet(nil, LocalPages{"/pages/wiki.html": "https://en.wikipedia.org/wiki/Go"})
	tab := s.Active()

	tab.Navigate("/pages/wiki.html", "", "")
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go", tab.DisplayURL)
	assert.Equal(t, TypeStub, tab.Type)
	assert.Equal(t, "https://en.wikipedia.org/favicon.ico", tab.Favicon)

	tab.Navigate("https://example.com/", "", "")
	step, ok := tab.Back()
	require.True(t, ok)
	assert.False(t, step.Remote)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go", tab.Shown())
}

func TestRefresh(t *testing.T) {
	tab := NewTab("t", "")
	assert.False(t, tab.Refresh())

	tab.Navigate("https://example.com/page", "", "")
	assert.True(t, tab.Refresh())
	assert.Equal(t, "Loading example.com...", tab.Title)
}

func TestShouldHandleLocally(t *testing.T) {
	proxy := NewTab("p", "https://example.com/")
	stub := NewTab("s", "")

	assert.True(t, ShouldHandleLocally(nil, "https://example.com"))
	assert.True(t, ShouldHandleLocally(stub, "https://example.com"))
	assert.False(t, ShouldHandleLocally(proxy, "https://other.com"))
	for _, target := range []string{"about:blank", "about:newtab", "/pages/test.html", "file:///Users/test/doc.html", "local:/x.html#https://x.com"} {
		assert.True(t, ShouldHandleLocally(proxy, target), target)
	}
}

func TestCanGoBackForward(t *testing.T) {
	assert.False(t, CanGoBack(nil, true))
	assert.False(t, CanGoForward(nil))

	proxy := NewTab("p", "https://example.com/")
	assert.False(t, CanGoBack(proxy, false))
	assert.True(t, CanGoBack(proxy, true))

	stub := NewTab("s", "")
	assert.False(t, CanGoBack(stub, true), "document back capability only counts for PROXY tabs")
	stub.Navigate("/pages/a.html", "", "")
	assert.True(t, CanGoBack(stub, false))
	assert.False(t, CanGoForward(stub))
	stub.Back()
	assert.True(t, CanGoForward(stub))
}

func TestParseNavigationURL(t *testing.T) {
	pages := LocalPages{"/pages/wiki.html": "https://en.wikipedia.org/wiki/Go"}

	tests := []struct {
		raw  string
		want Parsed
	}{
		{"https://example.com", Parsed{URL: "https://example.com", DisplayURL: "https://example.com", Hostname: "example.com"}},
		{"example.com/a", Parsed{URL: "https://example.com/a", DisplayURL: "https://example.com/a", Hostname: "example.com"}},
		{"http://plain.test", Parsed{URL: "http://plain.test", DisplayURL: "http://plain.test", Hostname: "plain.test"}},
		{"about:blank", Parsed{URL: "about:blank", DisplayURL: "about:blank"}},
		{"local:/pages/x.html#https://x.com/y", Parsed{URL: "local:/pages/x.html#https://x.com/y", DisplayURL: "https://x.com/y", LocalPath: "/pages/x.html", Hostname: "x.com"}},
		{"local:/pages/x.html", Parsed{URL: "local:/pages/x.html", DisplayURL: "local:/pages/x.html", LocalPath: "/pages/x.html"}},
		{"/pages/wiki.html", Parsed{URL: "/pages/wiki.html", DisplayURL: "https://en.wikipedia.org/wiki/Go", LocalPath: "/pages/wiki.html", Hostname: "en.wikipedia.org"}},
		{"/pages/other.html", Parsed{URL: "/pages/other.html", DisplayURL: "/pages/other.html", LocalPath: "/pages/other.html"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseNavigationURL(tt.raw, pages)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseNavigationURL("  ", pages)
	assert.ErrorIs(t, err, ErrEmptyURL)
}

func TestTabSetCloseNeverEmpty(t *testing.T) {
	s := NewTabSet(nil, nil)
	only := s.Active()
	require.Equal(t, "tab-1", only.ID)

	closed, err := s.Close(only.ID)
	require.NoError(t, err)
	assert.True(t, closed)
	require.Equal(t, 1, s.Len())
	assert.NotEqual(t, only.ID, s.Active().ID)
	assert.Equal(t, BlankURL, s.Active().URL)
	assert.True(t, s.Active().Active)

	_, err = s.Close("nope")
	assert.ErrorIs(t, err, ErrUnknownTab)
}

func TestTabSetCloseActivatesAdjacent(t *testing.T) {
	s := NewTabSet(nil, nil) // tab-1
	s.Create("")             // tab-2
	s.Create("")             // tab-3
	require.NoError(t, s.Switch("tab-2"))

	_, err := s.Close("tab-2")
	require.NoError(t, err)
	assert.Equal(t, "tab-3", s.Active().ID)

	_, err = s.Close("tab-3")
	require.NoError(t, err)
	assert.Equal(t, "tab-1", s.Active().ID)

	s.Create("") // tab-4, active
	_, err = s.Close("tab-1")
	require.NoError(t, err)
	assert.Equal(t, "tab-4", s.Active().ID, "closing an inactive tab keeps the active one")
}

func TestTabSetPinned(t *testing.T) {
	s := NewTabSet(nil, nil)
	require.NoError(t, s.Pin("tab-1"))

	closed, err := s.Close("tab-1")
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Unpin("tab-1"))
	closed, _ = s.Close("tab-1")
	assert.True(t, closed)

	assert.ErrorIs(t, s.Pin("nope"), ErrUnknownTab)
}

func TestTabSetCreateAndSwitch(t *testing.T) {
	s := NewTabSet(nil, nil)
	tab := s.Create("https://example.com/")
	assert.Equal(t, LoadingTitle, tab.Title)
	assert.Equal(t, TypeProxy, tab.Type)
	assert.Equal(t, tab, s.Active())

	require.NoError(t, s.Switch("tab-1"))
	assert.False(t, tab.Active)
	assert.ErrorIs(t, s.Switch("nope"), ErrUnknownTab)
}

func ids(s *TabSet) []string {
	var out []string
	for _, t := range s.List() {
		out = append(out, t.ID)
	}
	return out
}

func TestTabSetReorder(t *testing.T) {
	tests := []struct {
		name    string
		dragged string
		target  string
		before  bool
		want    []string
	}{
		{"forward after", "tab-1", "tab-3", false, []string{"tab-2", "tab-3", "tab-1", "tab-4"}},
		{"forward before", "tab-1", "tab-3", true, []string{"tab-2", "tab-1", "tab-3", "tab-4"}},
		{"backward before", "tab-4", "tab-2", true, []string{"tab-1", "tab-4", "tab-2", "tab-3"}},
		{"backward after", "tab-4", "tab-2", false, []string{"tab-1", "tab-2", "tab-4", "tab-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewTabSet(nil, nil)
			s.Create("")
			s.Create("")
			s.Create("")
			assert.True(t, s.Reorder(tt.dragged, tt.target, tt.before))
			assert.Equal(t, tt.want, ids(s))
		})
	}

	s := NewTabSet(nil, nil)
	s.Create("")
	assert.False(t, s.Reorder("tab-1", "nope", true))
	assert.Equal(t, []string{"tab-1", "tab-2"}, ids(s))
}

func TestCloneIsDeep(t *testing.T) {
	tab := NewTab("t", "")
	c := tab.Clone()
	tab.Navigate("https://a.com/", "", "")
	assert.Equal(t, []string{"about:blank"}, c.History)
}
