package browser

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/tabgate/internal/codec"
	"github.com/standardbeagle/tabgate/internal/navigation"
	"github.com/standardbeagle/tabgate/internal/pageagent"
	"github.com/standardbeagle/tabgate/internal/pageagent/htmldoc"
	"github.com/standardbeagle/tabgate/internal/protocol"
	"github.com/standardbeagle/tabgate/internal/tunnel"
)

type fakeFrame struct {
	mu     sync.Mutex
	posted []protocol.Command
}

func (f *fakeFrame) PostMessage(data []byte, _ string) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, msg.(protocol.Command))
	return nil
}

func (f *fakeFrame) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.posted {
		out = append(out, c.Command+" "+c.StringArg(0))
	}
	return out
}

// pageFrame answers commands from a parsed document, like an embedded page
// running the control script.
type pageFrame struct {
	b     *Browser
	agent *pageagent.Agent
}

func (f *pageFrame) PostMessage(data []byte, _ string) error {
	f.agent.Serve(context.Background(), "http://localhost", data, func(r protocol.Response) {
		out, err := protocol.Encode(r)
		if err == nil {
			_ = f.b.HandleMessage(f, out)
		}
	})
	return nil
}

func newBrowser(t *testing.T) *Browser {
	t.Helper()
	var n int
	return New(Config{
		Codec:      codec.New("proxy.test"),
		LocalPages: navigation.LocalPages{"/pages/wiki.html": "https://en.wikipedia.org/wiki/Go"},
		NewID: func() string {
			n++
			return "tab-" + strconv.Itoa(n)
		},
	})
}

func send(t *testing.T, b *Browser, f tunnel.Frame, m protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(m)
	require.NoError(t, err)
	require.NoError(t, b.HandleMessage(f, data))
}

func TestNewBrowserState(t *testing.T) {
	b := newBrowser(t)
	st := b.State()
	require.Len(t, st.Tabs, 1)
	assert.Equal(t, "tab-1", st.ActiveID)
	assert.Equal(t, navigation.DefaultTitle, st.Tabs[0].Title)
	assert.False(t, st.CanGoBack)

	tab, err := b.NewTab("example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", tab.URL)
	assert.Equal(t, navigation.TypeProxy, tab.Type)
	assert.Equal(t, "tab-2", b.State().ActiveID)

	u, err := b.FrameURL(tab.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example-com.proxy.test", u)
}

func TestDefaultIDsAreUUIDs(t *testing.T) {
	b := New(Config{Codec: codec.New("proxy.test")})
	assert.Len(t, b.State().ActiveID, 36)
}

func TestSubscribe(t *testing.T) {
	b := newBrowser(t)
	var got []State
	cancel := b.Subscribe(func(s State) { got = append(got, s) })

	_, err := b.NewTab("")
	require.NoError(t, err)
	require.NoError(t, b.SwitchTab("tab-1"))
	assert.Error(t, b.SwitchTab("nope"))
	require.Len(t, got, 2)
	assert.Equal(t, "tab-1", got[1].ActiveID)

	cancel()
	_, _ = b.NewTab("")
	assert.Len(t, got, 2)
}

func TestNavigateCommandsAttachedProxyTab(t *testing.T) {
	b := newBrowser(t)
	frame := &fakeFrame{}
	require.NoError(t, b.AttachFrame("tab-1", frame))

	// A blank tab is STUB: the host loads the page itself.
	require.NoError(t, b.Navigate("", "https://example.com/"))
	assert.Empty(t, frame.commands())

	require.NoError(t, b.Navigate("tab-1", "https://other.com/x"))
	assert.Equal(t, []string{"navigate https://other-com.proxy.test/x"}, frame.commands())

	tab := b.State().Tabs[0]
	assert.Equal(t, []string{"about:blank", "https://example.com/", "https://other.com/x"}, tab.History)
	assert.Equal(t, navigation.LoadingTitle, tab.Title)

	require.NoError(t, b.Navigate("tab-1", "/pages/wiki.html"))
	assert.Len(t, frame.commands(), 1, "local pages never go through the tunnel")
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go", b.State().Tabs[0].DisplayURL)

	u, err := b.FrameURL("tab-1")
	require.NoError(t, err)
	assert.Equal(t, "/pages/wiki.html", u)

	assert.ErrorIs(t, b.Navigate("nope", "https://x.com"), navigation.ErrUnknownTab)
	assert.ErrorIs(t, b.Navigate("tab-1", ""), navigation.ErrEmptyURL)
}

func TestBackForwardAndRefresh(t *testing.T) {
	b := newBrowser(t)
	frame := &fakeFrame{}
	require.NoError(t, b.AttachFrame("tab-1", frame))
	require.NoError(t, b.Navigate("", "https://a.com/"))
	require.NoError(t, b.Navigate("", "https://b.com/"))

	step, moved, err := b.Back("")
	require.NoError(t, err)
	require.True(t, moved)
	assert.True(t, step.Remote)

	step, moved, err = b.Back("")
	require.NoError(t, err)
	require.True(t, moved)
	assert.False(t, step.Remote)

	_, moved, err = b.Back("")
	require.NoError(t, err)
	assert.False(t, moved)
	assert.True(t, b.CanGoForward(""))

	ok, err := b.Refresh("")
	require.NoError(t, err)
	assert.False(t, ok, "about:blank has nothing to reload")

	_, _, err = b.Forward("")
	require.NoError(t, err)
	ok, err = b.Refresh("")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Loading a.com...", b.State().Tabs[0].Title)

	assert.Equal(t, []string{
		"navigate https://b-com.proxy.test/",
		"goBack ",
		"reload ",
	}, frame.commands())
}

func TestLifecycleEventsUpdateTab(t *testing.T) {
	b := newBrowser(t)
	frame := &fakeFrame{}
	require.NoError(t, b.AttachFrame("tab-1", frame))
	require.NoError(t, b.Navigate("", "https://example.com/"))

	send(t, b, frame, protocol.Navigation{
		URL:            "https://example-com.proxy.test/next",
		CanGoBack:      true,
		NavigationType: protocol.NavPushState,
		PageInfo:       &protocol.PageInfo{Title: "Next page"},
	})

	tab := b.State().Tabs[0]
	assert.Equal(t, "https://example.com/next", tab.URL)
	assert.Equal(t, 2, tab.HistoryIndex)
	assert.True(t, b.CanGoBack(""))
	assert.True(t, b.State().CanGoBack)

	// Title arrives after the navigation reset it.
	send(t, b, frame, protocol.Navigation{
		URL:      "https://example-com.proxy.test/next",
		PageInfo: &protocol.PageInfo{Title: "Next page"},
	})
	assert.Equal(t, "Next page", b.State().Tabs[0].Title)

	other := &fakeFrame{}
	err := b.HandleMessage(other, []byte(`{"type":"PROXY_TUNNEL_READY","url":"x"}`))
	assert.ErrorIs(t, err, tunnel.ErrUnknownSource)
}

func TestRemoteBackReconciledByNewDocument(t *testing.T) {
	b := newBrowser(t)
	frame := &fakeFrame{}
	require.NoError(t, b.AttachFrame("tab-1", frame))
	require.NoError(t, b.Navigate("", "https://a.example/"))
	require.NoError(t, b.Navigate("", "https://b.other/"))

	step, moved, err := b.Back("")
	require.NoError(t, err)
	require.True(t, moved)
	require.True(t, step.Remote)
	assert.Equal(t, "https://b.other/", b.State().Tabs[0].URL)

	send(t, b, frame, protocol.Ready{
		URL:      "https://a-example.proxy.test/",
		PageInfo: &protocol.PageInfo{Title: "A"},
	})
	tab := b.State().Tabs[0]
	assert.Equal(t, "https://a.example/", tab.URL)
	assert.Equal(t, "https://a.example/favicon.ico", tab.Favicon)
	assert.Equal(t, "A", tab.Title)
	assert.Equal(t, 1, tab.HistoryIndex)
	assert.Len(t, tab.History, 3)

	send(t, b, frame, protocol.Navigation{
		URL:            "https://a-example.proxy.test/",
		NavigationType: protocol.NavInitial,
	})
	tab = b.State().Tabs[0]
	assert.Equal(t, "https://a.example/", tab.URL)
	assert.Equal(t, 1, tab.HistoryIndex)
	assert.True(t, b.CanGoForward(""))

	// The first navigation left a STUB tab, so the host loaded it.
	assert.Equal(t, []string{
		"navigate https://b-other.proxy.test/",
		"goBack ",
		"getPageInfo ",
	}, frame.commands())
}

func TestReadyRequestsPageContent(t *testing.T) {
	b := newBrowser(t)
	require.NoError(t, b.Navigate("", "/pages/wiki.html"))

	doc, err := htmldoc.Parse(`<html><head><title>Wiki</title></head><body><p>Go is a language.</p></body></html>`,
		"http://localhost/pages/wiki.html")
	require.NoError(t, err)
	frame := &pageFrame{b: b, agent: pageagent.New(doc, htmldoc.NewSession(nil), pageagent.Config{})}
	require.NoError(t, b.AttachFrame("tab-1", frame))

	ready := frame.agent.Ready("http://localhost", true)
	send(t, b, frame, ready)

	require.Eventually(t, func() bool {
		return b.PageContent("tab-1") == "Go is a language."
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Wiki", b.State().Tabs[0].Title)
	assert.Equal(t, "/pages/wiki.html", b.State().Tabs[0].URL, "local pages are not re-navigated")

	resp, err := b.Call(context.Background(), "tab-1", protocol.CmdQuerySelector, "p")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"tagName":"P","textContent":"Go is a language.","id":"","className":""}]`, string(resp.Result))
}

func TestCloseTabCancelsPending(t *testing.T) {
	b := newBrowser(t)
	_, err := b.NewTab("https://example.com/")
	require.NoError(t, err)
	frame := &fakeFrame{}
	require.NoError(t, b.AttachFrame("tab-2", frame))

	errc := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), "tab-2", protocol.CmdGetPageInfo)
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(frame.commands()) == 1 }, time.Second, time.Millisecond)

	closed, err := b.CloseTab("tab-2")
	require.NoError(t, err)
	assert.True(t, closed)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, tunnel.ErrTabClosed)
	case <-time.After(time.Second):
		t.Fatal("pending call survived tab close")
	}
	_, ok := b.Frame("tab-2")
	assert.False(t, ok)
	_, ok = b.TabForFrame(frame)
	assert.False(t, ok)
	assert.Equal(t, "tab-1", b.State().ActiveID)
}

func TestPinnedTabSurvivesClose(t *testing.T) {
	b := newBrowser(t)
	require.NoError(t, b.PinTab("tab-1"))

	closed, err := b.CloseTab("tab-1")
	require.NoError(t, err)
	assert.False(t, closed)
	assert.True(t, b.State().Tabs[0].Pinned)

	require.NoError(t, b.UnpinTab("tab-1"))
	closed, err = b.CloseTab("tab-1")
	require.NoError(t, err)
	assert.True(t, closed)
	require.Len(t, b.State().Tabs, 1)
	assert.Equal(t, "tab-2", b.State().ActiveID)

	assert.ErrorIs(t, b.PinTab("nope"), navigation.ErrUnknownTab)
}

func TestReorderAndFrames(t *testing.T) {
	b := newBrowser(t)
	_, _ = b.NewTab("")
	_, _ = b.NewTab("")

	assert.True(t, b.ReorderTabs("tab-3", "tab-1", true))
	var ids []string
	for _, tab := range b.State().Tabs {
		ids = append(ids, tab.ID)
	}
	assert.Equal(t, []string{"tab-3", "tab-1", "tab-2"}, ids)

	assert.ErrorIs(t, b.AttachFrame("nope", &fakeFrame{}), navigation.ErrUnknownTab)

	f := &fakeFrame{}
	require.NoError(t, b.AttachFrame("tab-2", f))
	id, ok := b.TabForFrame(f)
	require.True(t, ok)
	assert.Equal(t, "tab-2", id)
	assert.True(t, b.DetachFrame("tab-2"))
	assert.False(t, b.DetachFrame("tab-2"))

	_, err := b.SendCommand("tab-2", protocol.CmdReload)
	assert.ErrorIs(t, err, tunnel.ErrNoFrame)

	u, err := b.FrameURL("tab-2")
	require.NoError(t, err)
	assert.Empty(t, u, "about:blank is rendered by the host")
}
