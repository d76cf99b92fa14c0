package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/tabgate/internal/browser"
	"github.com/standardbeagle/tabgate/internal/codec"
	"github.com/standardbeagle/tabgate/internal/protocol"
)

func newServer(t *testing.T, cfg Config) (*httptest.Server, *browser.Browser) {
	t.Helper()
	var n int
	b := browser.New(browser.Config{
		Codec: codec.New("proxy.test"),
		NewID: func() string {
			n++
			return "tab-" + strconv.Itoa(n)
		},
	})
	srv := httptest.NewServer(New(b, cfg).Handler())
	t.Cleanup(srv.Close)
	return srv, b
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads messages until one of the given kind arrives.
func next(t *testing.T, conn *websocket.Conn, kind string) Outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var m Outbound
		require.NoError(t, conn.ReadJSON(&m))
		if m.Kind == kind {
			return m
		}
	}
}

func write(t *testing.T, conn *websocket.Conn, in Inbound) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(in))
}

func frameData(t *testing.T, m protocol.Message) json.RawMessage {
	t.Helper()
	data, err := protocol.Encode(m)
	require.NoError(t, err)
	return data
}

func TestBridgeRoundTrip(t *testing.T) {
	srv, b := newServer(t, Config{})
	conn := dial(t, srv, nil)

	st := next(t, conn, KindState)
	require.NotNil(t, st.State)
	require.Len(t, st.State.Tabs, 1)
	assert.Equal(t, "tab-1", st.State.ActiveID)

	write(t, conn, Inbound{Kind: KindAction, Action: ActionNewTab, URL: "example.com"})
	st = next(t, conn, KindState)
	require.Len(t, st.State.Tabs, 2)
	assert.Equal(t, "https://example-com.proxy.test", st.Frames["tab-2"])

	write(t, conn, Inbound{Kind: KindAttach, TabID: "tab-2"})
	write(t, conn, Inbound{Kind: KindAction, Action: ActionNavigate, TabID: "tab-2", URL: "https://other.com/x"})

	post := next(t, conn, KindPost)
	assert.Equal(t, "tab-2", post.TabID)
	assert.Equal(t, "*", post.TargetOrigin)
	msg, err := protocol.Decode(post.Data)
	require.NoError(t, err)
	cmd := msg.(protocol.Command)
	assert.Equal(t, protocol.CmdNavigate, cmd.Command)
	assert.Equal(t, "https://other-com.proxy.test/x", cmd.StringArg(0))
	assert.Equal(t, "tab-2", cmd.TabID)

	// The page answers and then reports where it landed.
	write(t, conn, Inbound{Kind: KindMessage, TabID: "tab-2", Origin: "https://other-com.proxy.test",
		Data: frameData(t, protocol.Response{ID: cmd.ID, Command: cmd.Command, Result: json.RawMessage("true")})})
	write(t, conn, Inbound{Kind: KindMessage, TabID: "tab-2", Origin: "https://other-com.proxy.test",
		Data: frameData(t, protocol.Navigation{URL: "https://other-com.proxy.test/y", CanGoBack: true, NavigationType: protocol.NavPushState})})

	require.Eventually(t, func() bool {
		tab := b.State().Tabs[1]
		return tab.URL == "https://other.com/y"
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, b.CanGoBack("tab-2"))
}

func TestBridgeErrors(t *testing.T) {
	srv, _ := newServer(t, Config{})
	conn := dial(t, srv, nil)
	next(t, conn, KindState)

	write(t, conn, Inbound{Kind: KindMessage, TabID: "tab-1", Data: json.RawMessage(`{"type":"PROXY_TUNNEL_READY"}`)})
	e := next(t, conn, KindError)
	assert.Contains(t, e.Error, "not attached")

	write(t, conn, Inbound{Kind: KindAction, Action: "teleport"})
	e = next(t, conn, KindError)
	assert.Contains(t, e.Error, "unknown action")

	write(t, conn, Inbound{Kind: KindAttach, TabID: "nope"})
	e = next(t, conn, KindError)
	assert.Contains(t, e.Error, "unknown tab")

	// Unrelated page messages are ignored without an error reply.
	write(t, conn, Inbound{Kind: KindAttach, TabID: "tab-1"})
	write(t, conn, Inbound{Kind: KindMessage, TabID: "tab-1", Data: json.RawMessage(`{"type":"webpackOk"}`)})
	write(t, conn, Inbound{Kind: KindAction, Action: ActionState})
	next(t, conn, KindState)
}

func TestBridgeDetachesOnDisconnect(t *testing.T) {
	srv, b := newServer(t, Config{})
	conn := dial(t, srv, nil)
	next(t, conn, KindState)

	write(t, conn, Inbound{Kind: KindAttach, TabID: "tab-1"})
	require.Eventually(t, func() bool {
		_, ok := b.Frame("tab-1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		_, ok := b.Frame("tab-1")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBridgeCheckOrigin(t *testing.T) {
	srv, _ := newServer(t, Config{AllowedOrigins: []string{"https://shell.test"}})
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath

	_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"https://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, srv, http.Header{"Origin": {"https://shell.test"}})
	next(t, conn, KindState)

	same, _ := newServer(t, Config{})
	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(same.URL, "http")+DefaultPath,
		http.Header{"Origin": {"https://elsewhere.test"}})
	assert.Error(t, err, "empty allow-list means same-origin only")
}

// settle round-trips a state action so every earlier message on conn has been
// dispatched.
func settle(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	write(t, conn, Inbound{Kind: KindAction, Action: ActionState})
	next(t, conn, KindState)
}

func TestDetachFromStaleConnectionKeepsNewOwner(t *testing.T) {
	srv, b := newServer(t, Config{})
	first := dial(t, srv, nil)
	next(t, first, KindState)
	second := dial(t, srv, nil)
	next(t, second, KindState)

	write(t, first, Inbound{Kind: KindAttach, TabID: "tab-1"})
	settle(t, first)
	write(t, second, Inbound{Kind: KindAttach, TabID: "tab-1"})
	settle(t, second)

	cur, ok := b.Frame("tab-1")
	require.True(t, ok)
	owner := cur.(*frame)

	write(t, first, Inbound{Kind: KindDetach, TabID: "tab-1"})
	settle(t, first)
	cur, ok = b.Frame("tab-1")
	require.True(t, ok, "stale detach must not unbind the new shell's frame")
	assert.Same(t, owner, cur.(*frame))

	write(t, second, Inbound{Kind: KindDetach, TabID: "tab-1"})
	settle(t, second)
	_, ok = b.Frame("tab-1")
	assert.False(t, ok)
}
