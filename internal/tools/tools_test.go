package tools

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/tabgate/internal/browser"
	"github.com/standardbeagle/tabgate/internal/codec"
	"github.com/standardbeagle/tabgate/internal/pageagent"
	"github.com/standardbeagle/tabgate/internal/pageagent/htmldoc"
	"github.com/standardbeagle/tabgate/internal/protocol"
)

// docFrame answers tunnel commands from a parsed document.
type docFrame struct {
	b     *browser.Browser
	agent *pageagent.Agent
}

func (f *docFrame) PostMessage(data []byte, _ string) error {
	f.agent.Serve(context.Background(), "*", data, func(r protocol.Response) {
		if out, err := protocol.Encode(r); err == nil {
			_ = f.b.HandleMessage(f, out)
		}
	})
	return nil
}

func setup(t *testing.T) (*browser.Browser, *mcp.ClientSession) {
	t.Helper()
	var n int
	b := browser.New(browser.Config{
		Codec: codec.New("proxy.test"),
		NewID: func() string {
			n++
			return "tab-" + strconv.Itoa(n)
		},
	})

	server := mcp.NewServer(&mcp.Implementation{Name: "tabgate-test", Version: "0"}, &mcp.ServerOptions{
		HasTools:     true,
		Instructions: Instructions,
	})
	Register(server, NewBrowserTools(b, Config{}))

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return b, cs
}

// call runs a tool and decodes its output into out unless it failed.
func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if res.IsError || out == nil {
		return res
	}

	var data []byte
	if res.StructuredContent != nil {
		data, err = json.Marshal(res.StructuredContent)
		require.NoError(t, err)
	} else {
		require.NotEmpty(t, res.Content)
		data = []byte(res.Content[0].(*mcp.TextContent).Text)
	}
	require.NoError(t, json.Unmarshal(data, out))
	return res
}

func errorText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	return res.Content[0].(*mcp.TextContent).Text
}

func TestTabsTool(t *testing.T) {
	_, cs := setup(t)

	var out TabsOutput
	call(t, cs, "tabs", map[string]any{"action": "list"}, &out)
	require.Len(t, out.Tabs, 1)
	assert.Equal(t, "tab-1", out.ActiveID)

	out = TabsOutput{}
	call(t, cs, "tabs", map[string]any{"action": "new", "url": "example.com"}, &out)
	require.NotNil(t, out.Tab)
	assert.Equal(t, "tab-2", out.Tab.ID)
	assert.Equal(t, "https://example.com", out.Tab.URL)
	assert.Equal(t, "proxy", out.Tab.Type)

	out = TabsOutput{}
	call(t, cs, "tabs", map[string]any{"action": "pin", "id": "tab-2"}, &out)
	assert.True(t, out.Success)

	out = TabsOutput{}
	call(t, cs, "tabs", map[string]any{"action": "close", "id": "tab-2"}, &out)
	assert.False(t, out.Success)
	assert.Equal(t, "pinned tabs are not closed", out.Message)
	assert.Len(t, out.Tabs, 2)

	out = TabsOutput{}
	call(t, cs, "tabs", map[string]any{"action": "reorder", "id": "tab-2", "target_id": "tab-1", "before": true}, &out)
	require.Len(t, out.Tabs, 2)
	assert.Equal(t, "tab-2", out.Tabs[0].ID)

	res := call(t, cs, "tabs", map[string]any{"action": "switch"}, nil)
	assert.Contains(t, errorText(t, res), "id required")

	res = call(t, cs, "tabs", map[string]any{"action": "switch", "id": "nope"}, nil)
	assert.Contains(t, errorText(t, res), "unknown tab")

	res = call(t, cs, "tabs", map[string]any{"action": "teleport", "id": "tab-1"}, nil)
	assert.Contains(t, errorText(t, res), "unknown action")
}

func TestNavigateTool(t *testing.T) {
	b, cs := setup(t)

	var out NavigateOutput
	call(t, cs, "navigate", map[string]any{"action": "go", "url": "a.example"}, &out)
	assert.Equal(t, "https://a.example", out.Tab.URL)
	assert.True(t, out.CanGoBack)

	out = NavigateOutput{}
	call(t, cs, "navigate", map[string]any{"action": "go", "url": "https://b.example/"}, &out)
	assert.Equal(t, 2, out.Tab.HistoryIndex)

	// No frame is attached, so the remote back is recorded but not sent.
	out = NavigateOutput{}
	call(t, cs, "navigate", map[string]any{"action": "back", "tab_id": "tab-1"}, &out)
	assert.True(t, out.Moved)
	assert.True(t, out.Remote)
	assert.Equal(t, 1, out.Tab.HistoryIndex)
	assert.True(t, out.CanGoForward)
	assert.Equal(t, 1, b.State().Tabs[0].HistoryIndex)

	res := call(t, cs, "navigate", map[string]any{"action": "go"}, nil)
	assert.Contains(t, errorText(t, res), "url required")

	res = call(t, cs, "navigate", map[string]any{"action": "back", "tab_id": "nope"}, nil)
	assert.Contains(t, errorText(t, res), "unknown tab")
}

func TestPageTool(t *testing.T) {
	b, cs := setup(t)

	res := call(t, cs, "page", map[string]any{"action": "info"}, nil)
	assert.Contains(t, errorText(t, res), "no attached frame")

	doc, err := htmldoc.Parse(`<html><head><title>Fixture</title></head>
<body><h1 id="top">Hello</h1><a class="nav">One</a><a class="nav">Two</a></body></html>`, "https://example.com/")
	require.NoError(t, err)
	frame := &docFrame{b: b, agent: pageagent.New(doc, htmldoc.NewSession(nil), pageagent.Config{})}
	require.NoError(t, b.AttachFrame("tab-1", frame))

	var out PageOutput
	call(t, cs, "page", map[string]any{"action": "info"}, &out)
	require.NotNil(t, out.Info)
	assert.Equal(t, "Fixture", out.Info.Title)
	assert.Equal(t, "tab-1", out.TabID)

	out = PageOutput{}
	call(t, cs, "page", map[string]any{"action": "query", "selector": "a.nav"}, &out)
	require.Len(t, out.Elements, 2)
	assert.Equal(t, "Two", out.Elements[1].TextContent)

	out = PageOutput{}
	call(t, cs, "page", map[string]any{"action": "element", "selector": "#top"}, &out)
	require.NotNil(t, out.Element)
	assert.Equal(t, "Hello", out.Element.TextContent)

	out = PageOutput{}
	call(t, cs, "page", map[string]any{"action": "click", "selector": "#missing"}, &out)
	assert.False(t, out.Found)

	// Page text is cached once the response has been handled.
	require.Eventually(t, func() bool {
		return strings.Contains(b.PageContent("tab-1"), "Hello")
	}, 2*time.Second, 10*time.Millisecond)
	out = PageOutput{}
	call(t, cs, "page", map[string]any{"action": "content"}, &out)
	assert.True(t, out.Found)
	assert.Contains(t, out.Content, "Hello")

	res = call(t, cs, "page", map[string]any{"action": "query"}, nil)
	assert.Contains(t, errorText(t, res), "selector required")
}
