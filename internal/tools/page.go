package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/tabgate/internal/protocol"
	"github.com/standardbeagle/tabgate/internal/tunnel"
)

// PageInput defines input for the page tool.
type PageInput struct {
	Action    string `json:"action" jsonschema:"Action: info, content, element, query, click, scroll"`
	TabID     string `json:"tab_id,omitempty" jsonschema:"Tab ID (default: active tab)"`
	Selector  string `json:"selector,omitempty" jsonschema:"CSS selector (required for element/query/click/scroll)"`
	TimeoutMs int    `json:"timeout_ms,omitempty" jsonschema:"Command timeout in milliseconds (default: 10000)"`
}

// PageOutput defines output for the page tool.
type PageOutput struct {
	TabID    string                    `json:"tab_id"`
	Info     *protocol.PageInfo        `json:"info,omitempty"`
	Content  string                    `json:"content,omitempty"`
	Element  *protocol.ElementSnapshot `json:"element,omitempty"`
	Elements []protocol.ElementSummary `json:"elements,omitempty"`
	Found    bool                      `json:"found"`
}

var pageCommands = map[string]string{
	"info":    protocol.CmdGetPageInfo,
	"element": protocol.CmdGetElement,
	"query":   protocol.CmdQuerySelector,
	"click":   protocol.CmdClickElement,
	"scroll":  protocol.CmdScrollToElement,
}

func (bt *BrowserTools) makePageHandler() func(context.Context, *mcp.CallToolRequest, PageInput) (*mcp.CallToolResult, PageOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PageInput) (*mcp.CallToolResult, PageOutput, error) {
		tab, ok := bt.findTab(input.TabID)
		if !ok {
			return errorResult(fmt.Sprintf("unknown tab %q", input.TabID)), PageOutput{}, nil
		}
		out := PageOutput{TabID: tab.ID}

		if input.Action == "content" {
			out.Content = bt.b.PageContent(tab.ID)
			out.Found = out.Content != ""
			return nil, out, nil
		}

		command, ok := pageCommands[input.Action]
		if !ok {
			return errorResult(fmt.Sprintf("unknown action %q", input.Action)), PageOutput{}, nil
		}
		var args []any
		if command != protocol.CmdGetPageInfo {
			if input.Selector == "" {
				return errorResult(fmt.Sprintf("selector required for %s", input.Action)), PageOutput{}, nil
			}
			args = append(args, input.Selector)
		}

		timeout := bt.timeout
		if input.TimeoutMs > 0 {
			timeout = time.Duration(input.TimeoutMs) * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resp, err := bt.b.Call(ctx, tab.ID, command, args...)
		switch {
		case errors.Is(err, tunnel.ErrNoFrame):
			return errorResult(fmt.Sprintf("tab %s has no attached frame: is the host shell connected?", tab.ID)), PageOutput{}, nil
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, tunnel.ErrCommandTimeout):
			return errorResult(fmt.Sprintf("%s timed out after %s", command, timeout)), PageOutput{}, nil
		case err != nil:
			return errorResult(err.Error()), PageOutput{}, nil
		}

		switch command {
		case protocol.CmdGetPageInfo:
			var info protocol.PageInfo
			err = resp.Decode(&info)
			out.Info = &info
			out.Found = true
		case protocol.CmdGetElement:
			err = resp.Decode(&out.Element)
			out.Found = out.Element != nil
		case protocol.CmdQuerySelector:
			err = resp.Decode(&out.Elements)
			out.Found = len(out.Elements) > 0
		default:
			err = resp.Decode(&out.Found)
		}
		if err != nil {
			return errorResult(fmt.Sprintf("bad %s result: %v", command, err)), PageOutput{}, nil
		}
		return nil, out, nil
	}
}
