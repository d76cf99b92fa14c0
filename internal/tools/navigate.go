package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// NavigateInput defines input for the navigate tool.
type NavigateInput struct {
	Action string `json:"action" jsonschema:"Action: go, back, forward, refresh"`
	TabID  string `json:"tab_id,omitempty" jsonschema:"Tab ID (default: active tab)"`
	URL    string `json:"url,omitempty" jsonschema:"For go: URL or bare host to load"`
}

// NavigateOutput defines output for the navigate tool.
type NavigateOutput struct {
	Tab          TabOutput `json:"tab"`
	Moved        bool      `json:"moved"`
	Remote       bool      `json:"remote,omitempty"`
	CanGoBack    bool      `json:"can_go_back"`
	CanGoForward bool      `json:"can_go_forward"`
	Message      string    `json:"message,omitempty"`
}

func (bt *BrowserTools) makeNavigateHandler() func(context.Context, *mcp.CallToolRequest, NavigateInput) (*mcp.CallToolResult, NavigateOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input NavigateInput) (*mcp.CallToolResult, NavigateOutput, error) {
		tab, ok := bt.findTab(input.TabID)
		if !ok {
			return errorResult(fmt.Sprintf("unknown tab %q", input.TabID)), NavigateOutput{}, nil
		}
		id := tab.ID

		var out NavigateOutput
		switch input.Action {
		case "go":
			if input.URL == "" {
				return errorResult("url required for go"), NavigateOutput{}, nil
			}
			if err := bt.b.Navigate(id, input.URL); err != nil {
				return errorResult(err.Error()), NavigateOutput{}, nil
			}
			out.Moved = true
		case "back", "forward":
			move := bt.b.Back
			if input.Action == "forward" {
				move = bt.b.Forward
			}
			step, moved, err := move(id)
			if err != nil {
				return errorResult(err.Error()), NavigateOutput{}, nil
			}
			out.Moved = moved
			out.Remote = step.Remote
			if !moved {
				out.Message = "already at the end of history"
			}
		case "refresh":
			ok, err := bt.b.Refresh(id)
			if err != nil {
				return errorResult(err.Error()), NavigateOutput{}, nil
			}
			out.Moved = ok
			if !ok {
				out.Message = "only proxied pages reload"
			}
		default:
			return errorResult(fmt.Sprintf("unknown action %q", input.Action)), NavigateOutput{}, nil
		}

		bt.log.Debug("navigate",
			zap.String("tab", id),
			zap.String("action", input.Action),
			zap.Bool("moved", out.Moved))

		tab, _ = bt.findTab(id)
		out.Tab = tabOutput(tab)
		out.CanGoBack = bt.b.CanGoBack(id)
		out.CanGoForward = bt.b.CanGoForward(id)
		return nil, out, nil
	}
}
