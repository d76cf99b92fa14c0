package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TabsInput defines input for the tabs tool.
type TabsInput struct {
	Action   string `json:"action" jsonschema:"Action: list, new, switch, close, pin, unpin, reorder"`
	ID       string `json:"id,omitempty" jsonschema:"Tab ID (required for switch/close/pin/unpin/reorder)"`
	URL      string `json:"url,omitempty" jsonschema:"For new: URL to open (default: about:blank)"`
	TargetID string `json:"target_id,omitempty" jsonschema:"For reorder: tab to drop next to"`
	Before   bool   `json:"before,omitempty" jsonschema:"For reorder: drop before target_id instead of after"`
}

// TabsOutput defines output for the tabs tool.
type TabsOutput struct {
	Tabs     []TabOutput `json:"tabs,omitempty"`
	ActiveID string      `json:"active_id,omitempty"`
	Tab      *TabOutput  `json:"tab,omitempty"`
	Success  bool        `json:"success"`
	Message  string      `json:"message,omitempty"`
}

func (bt *BrowserTools) makeTabsHandler() func(context.Context, *mcp.CallToolRequest, TabsInput) (*mcp.CallToolResult, TabsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input TabsInput) (*mcp.CallToolResult, TabsOutput, error) {
		switch input.Action {
		case "list", "":
			return bt.handleTabsList()
		case "new":
			tab, err := bt.b.NewTab(input.URL)
			if err != nil {
				return errorResult(err.Error()), TabsOutput{}, nil
			}
			out := tabOutput(tab)
			return nil, TabsOutput{Tab: &out, ActiveID: tab.ID, Success: true}, nil
		}

		if input.ID == "" {
			return errorResult(fmt.Sprintf("id required for %s", input.Action)), TabsOutput{}, nil
		}

		var err error
		msg := ""
		switch input.Action {
		case "switch":
			err = bt.b.SwitchTab(input.ID)
		case "close":
			var closed bool
			closed, err = bt.b.CloseTab(input.ID)
			if err == nil && !closed {
				msg = "pinned tabs are not closed"
			}
		case "pin":
			err = bt.b.PinTab(input.ID)
		case "unpin":
			err = bt.b.UnpinTab(input.ID)
		case "reorder":
			if input.TargetID == "" {
				return errorResult("target_id required for reorder"), TabsOutput{}, nil
			}
			if !bt.b.ReorderTabs(input.ID, input.TargetID, input.Before) {
				msg = "order unchanged"
			}
		default:
			return errorResult(fmt.Sprintf("unknown action %q", input.Action)), TabsOutput{}, nil
		}
		if err != nil {
			return errorResult(err.Error()), TabsOutput{}, nil
		}

		_, out, _ := bt.handleTabsList()
		out.Success = msg == ""
		out.Message = msg
		return nil, out, nil
	}
}

func (bt *BrowserTools) handleTabsList() (*mcp.CallToolResult, TabsOutput, error) {
	st := bt.b.State()
	out := TabsOutput{ActiveID: st.ActiveID, Success: true}
	for _, t := range st.Tabs {
		out.Tabs = append(out.Tabs, tabOutput(t))
	}
	return nil, out, nil
}
