// Package protocol defines the JSON messages exchanged between the host and
// an embedded page over the cross-document tunnel.
package protocol

// Message types carried in the "type" field of every tunnel message.
const (
	TypeCommand    = "PROXY_TUNNEL_COMMAND"
	TypeResponse   = "PROXY_TUNNEL_RESPONSE"
	TypeReady      = "PROXY_TUNNEL_READY"
	TypeNavigation = "PROXY_TUNNEL_NAVIGATION"
)

// Command names understood by the control script.
const (
	CmdGetElement      = "getElement"
	CmdQuerySelector   = "querySelector"
	CmdGetPageInfo     = "getPageInfo"
	CmdScrollToElement = "scrollToElement"
	CmdClickElement    = "clickElement"
	CmdReload          = "reload"
	CmdGoBack          = "goBack"
	CmdGoForward       = "goForward"
	CmdNavigate        = "navigate"
)

// Navigation types reported by the control script.
const (
	NavInitial      = "initial"
	NavPopState     = "popstate"
	NavPushState    = "pushstate"
	NavReplaceState = "replacestate"
	NavBeforeUnload = "beforeunload"
)

// CommandNames lists every command in the table, in documentation order.
var CommandNames = []string{
	CmdGetElement, CmdQuerySelector, CmdGetPageInfo, CmdScrollToElement,
	CmdClickElement, CmdReload, CmdGoBack, CmdGoForward, CmdNavigate,
}

// Command is sent from the host to an embedded page.
type Command struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Command string `json:"command"`
	Args    []any  `json:"args"`
	// TabID tags the command with the tab that issued it. The embedded page
	// echoes it back unchanged.
	TabID string `json:"tabId,omitempty"`
}

// NewCommand builds a command message. A nil args slice is sent as [].
func NewCommand(id, name, tabID string, args ...any) Command {
	if args == nil {
		args = []any{}
	}
	return Command{
		Type:    TypeCommand,
		ID:      id,
		Command: name,
		Args:    args,
		TabID:   tabID,
	}
}

// StringArg returns args[i] as a string, or "" when absent or not a string.
func (c Command) StringArg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	s, _ := c.Args[i].(string)
	return s
}
