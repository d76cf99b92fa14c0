package bridge

import (
	"encoding/json"

	"github.com/standardbeagle/tabgate/internal/browser"
)

// Message kinds sent by the shell.
const (
	KindAttach  = "attach"
	KindDetach  = "detach"
	KindMessage = "message"
	KindAction  = "action"
)

// Message kinds sent to the shell.
const (
	KindPost  = "post"
	KindState = "state"
	KindError = "error"
)

// Actions carried by KindAction messages.
const (
	ActionNewTab   = "newTab"
	ActionSwitch   = "switchTab"
	ActionClose    = "closeTab"
	ActionReorder  = "reorderTabs"
	ActionPin      = "pinTab"
	ActionUnpin    = "unpinTab"
	ActionNavigate = "navigate"
	ActionBack     = "back"
	ActionForward  = "forward"
	ActionRefresh  = "refresh"
	ActionState    = "state"
)

// Inbound is a message from the shell page.
type Inbound struct {
	Kind  string `json:"kind"`
	TabID string `json:"tabId,omitempty"`

	// message: the event origin and payload the shell received from a frame.
	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`

	// action
	Action   string `json:"action,omitempty"`
	URL      string `json:"url,omitempty"`
	TargetID string `json:"targetId,omitempty"`
	Before   bool   `json:"before,omitempty"`
}

// Outbound is a message to the shell page.
type Outbound struct {
	Kind string `json:"kind"`

	// post: data to hand to the tab's frame with postMessage.
	TabID        string          `json:"tabId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	TargetOrigin string          `json:"targetOrigin,omitempty"`

	// state: the tab strip plus the URL each tab's frame should load.
	State  *browser.State    `json:"state,omitempty"`
	Frames map[string]string `json:"frames,omitempty"`

	Error string `json:"error,omitempty"`
}
