package protocol

import "encoding/json"

// Response answers a Command with the same ID.
type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	TabID   string          `json:"tabId,omitempty"`
}

// OK reports whether the response carries a result rather than an error.
func (r Response) OK() bool {
	return r.Error == ""
}

// Decode unmarshals the result into v.
func (r Response) Decode(v any) error {
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// Ready is broadcast by the embedded page once the control script runs and
// again when the DOM has loaded.
type Ready struct {
	Type      string    `json:"type"`
	Origin    string    `json:"origin"`
	URL       string    `json:"url"`
	PageInfo  *PageInfo `json:"pageInfo,omitempty"`
	DOMLoaded bool      `json:"domLoaded,omitempty"`
}

// Navigation is broadcast whenever the embedded document navigates.
// CanGoForward is always false: forward history is not observable from
// inside a document.
type Navigation struct {
	Type           string    `json:"type"`
	URL            string    `json:"url"`
	CanGoBack      bool      `json:"canGoBack"`
	CanGoForward   bool      `json:"canGoForward"`
	NavigationType string    `json:"navigationType"`
	PageInfo       *PageInfo `json:"pageInfo,omitempty"`
}

// PageInfo is the result of getPageInfo. Content and Text are not produced by
// the control script itself but are honoured when a page supplies them.
type PageInfo struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	ReadyState     string  `json:"readyState"`
	DocumentHeight float64 `json:"documentHeight"`
	ViewportHeight float64 `json:"viewportHeight"`
	Content        string  `json:"content,omitempty"`
	Text           string  `json:"text,omitempty"`
}

// Rect mirrors DOMRect.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// ElementSnapshot is the result of getElement.
type ElementSnapshot struct {
	TagName     string            `json:"tagName"`
	InnerHTML   string            `json:"innerHTML"`
	TextContent string            `json:"textContent"`
	InnerText   string            `json:"innerText"`
	Attributes  map[string]string `json:"attributes"`
	Rect        Rect              `json:"rect"`
}

// ElementSummary is one entry of the querySelector result.
type ElementSummary struct {
	TagName     string `json:"tagName"`
	TextContent string `json:"textContent"`
	ID          string `json:"id"`
	ClassName   string `json:"className"`
}
