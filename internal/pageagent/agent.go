// Package pageagent runs the control command table against a page. It is the
// Go counterpart of the injected script: it validates the sender origin,
// decodes commands, executes them against a Document and builds the reply.
package pageagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/standardbeagle/tabgate/internal/logging"
	"github.com/standardbeagle/tabgate/internal/protocol"
)

// ErrUnknownCommand is returned for command names outside the table.
var ErrUnknownCommand = errors.New("unknown command")

// Document is the DOM query capability commands run against.
type Document interface {
	// Element returns a snapshot of the first match, or nil when nothing matches.
	Element(selector string) (*protocol.ElementSnapshot, error)
	QueryAll(selector string) ([]protocol.ElementSummary, error)
	PageInfo() protocol.PageInfo
	// ScrollTo and Click report whether an element matched.
	ScrollTo(selector string) (bool, error)
	Click(selector string) (bool, error)
}

// Navigator drives the page's browsing context.
type Navigator interface {
	Reload(ctx context.Context) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	CanGoBack() bool
}

// Config configures an Agent.
type Config struct {
	// AllowedOrigins lists the origins commands are accepted from. "*"
	// accepts any origin; an empty list behaves like ["*"].
	AllowedOrigins []string
	Logger         *zap.Logger
}

type handler func(ctx context.Context, cmd protocol.Command) (any, error)

// Agent executes tunnel commands against a page.
type Agent struct {
	doc      Document
	nav      Navigator
	allowed  []string
	log      *zap.Logger
	handlers map[string]handler
}

// New creates an Agent over doc and nav.
func New(doc Document, nav Navigator, cfg Config) *Agent {
	allowed := cfg.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	a := &Agent{
		doc:     doc,
		nav:     nav,
		allowed: allowed,
		log:     logging.OrNop(cfg.Logger).Named("pageagent"),
	}
	a.handlers = map[string]handler{
		protocol.CmdGetElement:      a.getElement,
		protocol.CmdQuerySelector:   a.querySelector,
		protocol.CmdGetPageInfo:     a.getPageInfo,
		protocol.CmdScrollToElement: a.scrollToElement,
		protocol.CmdClickElement:    a.clickElement,
		protocol.CmdReload:          a.reload,
		protocol.CmdGoBack:          a.goBack,
		protocol.CmdGoForward:       a.goForward,
		protocol.CmdNavigate:        a.navigate,
	}
	return a
}

// OriginAllowed reports whether commands from origin are accepted.
func (a *Agent) OriginAllowed(origin string) bool {
	return slices.Contains(a.allowed, "*") || slices.Contains(a.allowed, origin)
}

// Handle processes one inbound message. The boolean is false when the
// message is dropped without a reply: a rejected origin, anything that is
// not a well-formed command, or a cancelled context.
func (a *Agent) Handle(ctx context.Context, origin string, data []byte) (*protocol.Response, bool) {
	if !a.OriginAllowed(origin) {
		a.log.Debug("origin rejected", zap.String("origin", origin))
		return nil, false
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return nil, false
	}
	cmd, ok := msg.(protocol.Command)
	if !ok {
		return nil, false
	}
	if ctx.Err() != nil {
		return nil, false
	}

	resp := &protocol.Response{
		Type:    protocol.TypeResponse,
		ID:      cmd.ID,
		Command: cmd.Command,
		TabID:   cmd.TabID,
	}

	result, err := a.run(ctx, cmd)
	if err != nil {
		if errors.Is(err, ErrUnknownCommand) {
			resp.Error = "Unknown command: " + cmd.Command
		} else {
			resp.Error = err.Error()
		}
		return resp, true
	}

	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = fmt.Sprintf("encode result: %v", err)
		return resp, true
	}
	resp.Result = raw
	return resp, true
}

// Serve handles data in its own goroutine and delivers the reply, if any,
// through reply. Replies arrive in completion order.
func (a *Agent) Serve(ctx context.Context, origin string, data []byte, reply func(protocol.Response)) {
	go func() {
		if resp, ok := a.Handle(ctx, origin, data); ok {
			reply(*resp)
		}
	}()
}

func (a *Agent) run(ctx context.Context, cmd protocol.Command) (result any, err error) {
	h, ok := a.handlers[cmd.Command]
	if !ok {
		return nil, ErrUnknownCommand
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("command panicked", zap.String("command", cmd.Command), zap.Any("panic", r))
			result, err = nil, fmt.Errorf("%s failed: %v", cmd.Command, r)
		}
	}()
	return h(ctx, cmd)
}

// Ready builds the READY event for the current page.
func (a *Agent) Ready(origin string, domLoaded bool) protocol.Ready {
	info := a.doc.PageInfo()
	return protocol.Ready{
		Type:      protocol.TypeReady,
		Origin:    origin,
		URL:       info.URL,
		PageInfo:  &info,
		DOMLoaded: domLoaded,
	}
}

// Navigation builds a NAVIGATION event of the given type. Forward history is
// never observable from inside a page.
func (a *Agent) Navigation(navigationType string) protocol.Navigation {
	info := a.doc.PageInfo()
	return protocol.Navigation{
		Type:           protocol.TypeNavigation,
		URL:            info.URL,
		CanGoBack:      a.nav.CanGoBack(),
		CanGoForward:   false,
		NavigationType: navigationType,
		PageInfo:       &info,
	}
}

func (a *Agent) getElement(_ context.Context, cmd protocol.Command) (any, error) {
	el, err := a.doc.Element(cmd.StringArg(0))
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, nil
	}
	return el, nil
}

func (a *Agent) querySelector(_ context.Context, cmd protocol.Command) (any, error) {
	list, err := a.doc.QueryAll(cmd.StringArg(0))
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []protocol.ElementSummary{}
	}
	return list, nil
}

func (a *Agent) getPageInfo(context.Context, protocol.Command) (any, error) {
	return a.doc.PageInfo(), nil
}

func (a *Agent) scrollToElement(_ context.Context, cmd protocol.Command) (any, error) {
	return a.doc.ScrollTo(cmd.StringArg(0))
}

func (a *Agent) clickElement(_ context.Context, cmd protocol.Command) (any, error) {
	return a.doc.Click(cmd.StringArg(0))
}

func (a *Agent) reload(ctx context.Context, _ protocol.Command) (any, error) {
	if err := a.nav.Reload(ctx); err != nil {
		return nil, err
	}
	return true, nil
}

func (a *Agent) goBack(ctx context.Context, _ protocol.Command) (any, error) {
	if err := a.nav.Back(ctx); err != nil {
		return nil, err
	}
	return true, nil
}

func (a *Agent) goForward(ctx context.Context, _ protocol.Command) (any, error) {
	if err := a.nav.Forward(ctx); err != nil {
		return nil, err
	}
	return true, nil
}

func (a *Agent) navigate(ctx context.Context, cmd protocol.Command) (any, error) {
	url := cmd.StringArg(0)
	if url == "" {
		return nil, errors.New("navigate: url argument required")
	}
	if err := a.nav.Navigate(ctx, url); err != nil {
		return nil, err
	}
	return true, nil
}
