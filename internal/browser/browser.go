// Package browser is the host-side orchestrator. It owns the tab set, the
// frame registry and the tunnel transport, and keeps tab state in sync with
// the lifecycle events of embedded pages.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/standardbeagle/tabgate/internal/codec"
	"github.com/standardbeagle/tabgate/internal/logging"
	"github.com/standardbeagle/tabgate/internal/navigation"
	"github.com/standardbeagle/tabgate/internal/protocol"
	"github.com/standardbeagle/tabgate/internal/tunnel"
)

// Config configures a Browser.
type Config struct {
	Codec          codec.Codec
	CommandTimeout time.Duration
	// TargetOrigin restricts delivery of posted commands. Defaults to "*".
	TargetOrigin string
	LocalPages   navigation.LocalPages
	// NewID generates tab ids. Defaults to random UUIDs.
	NewID  func() string
	Logger *zap.Logger
}

// State is a snapshot of the tab strip and the active tab's navigation
// capability.
type State struct {
	Tabs         []navigation.Tab `json:"tabs"`
	ActiveID     string           `json:"activeId"`
	CanGoBack    bool             `json:"canGoBack"`
	CanGoForward bool             `json:"canGoForward"`
}

// Browser is safe for concurrent use. Lock order is Browser, then
// Transport, then the frame registry. Subscribers run without any lock held.
type Browser struct {
	codec     codec.Codec
	frames    *tunnel.Registry
	transport *tunnel.Transport
	log       *zap.Logger

	mu        sync.Mutex
	tabs      *navigation.TabSet
	proxyBack map[string]bool
	content   map[string]string
	subs      map[int]func(State)
	nextSub   int
}

// New creates a Browser with one blank tab.
func New(cfg Config) *Browser {
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	b := &Browser{
		codec:     cfg.Codec,
		frames:    tunnel.NewRegistry(),
		log:       logging.OrNop(cfg.Logger).Named("browser"),
		tabs:      navigation.NewTabSet(cfg.NewID, cfg.LocalPages),
		proxyBack: make(map[string]bool),
		content:   make(map[string]string),
		subs:      make(map[int]func(State)),
	}
	b.transport = tunnel.New(b.frames, tunnel.Config{
		Codec:          cfg.Codec,
		CommandTimeout: cfg.CommandTimeout,
		TargetOrigin:   cfg.TargetOrigin,
		TabURL:         b.tabURL,
		Logger:         cfg.Logger,
		Handlers: tunnel.Handlers{
			OnNavigate:        b.onNavigate,
			OnNavigationState: b.onNavigationState,
			OnPageInfo:        b.onPageInfo,
			OnPageContent:     b.onPageContent,
			OnReady:           b.onReady,
		},
	})
	return b
}

// update runs fn under the lock and notifies subscribers when fn reports a
// change.
func (b *Browser) update(fn func() (bool, error)) error {
	b.mu.Lock()
	changed, err := fn()
	if !changed {
		b.mu.Unlock()
		return err
	}
	st := b.stateLocked()
	subs := make([]func(State), 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s(st)
	}
	return err
}

func (b *Browser) tabLocked(id string) (*navigation.Tab, error) {
	if id == "" {
		return b.tabs.Active(), nil
	}
	t, ok := b.tabs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", navigation.ErrUnknownTab, id)
	}
	return t, nil
}

// NewTab opens a tab showing raw (about:blank when empty) and activates it.
func (b *Browser) NewTab(raw string) (navigation.Tab, error) {
	var created navigation.Tab
	err := b.update(func() (bool, error) {
		target, display := "", ""
		if raw != "" {
			p, err := navigation.ParseNavigationURL(raw, b.tabs.LocalPages())
			if err != nil {
				return false, err
			}
			target, display = p.URL, p.DisplayURL
		}
		t := b.tabs.Create(target)
		if display != "" && display != t.URL {
			t.DisplayURL = display
		}
		created = t.Clone()
		return true, nil
	})
	return created, err
}

// SwitchTab activates id.
func (b *Browser) SwitchTab(id string) error {
	return b.update(func() (bool, error) {
		if err := b.tabs.Switch(id); err != nil {
			return false, err
		}
		return true, nil
	})
}

// CloseTab closes id unless it is pinned, detaching its frame and failing
// its pending commands with tunnel.ErrTabClosed.
func (b *Browser) CloseTab(id string) (bool, error) {
	var closed bool
	err := b.update(func() (bool, error) {
		var err error
		closed, err = b.tabs.Close(id)
		if err != nil || !closed {
			return false, err
		}
		b.forgetLocked(id)
		return true, nil
	})
	return closed, err
}

func (b *Browser) forgetLocked(id string) {
	b.frames.Detach(id)
	if n := b.transport.CancelTab(id); n > 0 {
		b.log.Debug("cancelled pending commands", zap.String("tab", id), zap.Int("count", n))
	}
	delete(b.proxyBack, id)
	delete(b.content, id)
}

// ReorderTabs moves dragged next to target.
func (b *Browser) ReorderTabs(draggedID, targetID string, dropBefore bool) bool {
	var moved bool
	_ = b.update(func() (bool, error) {
		moved = b.tabs.Reorder(draggedID, targetID, dropBefore)
		return moved, nil
	})
	return moved
}

// PinTab pins id.
func (b *Browser) PinTab(id string) error {
	return b.update(func() (bool, error) {
		err := b.tabs.Pin(id)
		return err == nil, err
	})
}

// UnpinTab unpins id.
func (b *Browser) UnpinTab(id string) error {
	return b.update(func() (bool, error) {
		err := b.tabs.Unpin(id)
		return err == nil, err
	})
}

// Navigate sends the tab (the active one when tabID is empty) to raw. A
// PROXY tab moving to another external page with an attached frame is moved
// by a navigate command; the frame source is never replaced.
func (b *Browser) Navigate(tabID, raw string) error {
	return b.update(func() (bool, error) {
		t, err := b.tabLocked(tabID)
		if err != nil {
			return false, err
		}
		p, err := navigation.ParseNavigationURL(raw, b.tabs.LocalPages())
		if err != nil {
			return false, err
		}

		remote := !navigation.ShouldHandleLocally(t, p.URL)
		t.Navigate(p.URL, "", p.DisplayURL)
		if remote {
			if _, ok := b.frames.Frame(t.ID); ok {
				b.command(t.ID, protocol.CmdNavigate, b.codec.ToProxy(p.URL))
			}
		}
		return true, nil
	})
}

// Back moves the tab one entry back. Remote steps are carried out by the
// embedded document through a goBack command.
func (b *Browser) Back(tabID string) (navigation.Step, bool, error) {
	return b.step(tabID, (*navigation.Tab).Back, protocol.CmdGoBack)
}

// Forward moves the tab one entry forward.
func (b *Browser) Forward(tabID string) (navigation.Step, bool, error) {
	return b.step(tabID, (*navigation.Tab).Forward, protocol.CmdGoForward)
}

func (b *Browser) step(tabID string, move func(*navigation.Tab) (navigation.Step, bool), command string) (navigation.Step, bool, error) {
	var (
		step  navigation.Step
		moved bool
	)
	err := b.update(func() (bool, error) {
		t, err := b.tabLocked(tabID)
		if err != nil {
			return false, err
		}
		step, moved = move(t)
		if moved && step.Remote {
			b.command(t.ID, command)
		}
		return moved, nil
	})
	return step, moved, err
}

// Refresh reloads a PROXY tab. It reports false for other tabs.
func (b *Browser) Refresh(tabID string) (bool, error) {
	var ok bool
	err := b.update(func() (bool, error) {
		t, err := b.tabLocked(tabID)
		if err != nil {
			return false, err
		}
		if ok = t.Refresh(); ok {
			b.command(t.ID, protocol.CmdReload)
		}
		return ok, nil
	})
	return ok, err
}

// command fires a command for bookkeeping operations, which do not fail
// when the frame is missing.
func (b *Browser) command(tabID, command string, args ...any) {
	if _, err := b.transport.SendCommand(tabID, command, args...); err != nil {
		b.log.Debug("command not sent", zap.String("tab", tabID), zap.String("command", command), zap.Error(err))
	}
}

// CanGoBack reports whether the tab can go back, counting the embedded
// document's own history for PROXY tabs.
func (b *Browser) CanGoBack(tabID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.tabLocked(tabID)
	if err != nil {
		return false
	}
	return navigation.CanGoBack(t, b.proxyBack[t.ID])
}

// CanGoForward reports whether the tab has forward history.
func (b *Browser) CanGoForward(tabID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.tabLocked(tabID)
	if err != nil {
		return false
	}
	return navigation.CanGoForward(t)
}

// AttachFrame binds f to tabID.
func (b *Browser) AttachFrame(tabID string, f tunnel.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tabs.Get(tabID); !ok {
		return fmt.Errorf("%w: %s", navigation.ErrUnknownTab, tabID)
	}
	b.frames.Attach(tabID, f)
	return nil
}

// DetachFrame unbinds the tab's frame and fails its pending commands.
func (b *Browser) DetachFrame(tabID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transport.CancelTab(tabID)
	delete(b.proxyBack, tabID)
	return b.frames.Detach(tabID)
}

// Frame returns the frame attached to tabID.
func (b *Browser) Frame(tabID string) (tunnel.Frame, bool) { return b.frames.Frame(tabID) }

// TabForFrame returns the tab f is attached to.
func (b *Browser) TabForFrame(f tunnel.Frame) (string, bool) { return b.frames.TabForFrame(f) }

// HandleMessage dispatches a message posted by an embedded page.
func (b *Browser) HandleMessage(source tunnel.Frame, data []byte) error {
	return b.transport.HandleMessage(source, data)
}

// SendCommand posts a command without waiting for its response.
func (b *Browser) SendCommand(tabID, command string, args ...any) (string, error) {
	return b.transport.SendCommand(tabID, command, args...)
}

// Call posts a command and waits for its response.
func (b *Browser) Call(ctx context.Context, tabID, command string, args ...any) (protocol.Response, error) {
	return b.transport.Call(ctx, tabID, command, args...)
}

// PageContent returns the latest page content reported by the tab.
func (b *Browser) PageContent(tabID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.tabLocked(tabID)
	if err != nil {
		return ""
	}
	return b.content[t.ID]
}

// FrameURL returns the URL the tab's frame should load: the proxied form for
// PROXY tabs, the path for local pages and "" for host-rendered pages.
func (b *Browser) FrameURL(tabID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.tabLocked(tabID)
	if err != nil {
		return "", err
	}
	switch page := t.Page(); page.Kind {
	case navigation.Proxied:
		return b.codec.ToProxy(page.URL), nil
	case navigation.LocalStub:
		if rest, ok := strings.CutPrefix(page.URL, "local:"); ok {
			path, _, _ := strings.Cut(rest, "#")
			return path, nil
		}
		return page.URL, nil
	}
	return "", nil
}

// State returns a snapshot of every tab.
func (b *Browser) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Browser) stateLocked() State {
	list := b.tabs.List()
	st := State{Tabs: make([]navigation.Tab, 0, len(list))}
	for _, t := range list {
		st.Tabs = append(st.Tabs, t.Clone())
	}
	if a := b.tabs.Active(); a != nil {
		st.ActiveID = a.ID
		st.CanGoBack = navigation.CanGoBack(a, b.proxyBack[a.ID])
		st.CanGoForward = navigation.CanGoForward(a)
	}
	return st
}

// Subscribe registers fn to receive every state change. The returned func
// unregisters it.
func (b *Browser) Subscribe(fn func(State)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *Browser) tabURL(tabID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.tabs.Get(tabID); ok {
		return t.URL
	}
	return ""
}

func (b *Browser) onNavigate(tabID, url, navigationType string) {
	_ = b.update(func() (bool, error) {
		t, ok := b.tabs.Get(tabID)
		if !ok {
			return false, nil
		}
		b.log.Debug("page navigated",
			zap.String("tab", tabID),
			zap.String("url", url),
			zap.String("type", navigationType))
		t.Navigate(url, navigationType, "")
		return true, nil
	})
}

func (b *Browser) onNavigationState(tabID string, canGoBack, _ bool) {
	_ = b.update(func() (bool, error) {
		if _, ok := b.tabs.Get(tabID); !ok {
			return false, nil
		}
		b.proxyBack[tabID] = canGoBack
		return true, nil
	})
}

func (b *Browser) onPageInfo(tabID string, info protocol.PageInfo) {
	_ = b.update(func() (bool, error) {
		t, ok := b.tabs.Get(tabID)
		if !ok || info.Title == "" || info.Title == t.Title {
			return false, nil
		}
		t.Title = info.Title
		return true, nil
	})
}

func (b *Browser) onPageContent(tabID, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tabs.Get(tabID); ok {
		b.content[tabID] = content
	}
}

func (b *Browser) onReady(tabID string, ready protocol.Ready) {
	b.log.Debug("page ready",
		zap.String("tab", tabID),
		zap.String("url", ready.URL),
		zap.Bool("domLoaded", ready.DOMLoaded))
}
