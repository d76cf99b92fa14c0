// Package tunnel is the host side of the cross-document command tunnel. It
// sends commands to embedded pages, correlates their responses through a
// pending table with deadlines, and turns lifecycle events into callbacks.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/tabgate/internal/codec"
	"github.com/standardbeagle/tabgate/internal/logging"
	"github.com/standardbeagle/tabgate/internal/protocol"
)

var (
	// ErrUnknownSource is returned for messages from a frame that is not
	// attached to any tab.
	ErrUnknownSource = errors.New("message from unregistered frame")
	// ErrNoFrame is returned when commanding a tab without an attached frame.
	ErrNoFrame = errors.New("tab has no attached frame")
	// ErrCommandTimeout completes a command whose response did not arrive in time.
	ErrCommandTimeout = errors.New("tunnel command timed out")
	// ErrTabClosed completes the pending commands of a closed tab.
	ErrTabClosed = errors.New("tab closed")
	// ErrCommandFailed wraps an error reported by the embedded page.
	ErrCommandFailed = errors.New("command failed")
)

// Handlers receive inbound lifecycle events. Every field is optional. They
// are invoked without any transport lock held.
type Handlers struct {
	// OnNavigate reports that the tab's page moved to url (already decoded
	// from its proxied form). navigationType is empty for READY-driven moves.
	OnNavigate func(tabID, url, navigationType string)
	// OnNavigationState reports the page's back/forward capability.
	OnNavigationState func(tabID string, canGoBack, canGoForward bool)
	OnPageInfo        func(tabID string, info protocol.PageInfo)
	OnPageContent     func(tabID, content string)
	// OnReady observes every READY event after it has been processed.
	OnReady func(tabID string, ready protocol.Ready)
}

// Config configures a Transport.
type Config struct {
	Codec codec.Codec
	// CommandTimeout expires pending commands. Zero disables deadlines.
	CommandTimeout time.Duration
	// TargetOrigin restricts delivery of posted commands. Defaults to "*".
	TargetOrigin string
	// TabURL returns the tab's current canonical URL, used to suppress
	// navigation callbacks for the page the tab already shows.
	TabURL   func(tabID string) string
	Handlers Handlers
	Logger   *zap.Logger
}

type outcome struct {
	resp protocol.Response
	err  error
}

type pendingCommand struct {
	tabID   string
	command string
	sent    time.Time
	timer   *time.Timer
	done    chan outcome // nil for fire-and-forget commands
}

// Transport sends commands and dispatches inbound messages.
type Transport struct {
	cfg    Config
	frames *Registry
	log    *zap.Logger
	seq    atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingCommand
}

// New creates a Transport that posts through frames.
func New(frames *Registry, cfg Config) *Transport {
	if cfg.TargetOrigin == "" {
		cfg.TargetOrigin = "*"
	}
	return &Transport{
		cfg:     cfg,
		frames:  frames,
		log:     logging.OrNop(cfg.Logger).Named("tunnel"),
		pending: make(map[string]*pendingCommand),
	}
}

// SendCommand posts a command to the tab's frame and returns its id without
// waiting for the response.
func (t *Transport) SendCommand(tabID, command string, args ...any) (string, error) {
	id, err := t.send(tabID, command, nil, args)
	return id, err
}

// Call posts a command and waits for its response, the command deadline, the
// tab closing or ctx, whichever comes first. A response carrying an error is
// returned together with an error wrapping ErrCommandFailed.
func (t *Transport) Call(ctx context.Context, tabID, command string, args ...any) (protocol.Response, error) {
	done := make(chan outcome, 1)
	id, err := t.send(tabID, command, done, args)
	if err != nil {
		return protocol.Response{}, err
	}

	select {
	case o := <-done:
		if o.err != nil {
			return o.resp, o.err
		}
		if !o.resp.OK() {
			return o.resp, fmt.Errorf("%w: %s: %s", ErrCommandFailed, command, o.resp.Error)
		}
		return o.resp, nil
	case <-ctx.Done():
		t.remove(id)
		return protocol.Response{}, ctx.Err()
	}
}

func (t *Transport) send(tabID, command string, done chan outcome, args []any) (string, error) {
	frame, ok := t.frames.Frame(tabID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoFrame, tabID)
	}

	id := "cmd-" + command + "-" + strconv.FormatUint(t.seq.Add(1), 10)
	data, err := protocol.Encode(protocol.NewCommand(id, command, tabID, args...))
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", command, err)
	}

	p := &pendingCommand{tabID: tabID, command: command, sent: time.Now(), done: done}
	t.mu.Lock()
	if t.cfg.CommandTimeout > 0 {
		p.timer = time.AfterFunc(t.cfg.CommandTimeout, func() { t.expire(id) })
	}
	t.pending[id] = p
	t.mu.Unlock()

	if err := frame.PostMessage(data, t.cfg.TargetOrigin); err != nil {
		t.remove(id)
		return "", fmt.Errorf("post %s to tab %s: %w", command, tabID, err)
	}
	t.log.Debug("command sent", zap.String("id", id), zap.String("tab", tabID))
	return id, nil
}

// take removes and returns the pending entry for id.
func (t *Transport) take(id string) *pendingCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

func (t *Transport) remove(id string) {
	t.take(id)
}

func (t *Transport) expire(id string) {
	p := t.take(id)
	if p == nil {
		return
	}
	t.log.Warn("command timed out",
		zap.String("id", id),
		zap.String("tab", p.tabID),
		zap.Duration("after", time.Since(p.sent)))
	p.complete(outcome{err: fmt.Errorf("%w: %s", ErrCommandTimeout, id)})
}

func (p *pendingCommand) complete(o outcome) {
	if p.done != nil {
		p.done <- o
	}
}

// CancelTab completes every pending command of tabID with ErrTabClosed and
// returns how many there were.
func (t *Transport) CancelTab(tabID string) int {
	t.mu.Lock()
	var cancelled []*pendingCommand
	for id, p := range t.pending {
		if p.tabID != tabID {
			continue
		}
		delete(t.pending, id)
		if p.timer != nil {
			p.timer.Stop()
		}
		cancelled = append(cancelled, p)
	}
	t.mu.Unlock()

	for _, p := range cancelled {
		p.complete(outcome{err: fmt.Errorf("%w: %s", ErrTabClosed, tabID)})
	}
	return len(cancelled)
}

// Pending returns the number of commands awaiting a response.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// HandleMessage dispatches one message received from source. Messages from
// unattached frames fail with ErrUnknownSource; payloads that are not tunnel
// messages fail with the protocol decode error.
func (t *Transport) HandleMessage(source Frame, data []byte) error {
	tabID, ok := t.frames.TabForFrame(source)
	if !ok {
		return ErrUnknownSource
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case protocol.Ready:
		t.handleReady(tabID, m)
	case protocol.Navigation:
		t.handleNavigation(tabID, m)
	case protocol.Response:
		t.handleResponse(tabID, m)
	case protocol.Command:
		t.log.Debug("ignoring command sent by a page", zap.String("tab", tabID), zap.String("command", m.Command))
	}
	return nil
}

func (t *Transport) handleReady(tabID string, m protocol.Ready) {
	if m.URL != "" && t.cfg.Codec.IsProxied(m.URL) {
		actual := t.cfg.Codec.FromProxy(m.URL)
		if actual != t.tabURL(tabID) {
			t.onNavigate(tabID, actual, "")
		}
	}
	if m.PageInfo != nil {
		t.onPageInfo(tabID, *m.PageInfo)
	}

	t.request(tabID, protocol.CmdGetPageInfo)
	if m.DOMLoaded {
		t.request(tabID, protocol.CmdGetElement, "body")
	}

	if h := t.cfg.Handlers.OnReady; h != nil {
		h(tabID, m)
	}
}

func (t *Transport) handleNavigation(tabID string, m protocol.Navigation) {
	if h := t.cfg.Handlers.OnNavigationState; h != nil {
		h(tabID, m.CanGoBack, m.CanGoForward)
	}
	if m.PageInfo != nil {
		t.onPageInfo(tabID, *m.PageInfo)
	}
	if m.URL != "" && t.cfg.Codec.IsProxied(m.URL) {
		actual := t.cfg.Codec.FromProxy(m.URL)
		if actual != t.tabURL(tabID) {
			t.onNavigate(tabID, actual, m.NavigationType)
		}
	}
}

func (t *Transport) handleResponse(tabID string, m protocol.Response) {
	t.mu.Lock()
	p, ok := t.pending[m.ID]
	switch {
	case !ok:
		t.mu.Unlock()
		t.log.Debug("dropping response without a pending command", zap.String("id", m.ID), zap.String("tab", tabID))
		return
	case p.tabID != tabID:
		t.mu.Unlock()
		t.log.Warn("response from the wrong frame",
			zap.String("id", m.ID),
			zap.String("tab", tabID),
			zap.String("expected", p.tabID))
		return
	}
	delete(t.pending, m.ID)
	if p.timer != nil {
		p.timer.Stop()
	}
	t.mu.Unlock()

	p.complete(outcome{resp: m})

	if !m.OK() {
		t.log.Debug("command failed", zap.String("id", m.ID), zap.String("error", m.Error))
		return
	}

	switch p.command {
	case protocol.CmdGetPageInfo:
		var info protocol.PageInfo
		if err := m.Decode(&info); err != nil {
			t.log.Debug("bad page info", zap.Error(err))
			return
		}
		t.onPageInfo(tabID, info)
		if info.Content != "" {
			t.onPageContent(tabID, info.Content)
		} else if info.Text != "" {
			t.onPageContent(tabID, info.Text)
		}
	case protocol.CmdGetElement:
		var el *protocol.ElementSnapshot
		if err := m.Decode(&el); err != nil || el == nil {
			return
		}
		t.onPageContent(tabID, el.InnerText)
	}
}

// request fires a command on behalf of the transport itself.
func (t *Transport) request(tabID, command string, args ...any) {
	if _, err := t.SendCommand(tabID, command, args...); err != nil {
		t.log.Debug("follow-up command not sent", zap.String("command", command), zap.Error(err))
	}
}

func (t *Transport) tabURL(tabID string) string {
	if t.cfg.TabURL == nil {
		return ""
	}
	return t.cfg.TabURL(tabID)
}

func (t *Transport) onNavigate(tabID, url, navigationType string) {
	if h := t.cfg.Handlers.OnNavigate; h != nil {
		h(tabID, url, navigationType)
	}
}

func (t *Transport) onPageInfo(tabID string, info protocol.PageInfo) {
	if h := t.cfg.Handlers.OnPageInfo; h != nil {
		h(tabID, info)
	}
}

func (t *Transport) onPageContent(tabID, content string) {
	if h := t.cfg.Handlers.OnPageContent; h != nil {
		h(tabID, content)
	}
}
