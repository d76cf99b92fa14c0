// Package bridge connects a host shell page to the orchestrator over a
// websocket. The shell owns the real frames: it relays their messages in and
// posts the commands it receives back out.
package bridge

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/standardbeagle/tabgate/internal/browser"
	"github.com/standardbeagle/tabgate/internal/logging"
	"github.com/standardbeagle/tabgate/internal/protocol"
)

const (
	DefaultPath = "/bridge"

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var (
	// ErrClosed is returned when posting to a frame whose shell disconnected.
	ErrClosed = errors.New("bridge connection closed")
	// ErrNotAttached is reported for messages from a tab the shell never attached.
	ErrNotAttached = errors.New("tab not attached on this connection")
	// ErrUnknownAction is reported for unrecognised actions.
	ErrUnknownAction = errors.New("unknown action")
)

// Config configures a Server.
type Config struct {
	// Path is where the websocket is served. Defaults to DefaultPath.
	Path string
	// AllowedOrigins lists the shell origins allowed to connect. "*" allows
	// any; empty allows same-origin requests only.
	AllowedOrigins []string
	// SendBuffer is the outbound queue length per connection.
	SendBuffer int
	Logger     *zap.Logger
}

// Server serves the bridge websocket.
type Server struct {
	browser  *browser.Browser
	cfg      Config
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// New creates a Server for b.
func New(b *browser.Browser, cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	s := &Server{
		browser: b,
		cfg:     cfg,
		log:     logging.OrNop(cfg.Logger).Named("bridge"),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Handler returns a mux serving the websocket at the configured path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		return slices.Contains(s.cfg.AllowedOrigins, origin)
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := &connection{
		server: s,
		conn:   conn,
		out:    make(chan Outbound, s.cfg.SendBuffer),
		done:   make(chan struct{}),
		frames: make(map[string]*frame),
		log:    s.log.With(zap.String("remote", r.RemoteAddr)),
	}
	c.log.Info("shell connected")
	c.run()
	c.log.Info("shell disconnected")
}

type connection struct {
	server *Server
	conn   *websocket.Conn
	out    chan Outbound
	done   chan struct{}
	once   sync.Once
	log    *zap.Logger

	mu     sync.Mutex
	frames map[string]*frame
}

// frame is a tab's embedded page as seen through the shell.
type frame struct {
	c     *connection
	tabID string
}

// PostMessage queues the data for the shell; replies arrive later as
// separate inbound messages.
func (f *frame) PostMessage(data []byte, targetOrigin string) error {
	return f.c.send(Outbound{Kind: KindPost, TabID: f.tabID, Data: data, TargetOrigin: targetOrigin})
}

// shutdown releases every sender. Safe to call more than once.
func (c *connection) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *connection) send(m Outbound) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- m:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *connection) run() {
	b := c.server.browser
	unsubscribe := b.Subscribe(func(browser.State) { c.pushState() })

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.pushState()
	c.readLoop()

	unsubscribe()
	c.shutdown()
	c.detachAll()
	<-writerDone
	c.conn.Close()
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case m := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(m); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.shutdown()
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shutdown()
				c.conn.Close()
				return
			}
		}
	}
}

func (c *connection) readLoop() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in Inbound
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := c.dispatch(in); err != nil {
			c.log.Debug("bridge message failed",
				zap.String("kind", in.Kind),
				zap.String("action", in.Action),
				zap.Error(err))
			_ = c.send(Outbound{Kind: KindError, TabID: in.TabID, Error: err.Error()})
		}
	}
}

func (c *connection) dispatch(in Inbound) error {
	b := c.server.browser
	switch in.Kind {
	case KindAttach:
		f := &frame{c: c, tabID: in.TabID}
		if err := b.AttachFrame(in.TabID, f); err != nil {
			return err
		}
		c.mu.Lock()
		c.frames[in.TabID] = f
		c.mu.Unlock()
		return nil

	case KindDetach:
		c.mu.Lock()
		f, ok := c.frames[in.TabID]
		delete(c.frames, in.TabID)
		c.mu.Unlock()
		if ok {
			c.release(in.TabID, f)
		}
		return nil

	case KindMessage:
		c.mu.Lock()
		f, ok := c.frames[in.TabID]
		c.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotAttached, in.TabID)
		}
		err := b.HandleMessage(f, in.Data)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, protocol.ErrUnknownType), errors.Is(err, protocol.ErrMalformed):
			// Pages post plenty of messages that are not ours.
			c.log.Debug("ignoring frame message", zap.String("tab", in.TabID), zap.String("origin", in.Origin), zap.Error(err))
			return nil
		}
		return err

	case KindAction:
		return c.action(in)
	}
	return fmt.Errorf("unknown message kind %q", in.Kind)
}

func (c *connection) action(in Inbound) error {
	b := c.server.browser
	switch in.Action {
	case ActionNewTab:
		_, err := b.NewTab(in.URL)
		return err
	case ActionSwitch:
		return b.SwitchTab(in.TabID)
	case ActionClose:
		_, err := b.CloseTab(in.TabID)
		return err
	case ActionReorder:
		b.ReorderTabs(in.TabID, in.TargetID, in.Before)
		return nil
	case ActionPin:
		return b.PinTab(in.TabID)
	case ActionUnpin:
		return b.UnpinTab(in.TabID)
	case ActionNavigate:
		return b.Navigate(in.TabID, in.URL)
	case ActionBack:
		_, _, err := b.Back(in.TabID)
		return err
	case ActionForward:
		_, _, err := b.Forward(in.TabID)
		return err
	case ActionRefresh:
		_, err := b.Refresh(in.TabID)
		return err
	case ActionState:
		c.pushState()
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, in.Action)
}

func (c *connection) pushState() {
	b := c.server.browser
	st := b.State()
	frames := make(map[string]string, len(st.Tabs))
	for _, t := range st.Tabs {
		if u, err := b.FrameURL(t.ID); err == nil && u != "" {
			frames[t.ID] = u
		}
	}
	_ = c.send(Outbound{Kind: KindState, State: &st, Frames: frames})
}

func (c *connection) detachAll() {
	c.mu.Lock()
	frames := c.frames
	c.frames = make(map[string]*frame)
	c.mu.Unlock()

	for id, f := range frames {
		c.release(id, f)
	}
}

// release detaches f unless another connection has taken the tab over.
func (c *connection) release(tabID string, f *frame) {
	b := c.server.browser
	if cur, ok := b.Frame(tabID); ok && cur == f {
		b.DetachFrame(tabID)
	}
}
