package htmldoc

import (
	"context"
	"errors"
	"sync"

	"github.com/standardbeagle/tabgate/internal/protocol"
)

// ErrNoDocument is returned by a Session that has not loaded a page yet.
var ErrNoDocument = errors.New("no document loaded")

// Loader fetches and parses the document at url.
type Loader func(ctx context.Context, url string) (*Document, error)

// Session is a single browsing context over static documents: it keeps a
// history list and reloads through its Loader on every navigation. It
// satisfies both pageagent.Document and pageagent.Navigator.
type Session struct {
	load Loader

	mu      sync.RWMutex
	history []string
	index   int
	current *Document
}

// NewSession creates an empty session.
func NewSession(load Loader) *Session {
	return &Session{load: load, index: -1}
}

// Current returns the loaded document, or nil.
func (s *Session) Current() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// History returns a copy of the history list and the current index.
func (s *Session) History() ([]string, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.history...), s.index
}

func (s *Session) doc() (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoDocument
	}
	return s.current, nil
}

// Navigate loads url, dropping any forward history.
func (s *Session) Navigate(ctx context.Context, url string) error {
	d, err := s.load(ctx, url)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history[:s.index+1], url)
	s.index = len(s.history) - 1
	s.current = d
	return nil
}

// Reload loads the current entry again.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.RLock()
	if s.index < 0 {
		s.mu.RUnlock()
		return ErrNoDocument
	}
	url := s.history[s.index]
	s.mu.RUnlock()

	d, err := s.load(ctx, url)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = d
	s.mu.Unlock()
	return nil
}

// Back moves to the previous entry. It is a no-op at the start of history.
func (s *Session) Back(ctx context.Context) error {
	return s.step(ctx, -1)
}

// Forward moves to the next entry. It is a no-op at the end of history.
func (s *Session) Forward(ctx context.Context) error {
	return s.step(ctx, 1)
}

func (s *Session) step(ctx context.Context, delta int) error {
	s.mu.RLock()
	next := s.index + delta
	if next < 0 || next >= len(s.history) {
		s.mu.RUnlock()
		return nil
	}
	url := s.history[next]
	s.mu.RUnlock()

	d, err := s.load(ctx, url)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.index = next
	s.current = d
	s.mu.Unlock()
	return nil
}

// CanGoBack reports whether there is an earlier entry.
func (s *Session) CanGoBack() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index > 0
}

// Element implements pageagent.Document.
func (s *Session) Element(selector string) (*protocol.ElementSnapshot, error) {
	d, err := s.doc()
	if err != nil {
		return nil, err
	}
	return d.Element(selector)
}

// QueryAll implements pageagent.Document.
func (s *Session) QueryAll(selector string) ([]protocol.ElementSummary, error) {
	d, err := s.doc()
	if err != nil {
		return nil, err
	}
	return d.QueryAll(selector)
}

// PageInfo implements pageagent.Document. An empty session reports
// about:blank in the loading state.
func (s *Session) PageInfo() protocol.PageInfo {
	d, err := s.doc()
	if err != nil {
		return protocol.PageInfo{URL: "about:blank", ReadyState: "loading"}
	}
	return d.PageInfo()
}

// ScrollTo implements pageagent.Document.
func (s *Session) ScrollTo(selector string) (bool, error) {
	d, err := s.doc()
	if err != nil {
		return false, err
	}
	return d.ScrollTo(selector)
}

// Click implements pageagent.Document.
func (s *Session) Click(selector string) (bool, error) {
	d, err := s.doc()
	if err != nil {
		return false, err
	}
	return d.Click(selector)
}
