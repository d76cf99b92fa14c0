package navigation

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// ErrUnknownTab is returned for operations on a tab id that is not in the set.
var ErrUnknownTab = errors.New("unknown tab")

// TabSet is an ordered set of tabs with exactly one active tab. It is never
// empty. TabSet is not safe for concurrent use.
type TabSet struct {
	tabs   []*Tab
	active string
	newID  func() string
	pages  LocalPages
}

// NewTabSet returns a set holding a single blank tab. newID generates tab
// ids; nil numbers them tab-1, tab-2 and so on.
func NewTabSet(newID func() string, pages LocalPages) *TabSet {
	if newID == nil {
		var n int
		newID = func() string {
			n++
			return "tab-" + strconv.Itoa(n)
		}
	}
	s := &TabSet{newID: newID, pages: pages}
	s.Create("")
	return s
}

// LocalPages returns the path to display-URL table used by the set's tabs.
func (s *TabSet) LocalPages() LocalPages { return s.pages }

// Create appends a tab showing u (about:blank when empty) and activates it.
func (s *TabSet) Create(u string) *Tab {
	t := newTab(s.newID(), u, s.pages)
	s.tabs = append(s.tabs, t)
	s.activate(t.ID)
	return t
}

// Switch activates id.
func (s *TabSet) Switch(id string) error {
	if s.index(id) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTab, id)
	}
	s.activate(id)
	return nil
}

// Close removes id unless it is pinned and reports whether it was removed.
// Closing the active tab activates the tab that took its position, or the
// new last tab. Closing the only tab replaces it with a fresh blank one.
func (s *TabSet) Close(id string) (bool, error) {
	i := s.index(id)
	if i < 0 {
		return false, fmt.Errorf("%w: %s", ErrUnknownTab, id)
	}
	if s.tabs[i].Pinned {
		return false, nil
	}

	s.tabs = slices.Delete(s.tabs, i, i+1)
	if len(s.tabs) == 0 {
		s.Create("")
		return true, nil
	}
	if id == s.active {
		s.activate(s.tabs[min(i, len(s.tabs)-1)].ID)
	}
	return true, nil
}

// Reorder moves dragged next to target, before it when dropBefore is set
// and after it otherwise. Unknown ids leave the order unchanged.
func (s *TabSet) Reorder(draggedID, targetID string, dropBefore bool) bool {
	from, to := s.index(draggedID), s.index(targetID)
	if from < 0 || to < 0 || from == to {
		return false
	}

	t := s.tabs[from]
	s.tabs = slices.Delete(s.tabs, from, from+1)

	// to still indexes the original order; removal shifted later tabs left.
	switch {
	case !dropBefore && from < to:
	case !dropBefore:
		to++
	case from < to:
		to--
	}
	s.tabs = slices.Insert(s.tabs, to, t)
	return true
}

// Pin marks id as pinned.
func (s *TabSet) Pin(id string) error { return s.setPinned(id, true) }

// Unpin clears the pinned flag of id.
func (s *TabSet) Unpin(id string) error { return s.setPinned(id, false) }

func (s *TabSet) setPinned(id string, pinned bool) error {
	t, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTab, id)
	}
	t.Pinned = pinned
	return nil
}

// Get returns the tab with id.
func (s *TabSet) Get(id string) (*Tab, bool) {
	if i := s.index(id); i >= 0 {
		return s.tabs[i], true
	}
	return nil, false
}

// Active returns the active tab.
func (s *TabSet) Active() *Tab {
	t, _ := s.Get(s.active)
	return t
}

// List returns the tabs in display order.
func (s *TabSet) List() []*Tab { return slices.Clone(s.tabs) }

// Len returns the number of tabs.
func (s *TabSet) Len() int { return len(s.tabs) }

func (s *TabSet) index(id string) int {
	return slices.IndexFunc(s.tabs, func(t *Tab) bool { return t.ID == id })
}

func (s *TabSet) activate(id string) {
	s.active = id
	for _, t := range s.tabs {
		t.Active = t.ID == id
	}
}
