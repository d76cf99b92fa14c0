package tunnel

import "sync"

// Frame is the message endpoint of one embedded page. Implementations must
// be comparable (typically pointers) and PostMessage must never deliver a
// reply synchronously.
type Frame interface {
	PostMessage(data []byte, targetOrigin string) error
}

// Registry maps tab ids to their attached frames and back.
type Registry struct {
	mu      sync.RWMutex
	byTab   map[string]Frame
	byFrame map[Frame]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byTab:   make(map[string]Frame),
		byFrame: make(map[Frame]string),
	}
}

// Attach binds f to tabID, replacing any frame the tab had.
func (r *Registry) Attach(tabID string, f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byTab[tabID]; ok {
		delete(r.byFrame, old)
	}
	if oldTab, ok := r.byFrame[f]; ok {
		delete(r.byTab, oldTab)
	}
	r.byTab[tabID] = f
	r.byFrame[f] = tabID
}

// Detach unbinds the tab's frame. It reports whether one was attached.
func (r *Registry) Detach(tabID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.byTab[tabID]
	if !ok {
		return false
	}
	delete(r.byTab, tabID)
	delete(r.byFrame, f)
	return true
}

// Frame returns the frame attached to tabID.
func (r *Registry) Frame(tabID string) (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byTab[tabID]
	return f, ok
}

// TabForFrame returns the tab f is attached to.
func (r *Registry) TabForFrame(f Frame) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byFrame[f]
	return id, ok
}

// Len returns the number of attached frames.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTab)
}
