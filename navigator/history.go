package navigator

import "sync"

// History is an in-process Router keeping a stack of visited routes. It
// stands in for platform navigation in headless programs.
type History struct {
	mu      sync.Mutex
	entries []string
	onBack  func(route string)
}

var _ Router = (*History)(nil)

// NewHistory returns a History positioned at the root route. onBack, when
// non-nil, is called with the route restored by Back.
func NewHistory(onBack func(route string)) *History {
	return &History{entries: []string{RootRoute}, onBack: onBack}
}

// Navigate pushes route unless it is already current.
func (h *History) Navigate(route string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.entries[len(h.entries)-1] == route {
		return
	}
	h.entries = append(h.entries, route)
}

// Back pops the current route and reports whether there was one to pop.
func (h *History) Back() bool {
	h.mu.Lock()
	if len(h.entries) < 2 {
		h.mu.Unlock()
		return false
	}
	h.entries = h.entries[:len(h.entries)-1]
	route := h.entries[len(h.entries)-1]
	h.mu.Unlock()
	if h.onBack != nil {
		h.onBack(route)
	}
	return true
}

// Current returns the route on top of the stack.
func (h *History) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[len(h.entries)-1]
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
