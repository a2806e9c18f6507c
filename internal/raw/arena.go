// Package raw implements the raw command channel: files under /raw collect
// a command line and, once submitted, serve the store's formatted reply.
package raw

import (
	"sort"
	"sync"
)

// Arena indexes raw command buffers by handle id. Entries live until
// removed; nothing is persisted.
type Arena struct {
	mu      sync.RWMutex
	entries map[string]*Buffer
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{entries: make(map[string]*Buffer)}
}

// Create returns the buffer for name, creating it when absent. The second
// result reports whether it was created.
func (a *Arena) Create(name string) (*Buffer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if b, ok := a.entries[name]; ok {
		return b, false
	}
	b := &Buffer{name: name}
	a.entries[name] = b
	return b, true
}

// Get returns the buffer for name.
func (a *Arena) Get(name string) (*Buffer, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.entries[name]
	return b, ok
}

// Remove deletes the buffer for name and reports whether it existed.
func (a *Arena) Remove(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[name]; !ok {
		return false
	}
	delete(a.entries, name)
	return true
}

// Names returns the handle ids in sorted order.
func (a *Arena) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of live buffers.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
