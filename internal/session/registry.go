package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry tracks the open sessions, owned by the application context.
// Registration is explicit: managers join on launch and leave on Close.
// The permission coordinator uses it to route a request's working directory
// to the right project when several are open.
type Registry struct {
	mu      sync.RWMutex
	entries map[*Manager]time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[*Manager]time.Time)}
}

// Register adds a manager, stamping it as most recently active.
func (r *Registry) Register(m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[m] = time.Now()
}

// Unregister removes a manager.
func (r *Registry) Unregister(m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, m)
}

// Touch marks a manager as most recently active.
func (r *Registry) Touch(m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[m]; ok {
		r.entries[m] = time.Now()
	}
}

// All returns the registered managers, most recently active first.
func (r *Registry) All() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manager, 0, len(r.entries))
	for m := range r.entries {
		out = append(out, m)
	}
	times := r.entries
	sort.Slice(out, func(i, j int) bool {
		return times[out[i]].After(times[out[j]])
	})
	return out
}

// ByChannel finds the manager owning a channel id.
func (r *Registry) ByChannel(channelID string) *Manager {
	if channelID == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for m := range r.entries {
		if m.ChannelID() == channelID {
			return m
		}
	}
	return nil
}

// Route matches a working directory against each open project root,
// preferring the longest matching prefix. With no match it falls back to the
// most recently active session, so a request with an unexpected cwd still
// reaches a human.
func (r *Registry) Route(cwd string) *Manager {
	candidates := r.All()
	if len(candidates) == 0 {
		return nil
	}
	var best *Manager
	bestLen := -1
	for _, m := range candidates {
		root := m.WorkDir()
		if root == "" || !isPathPrefix(root, cwd) {
			continue
		}
		if len(root) > bestLen {
			best = m
			bestLen = len(root)
		}
	}
	if best != nil {
		return best
	}
	return candidates[0]
}

// isPathPrefix reports whether dir lies at or under root, honoring path
// component boundaries.
func isPathPrefix(root, dir string) bool {
	if root == dir {
		return true
	}
	if !strings.HasPrefix(dir, root) {
		return false
	}
	rest := dir[len(root):]
	return strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, `\`)
}
