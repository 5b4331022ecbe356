// Package workspace tracks open workspaces, each with its own
// classification cache and a one-shot "fully loaded" signal.
package workspace

import (
	"slices"
	"sync"

	"github.com/jward/tinct/internal/cache"
)

// Workspace is one project's cache plus its loaded signal.
type Workspace struct {
	id       string
	cache    *cache.Store
	loaded   chan struct{}
	once     sync.Once
	onLoaded func(*Workspace)
}

func newWorkspace(id string, c *cache.Store, onLoaded func(*Workspace)) *Workspace {
	return &Workspace{
		id:       id,
		cache:    c,
		loaded:   make(chan struct{}),
		onLoaded: onLoaded,
	}
}

// ID returns the project id.
func (w *Workspace) ID() string { return w.id }

// Cache returns the workspace's classification cache.
func (w *Workspace) Cache() *cache.Store { return w.cache }

// MarkLoaded completes the loaded signal and runs the loaded hook. Only the
// first call has any effect; it reports whether this call was that one.
func (w *Workspace) MarkLoaded() bool {
	first := false
	w.once.Do(func() {
		first = true
		close(w.loaded)
		if w.onLoaded != nil {
			w.onLoaded(w)
		}
	})
	return first
}

// IsLoaded reports whether MarkLoaded has been called. It never blocks.
func (w *Workspace) IsLoaded() bool {
	select {
	case <-w.loaded:
		return true
	default:
		return false
	}
}

// Loaded returns a channel closed once the workspace is fully loaded.
func (w *Workspace) Loaded() <-chan struct{} {
	return w.loaded
}

// Registry maps project ids to workspaces.
type Registry struct {
	mu         sync.Mutex
	workspaces map[string]*Workspace
	newCache   func(id string) *cache.Store
	onLoaded   func(*Workspace)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLoadedHook runs fn once per workspace when it becomes fully loaded.
func WithLoadedHook(fn func(*Workspace)) RegistryOption {
	return func(r *Registry) {
		r.onLoaded = fn
	}
}

// NewRegistry creates a Registry. newCache builds the cache for a newly
// opened workspace; nil gives each workspace a memory-only cache.
func NewRegistry(newCache func(id string) *cache.Store, opts ...RegistryOption) *Registry {
	if newCache == nil {
		newCache = func(string) *cache.Store { return cache.New(nil) }
	}
	r := &Registry{
		workspaces: make(map[string]*Workspace),
		newCache:   newCache,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the workspace for id if it is open.
func (r *Registry) Get(id string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workspaces[id]
	return w, ok
}

// Open returns the workspace for id, creating it if needed.
func (r *Registry) Open(id string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workspaces[id]; ok {
		return w
	}
	w := newWorkspace(id, r.newCache(id), r.onLoaded)
	r.workspaces[id] = w
	return w
}

// Close removes the workspace for id and drops its in-memory entries.
// A later Open starts a fresh, not-yet-loaded workspace.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	w, ok := r.workspaces[id]
	delete(r.workspaces, id)
	r.mu.Unlock()
	if ok {
		w.cache.Clear()
	}
	return ok
}

// IDs returns the open project ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.workspaces))
	for id := range r.workspaces {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
