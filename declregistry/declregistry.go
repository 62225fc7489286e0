// Package declregistry provides a concurrency-safe registry of declarations
// keyed by service ID.
package declregistry

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/internal/baseservice"
)

// Entry is a registered declaration along with the reference it was bound
// under.
type Entry struct {
	Declaration consoletype.Declaration
	Ref         consoletype.ServiceRef
}

// ListResult is the result of Registry.List.
type ListResult struct {
	// Entries are every registered declaration ordered by service ID.
	Entries []*Entry

	// NumBound is the number of entries whose declaration is bound.
	NumBound int

	// NumUnbound is the number of entries whose declaration isn't bound.
	NumUnbound int
}

// Registry stores declarations keyed by service ID. Binding and unbinding are
// atomic, and readers always see a consistent view.
type Registry struct {
	baseservice.BaseService

	mu      sync.RWMutex
	entries map[int64]*Entry
}

// New returns a new, empty registry.
func New(archetype *baseservice.Archetype) *Registry {
	return baseservice.Init(archetype, &Registry{
		entries: make(map[int64]*Entry),
	})
}

// Bind registers a declaration, replacing any declaration previously bound
// under the same service ID.
func (r *Registry) Bind(ref consoletype.ServiceRef, decl consoletype.Declaration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.entries[ref.ServiceID]
	r.entries[ref.ServiceID] = &Entry{Declaration: decl, Ref: ref}

	r.Logger.DebugContext(context.Background(), r.Name+": Declaration bound",
		"kind", decl.Kind(), "replaced", replaced, "service_id", ref.ServiceID)
}

// Unbind removes the declaration with the given service ID. Returns false if
// there was none.
func (r *Registry) Unbind(serviceID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[serviceID]; !ok {
		return false
	}

	delete(r.entries, serviceID)

	r.Logger.DebugContext(context.Background(), r.Name+": Declaration unbound", "service_id", serviceID)
	return true
}

// Get returns the declaration with the given service ID, or false if there's
// none.
func (r *Registry) Get(serviceID int64) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[serviceID]
	return entry, ok
}

// List returns every registered declaration ordered by service ID along with
// bound and unbound counts taken from the same view.
func (r *Registry) List() *ListResult {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b *Entry) int { return cmp.Compare(a.Ref.ServiceID, b.Ref.ServiceID) })

	res := &ListResult{Entries: entries}
	for _, entry := range entries {
		if entry.Declaration.Status().Bound {
			res.NumBound++
		} else {
			res.NumUnbound++
		}
	}

	return res
}
