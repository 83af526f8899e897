package synchronizer

import (
	"fmt"
	"slices"
	"sync"
)

// MaxIdentifier bounds identifiers so that every derived tag stays inside
// its own tag range.
const MaxIdentifier = 1 << 20

// Registry owns the identifiers of the synchronizers living in one
// process. Pass the same Registry to every synchronizer sharing a
// controller.
type Registry struct {
	mu  sync.Mutex
	ids map[int]*Synchronizer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[int]*Synchronizer)}
}

func (r *Registry) add(id int, s *Synchronizer) error {
	if id < 0 || id >= MaxIdentifier {
		return fmt.Errorf("%w: %d", ErrInvalidIdentifier, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateIdentifier, id)
	}
	r.ids[id] = s
	return nil
}

func (r *Registry) remove(id int, s *Synchronizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids[id] == s {
		delete(r.ids, id)
	}
}

// Lookup returns the synchronizer registered under id.
func (r *Registry) Lookup(id int) (*Synchronizer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.ids[id]
	return s, ok
}

// Identifiers returns the registered identifiers in increasing order.
func (r *Registry) Identifiers() []int {
	r.mu.Lock()
	ids := make([]int, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}
