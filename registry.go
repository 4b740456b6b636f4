package shadow

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Registry maps each inheriting type's originals to their overrides. It is
// written while overrides are installed and read by every hooked call.
type Registry struct {
	mu       sync.RWMutex
	bindings map[reflect.Type]map[MemberKey]*Member
}

func NewRegistry() *Registry {
	return &Registry{bindings: map[reflect.Type]map[MemberKey]*Member{}}
}

// Register binds original to override for inheriting. Binding the same
// original twice for one type fails with ErrDuplicateBinding.
func (r *Registry) Register(inheriting reflect.Type, original, override *Member) error {
	inheriting = normalizeOwner(inheriting)

	r.mu.Lock()
	defer r.mu.Unlock()

	storage, ok := r.bindings[inheriting]
	if !ok {
		storage = map[MemberKey]*Member{}
		r.bindings[inheriting] = storage
	}

	key := original.Key()
	if existing, ok := storage[key]; ok {
		return fmt.Errorf("%v already overrides %v with %v: %w", inheriting, original, existing, ErrDuplicateBinding)
	}
	storage[key] = override
	return nil
}

// Resolve returns the override bound to original for inheriting.
func (r *Registry) Resolve(inheriting reflect.Type, original MemberKey) (*Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	storage, ok := r.bindings[inheriting]
	if !ok {
		return nil, false
	}
	override, ok := storage[original]
	return override, ok
}

// Binding is one registry entry.
type Binding struct {
	Inheriting reflect.Type
	Original   MemberKey
	Override   *Member
}

// Bindings lists every entry, ordered by inheriting type and member name.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Binding
	for inheriting, storage := range r.bindings {
		for key, override := range storage {
			out = append(out, Binding{Inheriting: inheriting, Original: key, Override: override})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Inheriting != b.Inheriting {
			return a.Inheriting.String() < b.Inheriting.String()
		}
		if a.Original.Owner != b.Original.Owner {
			return a.Original.Owner.String() < b.Original.Owner.String()
		}
		if a.Original.Name != b.Original.Name {
			return a.Original.Name < b.Original.Name
		}
		return a.Original.Kind < b.Original.Kind
	})
	return out
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, storage := range r.bindings {
		n += len(storage)
	}
	return n
}
