package shadow

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"
)

// Tracker remembers which outer object each embedded base belongs to. A
// method of the base only ever sees the base as its receiver; the tracker
// is how a hook finds the object that actually owns it.
//
// Objects stay reachable while adopted. Call Release when the mod is done
// with one.
type Tracker struct {
	mu     sync.RWMutex
	owners map[trackKey]reflect.Value
}

type trackKey struct {
	addr unsafe.Pointer
	typ  reflect.Type
}

func NewTracker() *Tracker {
	return &Tracker{owners: map[trackKey]reflect.Value{}}
}

// Adopt records outer as the owner of every base it embeds. outer must be a
// non-nil pointer to a struct. Adopting an object that embeds an already
// adopted one moves ownership to the new outer object.
func (t *Tracker) Adopt(outer any) error {
	v := reflect.ValueOf(outer)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("adopt: not a non-nil struct pointer: %T", outer)
	}

	levels := chain(v)
	if len(levels) < 2 {
		return fmt.Errorf("adopt: %T embeds no exported base", outer)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, level := range levels[1:] {
		t.owners[keyOf(level)] = v
	}
	return nil
}

// Release forgets outer and its bases.
func (t *Tracker) Release(outer any) {
	v := reflect.ValueOf(outer)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, level := range chain(v)[1:] {
		k := keyOf(level)
		if owner, ok := t.owners[k]; ok && owner.Pointer() == v.Pointer() {
			delete(t.owners, k)
		}
	}
}

// Owner returns the adopted outer object that embeds recv.
func (t *Tracker) Owner(recv any) (any, bool) {
	owner, ok := t.owner(reflect.ValueOf(recv))
	if !ok {
		return nil, false
	}
	return owner.Interface(), true
}

func (t *Tracker) owner(recv reflect.Value) (reflect.Value, bool) {
	if t == nil || recv.Kind() != reflect.Pointer || recv.IsNil() {
		return reflect.Value{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	owner, ok := t.owners[keyOf(recv)]
	return owner, ok
}

// Lineage returns the receiver's outermost owner followed by each base
// down to the receiver and beyond, most derived first. An untracked
// receiver is its own outermost owner.
func (t *Tracker) Lineage(recv reflect.Value) []reflect.Value {
	if owner, ok := t.owner(recv); ok {
		return chain(owner)
	}
	if recv.Kind() == reflect.Interface {
		recv = recv.Elem()
	}
	return chain(recv)
}

func keyOf(v reflect.Value) trackKey {
	return trackKey{addr: v.UnsafePointer(), typ: v.Type()}
}
