package savedata

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when no value is stored under a key.
var ErrNotFound = errors.New("save data not found")

// Accessor is a mod's view of the store. Its values are kept apart from
// those of other accessors.
type Accessor struct {
	store *Store
	name  string
}

// Accessor returns the accessor for name of modID. Calling it again with
// the same arguments returns the same accessor.
func (s *Store) Accessor(modID, name string) (*Accessor, error) {
	if modID == "" || name == "" {
		return nil, errors.New("accessor: mod ID and name are required")
	}
	id := modID + ":" + name

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accessors[id]; ok {
		return a, nil
	}
	a := &Accessor{store: s, name: id}
	s.accessors[id] = a
	return a, nil
}

func (a *Accessor) Name() string {
	return a.name
}

// ReadInto decodes the value stored under key into v.
func (s *Store) ReadInto(accessor string, scope Scope, key string, v any) error {
	raw := s.Get(accessor, scope, key)
	if raw == nil {
		return fmt.Errorf("%s/%v/%s: %w", accessor, scope, key, ErrNotFound)
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s/%v/%s: %w", accessor, scope, key, err)
	}
	return nil
}

// SetValue stores value under key.
func SetValue[T any](a *Accessor, scope Scope, key string, value T) error {
	raw, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s/%v/%s: %w", a.name, scope, key, err)
	}
	return a.store.Set(a.name, scope, key, raw)
}

// TryGetValue returns the value stored under key. It reports false when
// there is none or it cannot be decoded as a T.
func TryGetValue[T any](a *Accessor, scope Scope, key string) (T, bool) {
	var v T
	if err := a.store.ReadInto(a.name, scope, key, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// RemoveValue deletes key and reports whether it existed.
func (a *Accessor) RemoveValue(scope Scope, key string) (bool, error) {
	if a.store.Get(a.name, scope, key) == nil {
		return false, nil
	}
	if err := a.store.Set(a.name, scope, key, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Saveable is a type that writes its own save data.
type Saveable interface {
	SaveData(scope Scope, enc *msgpack.Encoder) error
	LoadData(scope Scope, dec *msgpack.Decoder) error
}

// SetSaveable stores the data s writes under key.
func (a *Accessor) SetSaveable(scope Scope, key string, s Saveable) error {
	var buf bytes.Buffer
	if err := s.SaveData(scope, msgpack.NewEncoder(&buf)); err != nil {
		return fmt.Errorf("%s/%v/%s: %w", a.name, scope, key, err)
	}
	return a.store.Set(a.name, scope, key, buf.Bytes())
}

// LoadSaveable hands the data stored under key to s.
func (a *Accessor) LoadSaveable(scope Scope, key string, s Saveable) error {
	raw := a.store.Get(a.name, scope, key)
	if raw == nil {
		return fmt.Errorf("%s/%v/%s: %w", a.name, scope, key, ErrNotFound)
	}
	if err := s.LoadData(scope, msgpack.NewDecoder(bytes.NewReader(raw))); err != nil {
		return fmt.Errorf("%s/%v/%s: %w", a.name, scope, key, err)
	}
	return nil
}
