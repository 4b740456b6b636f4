// Package savedata keeps per-mod values inside the host's save file.
//
// Everything a mod stores is kept in memory, keyed by accessor name, scope
// and key. On save it is written as a single save string: a marker followed
// by base64 msgpack. The host keeps save strings it does not recognise, so
// the data survives without the host knowing about it.
package savedata

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// DefaultKey marks the save string that carries mod data.
	DefaultKey = "XANSTOOLSSAVEDATA"

	separator = "<svB>"

	formatVersion = 1
)

var ErrUnknownScope = errors.New("unknown save scope")

// Store holds the save data of every accessor.
type Store struct {
	key string

	mu        sync.RWMutex
	data      map[string]*scopes
	accessors map[string]*Accessor
}

type scopes [scopeCount]map[string][]byte

type Option func(*Store)

// WithKey changes the marker of the save string.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		key:       DefaultKey,
		data:      map[string]*scopes{},
		accessors: map[string]*Accessor{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prefix is the start of the save string written by Export.
func (s *Store) Prefix() string {
	return s.key + separator
}

// Set stores value under accessor, scope and key. A nil value removes it.
func (s *Store) Set(accessor string, scope Scope, key string, value []byte) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: %v", ErrUnknownScope, scope)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.data[accessor]
	if !ok {
		if value == nil {
			return nil
		}
		block = &scopes{}
		s.data[accessor] = block
	}
	if value == nil {
		delete(block[scope], key)
		return nil
	}
	if block[scope] == nil {
		block[scope] = map[string][]byte{}
	}
	block[scope][key] = bytes.Clone(value)
	return nil
}

// Get returns the stored value, or nil.
func (s *Store) Get(accessor string, scope Scope, key string) []byte {
	if !scope.Valid() {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	block, ok := s.data[accessor]
	if !ok {
		return nil
	}
	return bytes.Clone(block[scope][key])
}

// Clear drops every value of scope, for all accessors.
func (s *Store) Clear(scope Scope) {
	if !scope.Valid() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, block := range s.data {
		block[scope] = nil
	}
}

// Entry is one stored value.
type Entry struct {
	Accessor string
	Scope    Scope
	Key      string
	Value    []byte
}

// Entries lists every stored value in a stable order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for accessor, block := range s.data {
		for scope, values := range block {
			for key, value := range values {
				out = append(out, Entry{Accessor: accessor, Scope: Scope(scope), Key: key, Value: value})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Accessor != b.Accessor {
			return a.Accessor < b.Accessor
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		return a.Key < b.Key
	})
	return out
}

// blob is the encoded form of a Store. Scopes are indexed by their value
// so that a blob written with fewer scopes still loads.
type blob struct {
	Version   int                            `msgpack:"v"`
	Accessors map[string][]map[string][]byte `msgpack:"a"`
}

// Export encodes every value into a save string.
func (s *Store) Export() (string, error) {
	s.mu.RLock()
	b := blob{Version: formatVersion, Accessors: make(map[string][]map[string][]byte, len(s.data))}
	for accessor, block := range s.data {
		b.Accessors[accessor] = block[:]
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(&b)
	s.mu.RUnlock()
	if err != nil {
		return "", fmt.Errorf("encoding save data: %w", err)
	}

	return s.Prefix() + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Import replaces the contents of the store with an encoded save string,
// with or without its prefix.
func (s *Store) Import(saveString string) error {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(saveString, s.Prefix()))
	if err != nil {
		return fmt.Errorf("decoding save data: %w", err)
	}

	var b blob
	if err := msgpack.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return fmt.Errorf("decoding save data: %w", err)
	}
	if b.Version > formatVersion {
		return fmt.Errorf("save data format %d is newer than supported format %d", b.Version, formatVersion)
	}

	loaded := make(map[string]*scopes, len(b.Accessors))
	for accessor, blocks := range b.Accessors {
		block := &scopes{}
		for i, values := range blocks {
			if i >= int(scopeCount) {
				break
			}
			if len(values) > 0 {
				block[i] = values
			}
		}
		loaded[accessor] = block
	}

	s.mu.Lock()
	s.data = loaded
	s.mu.Unlock()
	return nil
}

// ImportFrom loads the first of the host's save strings that carries mod
// data. It reports whether one was found; without one the store is left
// empty.
func (s *Store) ImportFrom(saveStrings []string) (bool, error) {
	for _, str := range saveStrings {
		if strings.HasPrefix(str, s.Prefix()) {
			return true, s.Import(str)
		}
	}

	s.mu.Lock()
	s.data = map[string]*scopes{}
	s.mu.Unlock()
	return false, nil
}

// ExportInto writes the store into the host's save strings, replacing an
// earlier export or appending a new one.
func (s *Store) ExportInto(saveStrings []string) ([]string, error) {
	exported, err := s.Export()
	if err != nil {
		return saveStrings, err
	}
	for i, str := range saveStrings {
		if strings.HasPrefix(str, s.Prefix()) {
			saveStrings[i] = exported
			return saveStrings, nil
		}
	}
	return append(saveStrings, exported), nil
}
