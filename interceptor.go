package shadow

import (
	"fmt"
	"reflect"
	"sync"
)

// Interceptor installs prefixes on original members. It is the only point
// where redirection touches the host's method dispatch.
type Interceptor interface {
	// Prefix arranges for p to run before every call of original.
	Prefix(original *Member, p Prefix) error

	// Original returns a function with the original behavior of the
	// member, receiver first, bypassing any prefix.
	Original(original *Member) (reflect.Value, bool)
}

// CallTable is an Interceptor for host code that routes its calls through
// Invoke instead of calling methods directly.
type CallTable struct {
	mu       sync.RWMutex
	prefixes map[MemberKey][]Prefix
}

func NewCallTable() *CallTable {
	return &CallTable{prefixes: map[MemberKey][]Prefix{}}
}

func (t *CallTable) Prefix(original *Member, p Prefix) error {
	if !original.Func.IsValid() {
		return &UnsupportedError{Member: original.String(), Reason: "no function to intercept"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := original.Key()
	t.prefixes[key] = append(t.prefixes[key], p)
	return nil
}

func (t *CallTable) Original(original *Member) (reflect.Value, bool) {
	return original.Func, original.Func.IsValid()
}

// Invoke calls original on recv. recv may be the original's owner or any
// adopted or embedding object that contains it. Prefixes run first, in the
// order they were added, and the first to return false suppresses the
// original.
func (t *CallTable) Invoke(original *Member, recv any, args ...any) ([]reflect.Value, error) {
	rv, err := receiverFor(original, reflect.ValueOf(recv))
	if err != nil {
		return nil, err
	}
	in, err := packArgs(original, args)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	prefixes := t.prefixes[original.Key()]
	t.mu.RUnlock()

	c := NewCall(original, reflect.ValueOf(recv), in)
	for _, p := range prefixes {
		if !p(c) {
			return c.Results, nil
		}
	}
	return invoke(original, rv, c.Args), nil
}

// receiverFor finds the level of v's lineage that the original can be
// called on.
func receiverFor(original *Member, v reflect.Value) (reflect.Value, error) {
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("nil receiver for %v", original)
	}
	for _, level := range chain(v) {
		if level.Type() == original.Owner {
			return level, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("%v is not a receiver for %v", v.Type(), original)
}

// packArgs converts args to values, gathering a variadic tail into one
// slice.
func packArgs(m *Member, args []any) ([]reflect.Value, error) {
	n := len(m.Params)
	variadic := m.Variadic()
	if (!variadic && len(args) != n) || (variadic && len(args) < n-1) {
		return nil, fmt.Errorf("%v takes %d arguments, got %d", m, n, len(args))
	}

	value := func(arg any, t reflect.Type) (reflect.Value, error) {
		if arg == nil {
			return reflect.Zero(t), nil
		}
		v := reflect.ValueOf(arg)
		if !v.Type().AssignableTo(t) {
			return reflect.Value{}, fmt.Errorf("%v is not assignable to %v in call of %v", v.Type(), t, m)
		}
		return v, nil
	}

	fixed := n
	if variadic {
		fixed = n - 1
	}
	out := make([]reflect.Value, 0, n)
	for i := 0; i < fixed; i++ {
		v, err := value(args[i], m.Params[i].Type)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if variadic {
		st := m.Params[n-1].Type
		tail := reflect.MakeSlice(st, 0, len(args)-fixed)
		for _, arg := range args[fixed:] {
			v, err := value(arg, st.Elem())
			if err != nil {
				return nil, err
			}
			tail = reflect.Append(tail, v)
		}
		out = append(out, tail)
	}
	return out, nil
}
