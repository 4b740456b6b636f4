package shadow

import (
	"fmt"
	"reflect"
	"sync"
)

// Call is one intercepted call of an original member.
type Call struct {
	// Instance is the object the call was made on. When the host calls the
	// method directly this is the receiver the original sees.
	Instance reflect.Value
	Original *Member

	// Args excludes the receiver. A variadic tail is passed as one slice.
	Args []reflect.Value

	// Results holds one settable value per result of the original. A
	// prefix that suppresses the original fills them in.
	Results []reflect.Value
}

// NewCall prepares a call of original with zeroed results.
func NewCall(original *Member, recv reflect.Value, args []reflect.Value) *Call {
	c := &Call{Instance: recv, Original: original, Args: args}
	for _, t := range original.Results {
		c.Results = append(c.Results, reflect.New(t).Elem())
	}
	return c
}

// Prefix runs before an original member. It returns false to suppress the
// original, in which case c.Results are the call's results.
type Prefix func(c *Call) bool

// Shape groups members that can share a trampoline.
type Shape struct {
	Kind    Kind
	Arity   int
	Results int

	// Return is the first result type, nil for members that return
	// nothing.
	Return reflect.Type
}

func (s Shape) String() string {
	ret := "void"
	if s.Return != nil {
		ret = s.Return.String()
		if s.Results > 1 {
			ret = fmt.Sprintf("(%v, +%d)", s.Return, s.Results-1)
		}
	}
	return fmt.Sprintf("%v/%d -> %s", s.Kind, s.Arity, ret)
}

// Route is the per-hook state a trampoline consults: the registry, the
// tracker for finding outer objects, and the inheriting types that were
// hooked for the original.
type Route struct {
	Registry *Registry
	Tracker  *Tracker

	mu      sync.RWMutex
	targets map[reflect.Type]struct{}
}

func NewRoute(registry *Registry, tracker *Tracker) *Route {
	return &Route{Registry: registry, Tracker: tracker, targets: map[reflect.Type]struct{}{}}
}

// Mark records that inheriting overrides the hooked original.
func (rt *Route) Mark(inheriting reflect.Type) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.targets[normalizeOwner(inheriting)] = struct{}{}
}

func (rt *Route) Marked(t reflect.Type) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	_, ok := rt.targets[t]
	return ok
}

// find walks the receiver's lineage from the most derived type and returns
// the first marked level and its override.
func (rt *Route) find(c *Call) (*Member, reflect.Value, bool) {
	key := c.Original.Key()
	for _, level := range rt.Tracker.Lineage(c.Instance) {
		t := level.Type()
		if !rt.Marked(t) {
			continue
		}
		override, ok := rt.Registry.Resolve(t, key)
		if !ok {
			panic(&RuntimePatchFailureError{
				Member:  c.Original.String(),
				Message: fmt.Sprintf("%v is hooked as overriding it but the registry has no entry", t),
			})
		}
		return override, level, true
	}
	return nil, reflect.Value{}, false
}

// Trampoline decides whether a call goes to an override. It returns true
// when the original should run.
type Trampoline func(rt *Route, c *Call) bool

// Synthesizer builds trampolines, one per shape, on first use.
type Synthesizer struct {
	mu    sync.Mutex
	cache map[Shape]Trampoline
}

func NewSynthesizer() *Synthesizer {
	return &Synthesizer{cache: map[Shape]Trampoline{}}
}

// For returns the trampoline for shape.
func (s *Synthesizer) For(shape Shape) Trampoline {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.cache[shape]; ok {
		return t
	}
	t := synthesize(shape)
	s.cache[shape] = t
	return t
}

// Len returns the number of distinct shapes built so far.
func (s *Synthesizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

func synthesize(shape Shape) Trampoline {
	var assign func(c *Call, out []reflect.Value)
	switch {
	case shape.Kind == KindSetter:
		// Setters return nothing to assign.
		assign = func(*Call, []reflect.Value) {}
	case shape.Kind == KindGetter:
		assign = func(c *Call, out []reflect.Value) {
			c.Results[0].Set(out[0])
		}
	case shape.Results == 0:
		assign = func(*Call, []reflect.Value) {}
	default:
		assign = func(c *Call, out []reflect.Value) {
			for i := range out {
				c.Results[i].Set(out[i])
			}
		}
	}

	return func(rt *Route, c *Call) bool {
		if len(c.Args) != shape.Arity || len(c.Results) != shape.Results {
			panic(&RuntimePatchFailureError{
				Member:  c.Original.String(),
				Message: fmt.Sprintf("call with %d arguments and %d results reached the %v trampoline", len(c.Args), len(c.Results), shape),
			})
		}

		override, recv, ok := rt.find(c)
		if !ok {
			return true
		}

		out := invoke(override, recv, c.Args)
		if len(out) != shape.Results {
			panic(&RuntimePatchFailureError{
				Member:  c.Original.String(),
				Message: fmt.Sprintf("override %v returned %d results", override, len(out)),
			})
		}
		assign(c, out)
		return false
	}
}

// invoke calls m with recv as its receiver. A variadic tail in args is
// already a slice.
func invoke(m *Member, recv reflect.Value, args []reflect.Value) []reflect.Value {
	in := make([]reflect.Value, 0, len(args)+1)
	in = append(in, recv)
	in = append(in, args...)
	if m.Variadic() {
		return m.Func.CallSlice(in)
	}
	return m.Func.Call(in)
}
