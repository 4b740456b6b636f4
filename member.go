package shadow

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// Kind is the role a member plays on its owner.
type Kind uint8

const (
	KindMethod Kind = iota
	KindGetter
	KindSetter
)

func (k Kind) String() string {
	switch k {
	case KindMethod:
		return "method"
	case KindGetter:
		return "getter"
	case KindSetter:
		return "setter"
	default:
		return "member"
	}
}

// ParamFlags are the modifiers of a single parameter.
type ParamFlags uint8

const (
	ParamIn ParamFlags = 1 << iota
	ParamOut
	ParamOptional
	ParamLCID
)

func (f ParamFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, flag := range []struct {
		bit  ParamFlags
		name string
	}{{ParamIn, "in"}, {ParamOut, "out"}, {ParamOptional, "optional"}, {ParamLCID, "lcid"}} {
		if f&flag.bit != 0 {
			parts = append(parts, flag.name)
		}
	}
	return strings.Join(parts, "|")
}

// Param is one parameter of a member, receiver excluded.
type Param struct {
	Type  reflect.Type
	Flags ParamFlags
}

// Member describes a resolved method or property accessor.
type Member struct {
	// Owner is the type the member was resolved on. Concrete owners are
	// always pointer types.
	Owner reflect.Type
	Name  string
	Kind  Kind

	// Results is empty for members that return nothing.
	Results []reflect.Type
	Params  []Param

	// Virtual members are dispatched dynamically already (interface
	// methods) and cannot be redirected.
	Virtual bool

	// ValueReceiver is set when the method is declared on the value type
	// rather than the pointer type.
	ValueReceiver bool

	// Func is the method expression with the receiver as the first
	// argument. It is the zero Value for virtual members.
	Func reflect.Value
}

// MemberKey identifies a member independently of how it was resolved.
type MemberKey struct {
	Owner reflect.Type
	Name  string
	Kind  Kind
}

func (m *Member) Key() MemberKey {
	return MemberKey{Owner: m.Owner, Name: m.Name, Kind: m.Kind}
}

// Variadic reports whether the last parameter is a variadic slice.
func (m *Member) Variadic() bool {
	return m.Func.IsValid() && m.Func.Type().IsVariadic()
}

// Shape is the trampoline shape of the member.
func (m *Member) Shape() Shape {
	s := Shape{Arity: len(m.Params), Kind: m.Kind, Results: len(m.Results)}
	if len(m.Results) > 0 {
		s.Return = m.Results[0]
	}
	return s
}

func (m *Member) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "(%v).%s(", m.Owner, m.Name)
	for i, p := range m.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Type.String())
		if p.Flags != 0 {
			fmt.Fprintf(&b, " [%v]", p.Flags)
		}
	}
	b.WriteString(")")
	switch len(m.Results) {
	case 0:
	case 1:
		b.WriteString(" " + m.Results[0].String())
	default:
		b.WriteString(" (")
		for i, r := range m.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(r.String())
		}
		b.WriteString(")")
	}
	return b.String()
}

// Annotations carries parameter modifiers that Go syntax cannot express.
// Variadic parameters are always optional; In, Out and LCID have to be
// declared here.
type Annotations struct {
	mu    sync.RWMutex
	flags map[annotationKey][]ParamFlags
}

type annotationKey struct {
	owner reflect.Type
	name  string
}

func NewAnnotations() *Annotations {
	return &Annotations{flags: map[annotationKey][]ParamFlags{}}
}

// Annotate records the modifiers of the named method's parameters, in
// order. owner may be a pointer or value type.
func (a *Annotations) Annotate(owner reflect.Type, method string, flags ...ParamFlags) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flags[annotationKey{normalizeOwner(owner), method}] = flags
}

func (a *Annotations) lookup(owner reflect.Type, method string) []ParamFlags {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.flags[annotationKey{owner, method}]
}

// normalizeOwner returns the pointer type for concrete types so that both
// pointer and value receiver methods are visible.
func normalizeOwner(t reflect.Type) reflect.Type {
	if t == nil {
		return nil
	}
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer:
		return t
	default:
		return reflect.PointerTo(t)
	}
}

// DescribeMethod resolves the named method of owner. It returns false if
// owner has no such exported method.
func DescribeMethod(owner reflect.Type, name string, ann *Annotations) (*Member, bool) {
	return describe(owner, name, KindMethod, ann)
}

// DescribeGetter resolves the getter P() of property P.
func DescribeGetter(owner reflect.Type, name string, ann *Annotations) (*Member, bool) {
	return describe(owner, name, KindGetter, ann)
}

// DescribeSetter resolves the setter SetP of property P.
func DescribeSetter(owner reflect.Type, name string, ann *Annotations) (*Member, bool) {
	return describe(owner, setterName(name), KindSetter, ann)
}

func describe(owner reflect.Type, name string, kind Kind, ann *Annotations) (*Member, bool) {
	owner = normalizeOwner(owner)
	if owner == nil {
		return nil, false
	}
	method, ok := owner.MethodByName(name)
	if !ok {
		return nil, false
	}

	m := &Member{Owner: owner, Name: name, Kind: kind}
	ft := method.Type
	first := 1
	if owner.Kind() == reflect.Interface {
		m.Virtual = true
		first = 0
	} else {
		m.Func = method.Func
		if vm, ok := owner.Elem().MethodByName(name); ok && !isWrapper(vm.Func) {
			m.ValueReceiver = true
		}
	}

	declared := ann.lookup(owner, name)
	for i := first; i < ft.NumIn(); i++ {
		p := Param{Type: ft.In(i)}
		idx := i - first
		if ft.IsVariadic() && i == ft.NumIn()-1 {
			p.Flags |= ParamOptional
		}
		if idx < len(declared) {
			p.Flags |= declared[idx]
		}
		m.Params = append(m.Params, p)
	}
	for i := 0; i < ft.NumOut(); i++ {
		m.Results = append(m.Results, ft.Out(i))
	}
	return m, true
}

// declaredOn reports whether the method is written out for owner rather
// than promoted from an embedded field. Promoted methods are compiler
// generated wrappers.
func declaredOn(owner reflect.Type, name string) bool {
	owner = normalizeOwner(owner)
	if owner.Kind() == reflect.Interface {
		_, ok := owner.MethodByName(name)
		return ok
	}
	for _, t := range []reflect.Type{owner, owner.Elem()} {
		m, ok := t.MethodByName(name)
		if !ok {
			continue
		}
		if !isWrapper(m.Func) {
			return true
		}
	}
	return false
}

func isWrapper(fn reflect.Value) bool {
	if !fn.IsValid() {
		return false
	}
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return false
	}
	file, _ := f.FileLine(f.Entry())
	return file == "<autogenerated>"
}

// property is a getter/setter pair following Go naming: P() T and SetP(T).
type property struct {
	Owner reflect.Type
	Name  string
	Type  reflect.Type
	Get   *Member
	Set   *Member
}

func setterName(name string) string {
	return "Set" + name
}

// describeProperty resolves the named property of owner. ok is false when
// neither accessor exists.
func describeProperty(owner reflect.Type, name string, ann *Annotations) (*property, bool, error) {
	owner = normalizeOwner(owner)
	p := &property{Owner: owner, Name: name}

	if get, ok := describe(owner, name, KindGetter, ann); ok && len(get.Params) == 0 && len(get.Results) == 1 {
		p.Get = get
		p.Type = get.Results[0]
	}
	if set, ok := describe(owner, setterName(name), KindSetter, ann); ok && len(set.Params) == 1 && len(set.Results) == 0 {
		p.Set = set
		if p.Type != nil && p.Type != set.Params[0].Type {
			return nil, true, &SignatureMismatchError{
				Reason: ReasonPropertyType,
				Param:  -1,
				A:      p.Get.String(),
				B:      set.String(),
			}
		}
		p.Type = set.Params[0].Type
	}
	if p.Get == nil && p.Set == nil {
		return nil, false, nil
	}
	return p, true, nil
}

func (p *property) accessors() []*Member {
	var out []*Member
	if p.Get != nil {
		out = append(out, p.Get)
	}
	if p.Set != nil {
		out = append(out, p.Set)
	}
	return out
}
