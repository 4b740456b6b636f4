package shadow

import (
	"reflect"
)

// baseTag marks the embedded field that acts as the base type when a struct
// embeds more than one type:
//
//	type Lizard struct {
//		Tracker
//		*host.Creature `shadow:"base"`
//	}
const baseTag = "shadow"

// baseField returns the embedded field of t that acts as its base type. t
// may be a struct or a pointer to one.
func baseField(t reflect.Type) (reflect.StructField, bool) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return reflect.StructField{}, false
	}

	var first *reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous || structOf(f.Type) == nil {
			continue
		}
		if f.Tag.Get(baseTag) == "base" {
			return f, true
		}
		if first == nil {
			first = &f
		}
	}
	if first == nil {
		return reflect.StructField{}, false
	}
	return *first, true
}

func structOf(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	return t
}

// BaseOf returns the direct base of t as a pointer type, or nil if t embeds
// nothing.
func BaseOf(t reflect.Type) reflect.Type {
	f, ok := baseField(t)
	if !ok {
		return nil
	}
	return reflect.PointerTo(structOf(f.Type))
}

// IsA reports whether t is base or embeds it, directly or through its own
// bases.
func IsA(t, base reflect.Type) bool {
	t, base = normalizeOwner(t), normalizeOwner(base)
	for t != nil {
		if t == base {
			return true
		}
		t = BaseOf(t)
	}
	return false
}

// baseValue steps from a pointer to a struct to a pointer to its base. It
// returns the zero Value at the bottom of the chain or at a nil embedded
// pointer.
func baseValue(v reflect.Value) reflect.Value {
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return reflect.Value{}
	}
	f, ok := baseField(v.Type())
	if !ok || !f.IsExported() {
		return reflect.Value{}
	}
	fv := v.Elem().FieldByIndex(f.Index)
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return reflect.Value{}
		}
		return fv
	}
	return fv.Addr()
}

// chain returns v followed by each of its bases.
func chain(v reflect.Value) []reflect.Value {
	var out []reflect.Value
	for v.IsValid() {
		out = append(out, v)
		v = baseValue(v)
	}
	return out
}
