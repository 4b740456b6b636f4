package shadow

import (
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// InjectMethod replaces the named method of declaring with fn for every
// receiver. fn is either a plain replacement with the method expression's
// type:
//
//	func(c *host.Creature, dt float64) bool
//
// or a hook that receives the original first:
//
//	func(orig func(*host.Creature, float64) bool, c *host.Creature, dt float64) bool
func (in *Installer) InjectMethod(declaring reflect.Type, name string, fn any) error {
	original, ok := DescribeMethod(declaring, name, in.resolver.annotations())
	if !ok || !declaredOn(original.Owner, name) {
		return &MissingMemberError{Owner: normalizeOwner(declaring), Name: name, What: "method"}
	}
	if err := in.inject(original, reflect.ValueOf(fn)); err != nil {
		return err
	}
	in.trace.Trace("injected into method", zap.Stringer("original", original))
	return nil
}

// InjectProperty replaces the getter and/or setter of the named property of
// declaring. get and set follow the forms accepted by InjectMethod; either
// may be nil but not both. Replacing an accessor the property does not have
// is a signature mismatch.
func (in *Installer) InjectProperty(declaring reflect.Type, name string, get, set any) error {
	if get == nil && set == nil {
		return errors.New("inject: either a getter or a setter must be given")
	}

	p, ok, err := describeProperty(declaring, name, in.resolver.annotations())
	if err != nil {
		return err
	}
	if ok {
		p = onlyDeclared(p)
	}
	if !ok || p == nil {
		return &MissingMemberError{Owner: normalizeOwner(declaring), Name: name, What: "property"}
	}

	missing := func(accessor string) error {
		return &SignatureMismatchError{
			Reason: ReasonAccessor,
			Param:  -1,
			A:      fmt.Sprintf("(%v).%s", p.Owner, name),
			B:      "injection",
			Detail: fmt.Errorf("property has no %s; injecting into it is not possible", accessor),
		}
	}
	if get != nil && p.Get == nil {
		return missing("getter")
	}
	if set != nil && p.Set == nil {
		return missing("setter")
	}

	if get != nil {
		if err := in.inject(p.Get, reflect.ValueOf(get)); err != nil {
			return err
		}
		in.trace.Trace("injected into property getter", zap.Stringer("original", p.Get))
	}
	if set != nil {
		if err := in.inject(p.Set, reflect.ValueOf(set)); err != nil {
			return err
		}
		in.trace.Trace("injected into property setter", zap.Stringer("original", p.Set))
	}
	return nil
}

func (in *Installer) inject(original *Member, fn reflect.Value) error {
	if original.Virtual {
		return &UnsupportedError{Member: original.String(), Reason: "cannot inject into a virtual member"}
	}
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return fmt.Errorf("inject into %v: not a function, kind: %v", original, fn.Kind())
	}

	hook, err := injectionForm(original, fn.Type())
	if err != nil {
		return err
	}

	return in.ic.Prefix(original, func(c *Call) bool {
		recv, err := receiverFor(original, c.Instance)
		if err != nil {
			panic(&RuntimePatchFailureError{Member: original.String(), Err: err})
		}

		args := make([]reflect.Value, 0, len(c.Args)+2)
		if hook {
			orig, _ := in.ic.Original(original)
			args = append(args, orig)
		}
		args = append(args, recv)
		args = append(args, c.Args...)

		var out []reflect.Value
		if fn.Type().IsVariadic() {
			out = fn.CallSlice(args)
		} else {
			out = fn.Call(args)
		}
		for i := range out {
			c.Results[i].Set(out[i])
		}
		return false
	})
}

// injectionForm reports whether fnType is the hook form of a replacement
// for original, or an error if it is neither form.
func injectionForm(original *Member, fnType reflect.Type) (bool, error) {
	exprType := original.Func.Type()
	want := expressionMember(original, exprType)
	got := expressionMember(original, fnType)

	if fnType.NumIn() > 0 && fnType.In(0) == exprType {
		if err := Compare(got, want, SkipFirstParam()); err == nil {
			return true, nil
		}
	}
	if err := Compare(got, want); err != nil {
		return false, err
	}
	return false, nil
}

// expressionMember describes a function of type ft as a member whose
// parameters include the receiver. Flags other than optional are copied
// from original by position, counted from the end, since a function
// literal cannot be annotated.
func expressionMember(original *Member, ft reflect.Type) *Member {
	m := &Member{Owner: original.Owner, Name: original.Name, Kind: original.Kind}
	n := ft.NumIn()
	for i := 0; i < n; i++ {
		p := Param{Type: ft.In(i)}
		if ft.IsVariadic() && i == n-1 {
			p.Flags |= ParamOptional
		}
		if j := len(original.Params) - (n - i); j >= 0 {
			p.Flags |= original.Params[j].Flags &^ ParamOptional
		}
		m.Params = append(m.Params, p)
	}
	for i := 0; i < ft.NumOut(); i++ {
		m.Results = append(m.Results, ft.Out(i))
	}
	return m
}
