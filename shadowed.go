package shadow

import (
	"fmt"
	"reflect"
)

// Resolver finds and validates the members named by declarations.
type Resolver struct {
	Annotations *Annotations
}

// declaringType returns the type the original member lives on.
func (d Declaration) declaringType(inheriting reflect.Type) (reflect.Type, error) {
	if d.DeclaringType != nil {
		return normalizeOwner(d.DeclaringType), nil
	}
	base := BaseOf(inheriting)
	if base == nil {
		return nil, &MissingMemberError{
			Owner: inheriting,
			Name:  d.Name,
			What:  "base type for",
			Hint:  "embed the type being shadowed or set DeclaringType",
		}
	}
	return base, nil
}

// ValidateMethod resolves the original method and the shadow declared on
// inheriting, and checks that one can stand in for the other.
func (r *Resolver) ValidateMethod(inheriting reflect.Type, d Declaration) (MethodPair, error) {
	inheriting = normalizeOwner(inheriting)
	declaring, err := d.declaringType(inheriting)
	if err != nil {
		return MethodPair{}, err
	}

	original, ok := DescribeMethod(declaring, d.Name, r.annotations())
	if !ok {
		return MethodPair{}, &MissingMemberError{Owner: declaring, Name: d.Name, What: "method", Hint: "only exported methods can be redirected"}
	}
	if !declaredOn(declaring, d.Name) {
		return MethodPair{}, &MissingMemberError{Owner: declaring, Name: d.Name, What: "method", Hint: "it is promoted from an embedded type; set DeclaringType to the type that declares it"}
	}

	override, ok := DescribeMethod(inheriting, d.Name, r.annotations())
	if !ok || !declaredOn(inheriting, d.Name) {
		return MethodPair{}, &MissingMemberError{Owner: inheriting, Name: d.Name, What: "method", Hint: "the shadow must be declared on the inheriting type itself"}
	}

	if err := CheckEquivalent(original, override); err != nil {
		return MethodPair{}, err
	}
	if err := checkRedirectable(inheriting, declaring, original, override); err != nil {
		return MethodPair{}, err
	}

	return MethodPair{Original: original, Override: override}, nil
}

// ValidateProperty resolves the original property and the shadow declared
// on inheriting. Both must have the same type and the same accessors.
func (r *Resolver) ValidateProperty(inheriting reflect.Type, d Declaration) (PropertyPair, error) {
	inheriting = normalizeOwner(inheriting)
	declaring, err := d.declaringType(inheriting)
	if err != nil {
		return PropertyPair{}, err
	}

	original, ok, err := describeProperty(declaring, d.Name, r.annotations())
	if err != nil {
		return PropertyPair{}, err
	}
	if ok {
		original = onlyDeclared(original)
	}
	if !ok || original == nil {
		return PropertyPair{}, &MissingMemberError{Owner: declaring, Name: d.Name, What: "property"}
	}

	override, ok, err := describeProperty(inheriting, d.Name, r.annotations())
	if err != nil {
		return PropertyPair{}, err
	}
	if ok {
		override = onlyDeclared(override)
	}
	if !ok || override == nil {
		return PropertyPair{}, &MissingMemberError{Owner: inheriting, Name: d.Name, What: "property", Hint: "the shadow must be declared on the inheriting type itself"}
	}

	names := func() (string, string) {
		return fmt.Sprintf("(%v).%s", declaring, d.Name), fmt.Sprintf("(%v).%s", inheriting, d.Name)
	}

	if original.Type != override.Type {
		a, b := names()
		return PropertyPair{}, &SignatureMismatchError{
			Reason: ReasonPropertyType,
			Param:  -1,
			A:      a,
			B:      b,
			Detail: fmt.Errorf("%v != %v", original.Type, override.Type),
		}
	}

	for _, m := range append(original.accessors(), override.accessors()...) {
		if m.Virtual {
			return PropertyPair{}, &UnsupportedError{Member: m.String(), Reason: "shadowed overrides cannot be virtual"}
		}
	}

	if (original.Get == nil) != (override.Get == nil) {
		a, b := names()
		return PropertyPair{}, &SignatureMismatchError{
			Reason: ReasonAccessor,
			Param:  -1,
			A:      a,
			B:      b,
			Detail: fmt.Errorf("one has a getter while the other does not"),
		}
	}
	if (original.Set == nil) != (override.Set == nil) {
		a, b := names()
		return PropertyPair{}, &SignatureMismatchError{
			Reason: ReasonAccessor,
			Param:  -1,
			A:      a,
			B:      b,
			Detail: fmt.Errorf("one has a setter while the other does not"),
		}
	}

	pair := PropertyPair{Name: d.Name, Type: original.Type}
	if original.Get != nil {
		if err := CheckEquivalent(original.Get, override.Get); err != nil {
			return PropertyPair{}, err
		}
		if err := checkRedirectable(inheriting, declaring, original.Get, override.Get); err != nil {
			return PropertyPair{}, err
		}
		pair.Getter = &MethodPair{Original: original.Get, Override: override.Get}
	}
	if original.Set != nil {
		if err := CheckEquivalent(original.Set, override.Set); err != nil {
			return PropertyPair{}, err
		}
		if err := checkRedirectable(inheriting, declaring, original.Set, override.Set); err != nil {
			return PropertyPair{}, err
		}
		pair.Setter = &MethodPair{Original: original.Set, Override: override.Set}
	}
	return pair, nil
}

func (r *Resolver) annotations() *Annotations {
	if r == nil {
		return nil
	}
	return r.Annotations
}

// onlyDeclared drops accessors that p's owner merely inherits. It returns
// nil if none remain.
func onlyDeclared(p *property) *property {
	if p.Get != nil && !declaredOn(p.Owner, p.Get.Name) {
		p.Get = nil
	}
	if p.Set != nil && !declaredOn(p.Owner, p.Set.Name) {
		p.Set = nil
	}
	if p.Get == nil && p.Set == nil {
		return nil
	}
	return p
}

func checkRedirectable(inheriting, declaring reflect.Type, original, override *Member) error {
	if override.Virtual || original.Virtual {
		return &UnsupportedError{Member: original.String(), Reason: "shadowed overrides cannot be virtual"}
	}
	if original.ValueReceiver {
		return &UnsupportedError{Member: original.String(), Reason: "methods with value receivers cannot be redirected"}
	}
	if !IsA(inheriting, declaring) {
		return &UnsupportedError{Member: override.String(), Reason: fmt.Sprintf("%v does not embed %v", inheriting, declaring)}
	}
	return nil
}
