package shadow

import (
	"fmt"
	"reflect"
)

// Declaration marks a member of an inheriting type as a shadowed override:
// a member that hides one of its base type's members and should behave as
// if it overrode it.
//
// A shadowed override replaces the original outright. It cannot call the
// base implementation through the embedded field, since that call would be
// redirected back to itself.
type Declaration struct {
	// Name of the method, or of the property (P for P() and SetP).
	Name     string
	Property bool

	// DeclaringType is the type that declares the original member. When
	// nil the direct base of the inheriting type is used.
	DeclaringType reflect.Type
}

// Method declares a shadowed method.
func Method(name string) Declaration {
	return Declaration{Name: name}
}

// Property declares a shadowed property.
func Property(name string) Declaration {
	return Declaration{Name: name, Property: true}
}

// On sets the type that declares the original member.
func (d Declaration) On(t reflect.Type) Declaration {
	d.DeclaringType = t
	return d
}

func (d Declaration) String() string {
	kind := "method"
	if d.Property {
		kind = "property"
	}
	if d.DeclaringType != nil {
		return fmt.Sprintf("%s %s (declared on %v)", kind, d.Name, d.DeclaringType)
	}
	return fmt.Sprintf("%s %s", kind, d.Name)
}

// Shadower is implemented by mod types that declare shadowed overrides.
// ShadowedOverrides is called on a zero value.
type Shadower interface {
	ShadowedOverrides() []Declaration
}

// MethodPair is a validated original member and the override that replaces
// it.
type MethodPair struct {
	Original *Member
	Override *Member
}

// PropertyPair is a validated property. Getter and Setter are nil when the
// property has no such accessor.
type PropertyPair struct {
	Name   string
	Type   reflect.Type
	Getter *MethodPair
	Setter *MethodPair
}

// Pairs returns the accessor pairs that exist.
func (p PropertyPair) Pairs() []MethodPair {
	var out []MethodPair
	if p.Getter != nil {
		out = append(out, *p.Getter)
	}
	if p.Setter != nil {
		out = append(out, *p.Setter)
	}
	return out
}
