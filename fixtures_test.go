package shadow

import (
	"fmt"
	"reflect"
)

// Base stands in for a host type the mod cannot change.
type Base struct {
	Name   string
	health float64
}

//go:noinline
func (b *Base) Foo(x int) string {
	return fmt.Sprintf("base %d", x)
}

// Describe is a host method that calls Foo the way host code would.
func (b *Base) Describe() string {
	return b.Name + ": " + b.Foo(1)
}

func (b *Base) Health() float64 {
	return b.health
}

func (b *Base) SetHealth(v float64) {
	b.health = v
}

func (b *Base) Join(sep string, parts ...string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// Derived shadows Foo and the Health property.
type Derived struct {
	*Base
	Bonus int
}

func (*Derived) ShadowedOverrides() []Declaration {
	return []Declaration{
		Method("Foo"),
		Property("Health"),
	}
}

func (d *Derived) Foo(x int) string {
	return fmt.Sprintf("derived %d", x+d.Bonus)
}

func (d *Derived) Health() float64 {
	return d.Base.health * 2
}

func (d *Derived) SetHealth(v float64) {
	d.Base.health = v + 1
}

// MoreDerived re-declares nothing.
type MoreDerived struct {
	*Derived
}

// Sibling also embeds Base but overrides nothing.
type Sibling struct {
	*Base
}

func newDerived(bonus int) *Derived {
	return &Derived{Base: &Base{Name: "derived"}, Bonus: bonus}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

var float64Type = reflect.TypeFor[float64]()

func typeOfValue(v any) reflect.Type {
	return reflect.TypeOf(v)
}
