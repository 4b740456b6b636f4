package shadow

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routeFor(t *testing.T, pair MethodPair, inheriting reflect.Type) (*Route, *Tracker) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(inheriting, pair.Original, pair.Override))
	tr := NewTracker()
	rt := NewRoute(reg, tr)
	rt.Mark(inheriting)
	return rt, tr
}

func fooCall(pair MethodPair, recv any, x int) *Call {
	return NewCall(pair.Original, reflect.ValueOf(recv), []reflect.Value{reflect.ValueOf(x)})
}

func TestTrampoline_Redirect(t *testing.T) {
	pair := fooPair(t)
	rt, tr := routeFor(t, pair, typeOf[*Derived]())
	tramp := NewSynthesizer().For(pair.Original.Shape())

	d := newDerived(10)
	require.NoError(t, tr.Adopt(d))

	c := fooCall(pair, d.Base, 5)
	assert.False(t, tramp(rt, c), "the original must be suppressed")
	require.Len(t, c.Results, 1)
	assert.Equal(t, "derived 15", c.Results[0].String())
}

func TestTrampoline_Fallback(t *testing.T) {
	pair := fooPair(t)
	rt, tr := routeFor(t, pair, typeOf[*Derived]())
	tramp := NewSynthesizer().For(pair.Original.Shape())

	s := &Sibling{Base: &Base{}}
	require.NoError(t, tr.Adopt(s))

	for _, recv := range []any{&Base{}, s.Base, s} {
		c := fooCall(pair, recv, 5)
		assert.True(t, tramp(rt, c))
		assert.Equal(t, "", c.Results[0].String(), "results stay untouched")
	}
}

func TestTrampoline_MoreDerived(t *testing.T) {
	pair := fooPair(t)
	rt, tr := routeFor(t, pair, typeOf[*Derived]())
	tramp := NewSynthesizer().For(pair.Original.Shape())

	md := &MoreDerived{Derived: newDerived(1)}
	require.NoError(t, tr.Adopt(md))

	c := fooCall(pair, md.Base, 2)
	assert.False(t, tramp(rt, c))
	assert.Equal(t, "derived 3", c.Results[0].String())
}

func TestTrampoline_MarkedButMissing(t *testing.T) {
	pair := fooPair(t)
	rt := NewRoute(NewRegistry(), NewTracker())
	rt.Mark(typeOf[*Derived]())
	tramp := NewSynthesizer().For(pair.Original.Shape())

	err := catch(func() {
		tramp(rt, fooCall(pair, newDerived(0), 1))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuntimePatchFailure)
}

func TestTrampoline_ArityDrift(t *testing.T) {
	pair := fooPair(t)
	rt, _ := routeFor(t, pair, typeOf[*Derived]())
	tramp := NewSynthesizer().For(pair.Original.Shape())

	c := NewCall(pair.Original, reflect.ValueOf(newDerived(0)), nil)
	assert.ErrorIs(t, catch(func() { tramp(rt, c) }), ErrRuntimePatchFailure)
}

func TestTrampoline_Accessors(t *testing.T) {
	var r Resolver
	prop, err := r.ValidateProperty(typeOf[*Derived](), Property("Health"))
	require.NoError(t, err)

	reg := NewRegistry()
	for _, mp := range prop.Pairs() {
		require.NoError(t, reg.Register(typeOf[*Derived](), mp.Original, mp.Override))
	}
	rt := NewRoute(reg, NewTracker())
	rt.Mark(typeOf[*Derived]())

	synth := NewSynthesizer()
	d := newDerived(0)

	set := NewCall(prop.Setter.Original, reflect.ValueOf(d), []reflect.Value{reflect.ValueOf(4.0)})
	assert.False(t, synth.For(prop.Setter.Original.Shape())(rt, set))
	assert.Empty(t, set.Results)
	assert.Equal(t, 5.0, d.Base.health)

	get := NewCall(prop.Getter.Original, reflect.ValueOf(d), nil)
	assert.False(t, synth.For(prop.Getter.Original.Shape())(rt, get))
	assert.Equal(t, 10.0, get.Results[0].Float())

	assert.Equal(t, 2, synth.Len())
}

func TestSynthesizer_Cache(t *testing.T) {
	s := NewSynthesizer()
	shape := Shape{Kind: KindMethod, Arity: 1, Results: 1, Return: stringType}

	assert.NotNil(t, s.For(shape))
	s.For(shape)
	assert.Equal(t, 1, s.Len())

	s.For(Shape{Kind: KindMethod, Arity: 2, Results: 1, Return: stringType})
	s.For(Shape{Kind: KindMethod, Arity: 1})
	assert.Equal(t, 3, s.Len())

	assert.Equal(t, "method/1 -> string", shape.String())
	assert.Equal(t, "method/1 -> void", Shape{Kind: KindMethod, Arity: 1}.String())
}

// catch runs fn and returns the error it panicked with.
func catch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = errors.New("panic without error")
		}
	}()
	fn()
	return nil
}
