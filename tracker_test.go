package shadow

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker(t *testing.T) {
	tr := NewTracker()
	d := newDerived(0)

	_, ok := tr.Owner(d.Base)
	assert.False(t, ok)

	require.NoError(t, tr.Adopt(d))
	owner, ok := tr.Owner(d.Base)
	require.True(t, ok)
	assert.Same(t, d, owner)

	md := &MoreDerived{Derived: d}
	require.NoError(t, tr.Adopt(md))
	owner, ok = tr.Owner(d.Base)
	require.True(t, ok)
	assert.Same(t, md, owner)

	tr.Release(md)
	_, ok = tr.Owner(d.Base)
	assert.False(t, ok)
}

func TestTracker_AdoptErrors(t *testing.T) {
	tr := NewTracker()
	assert.Error(t, tr.Adopt(nil))
	assert.Error(t, tr.Adopt(Derived{}))
	assert.Error(t, tr.Adopt((*Derived)(nil)))
	assert.Error(t, tr.Adopt(&stranger{}))
}

func TestTracker_Lineage(t *testing.T) {
	tr := NewTracker()
	d := newDerived(0)
	md := &MoreDerived{Derived: d}

	types := func(levels []reflect.Value) []reflect.Type {
		var out []reflect.Type
		for _, l := range levels {
			out = append(out, l.Type())
		}
		return out
	}

	// Untracked receivers only know what they embed.
	assert.Equal(t, []reflect.Type{typeOf[*Base]()}, types(tr.Lineage(reflect.ValueOf(d.Base))))
	assert.Equal(t, []reflect.Type{typeOf[*MoreDerived](), typeOf[*Derived](), typeOf[*Base]()}, types(tr.Lineage(reflect.ValueOf(md))))

	require.NoError(t, tr.Adopt(md))
	assert.Equal(t, []reflect.Type{typeOf[*MoreDerived](), typeOf[*Derived](), typeOf[*Base]()}, types(tr.Lineage(reflect.ValueOf(d.Base))))
	assert.Equal(t, []reflect.Type{typeOf[*MoreDerived](), typeOf[*Derived](), typeOf[*Base]()}, types(tr.Lineage(reflect.ValueOf(d))))
}

func TestTracker_NilEmbedded(t *testing.T) {
	tr := NewTracker()
	d := &Derived{}

	require.Error(t, tr.Adopt(d), "nothing to adopt while the base is nil")
	assert.Len(t, tr.Lineage(reflect.ValueOf(d)), 1)
}
