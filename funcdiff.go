package shadow

import (
	"errors"
	"fmt"
	"reflect"
)

// memberDifferences lists every parameter and result that differs between
// two members. A nil entry means the two sides agree at that position.
type memberDifferences struct {
	In  []*paramDifference
	Out []*typeDifference
}

func (d *memberDifferences) Error() error {
	errs := []error{}
	for i, arg := range d.In {
		if arg != nil {
			errs = append(errs, fmt.Errorf("parameter %d: %v", i, arg))
		}
	}
	for i, out := range d.Out {
		if out != nil {
			errs = append(errs, fmt.Errorf("result %d: %v != %v", i, out.A, out.B))
		}
	}

	return errors.Join(errs...)
}

type typeDifference struct {
	A reflect.Type
	B reflect.Type
}

type paramDifference struct {
	A, B *Param
}

func (d *paramDifference) String() string {
	return fmt.Sprintf("%s != %s", describeParam(d.A), describeParam(d.B))
}

func describeParam(p *Param) string {
	if p == nil {
		return "<none>"
	}
	if p.Flags == 0 {
		return p.Type.String()
	}
	return fmt.Sprintf("%v [%v]", p.Type, p.Flags)
}

// diffMembers compares the parameters of a (skipping the first offset of
// them) against those of b, and the results of both.
func diffMembers(a, b *Member, offset int) *memberDifferences {
	aParams := a.Params
	if offset <= len(aParams) {
		aParams = aParams[offset:]
	} else {
		aParams = nil
	}

	diff := memberDifferences{
		In:  make([]*paramDifference, max(len(aParams), len(b.Params))),
		Out: make([]*typeDifference, max(len(a.Results), len(b.Results))),
	}

	for i := range diff.In {
		var pa, pb *Param
		if i < len(aParams) {
			pa = &aParams[i]
		}
		if i < len(b.Params) {
			pb = &b.Params[i]
		}
		if pa == nil || pb == nil || pa.Type != pb.Type || pa.Flags != pb.Flags {
			diff.In[i] = &paramDifference{A: pa, B: pb}
		}
	}

	for i := range diff.Out {
		var ra, rb reflect.Type
		if i < len(a.Results) {
			ra = a.Results[i]
		}
		if i < len(b.Results) {
			rb = b.Results[i]
		}
		if ra != rb {
			diff.Out[i] = &typeDifference{A: ra, B: rb}
		}
	}

	return &diff
}
