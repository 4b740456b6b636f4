package shadow

type compareOptions struct {
	matchNames bool
	skipFirst  bool
}

// CompareOption adjusts how two members are compared.
type CompareOption func(*compareOptions)

// MatchNames requires the two members to have the same name.
func MatchNames() CompareOption {
	return func(o *compareOptions) { o.matchNames = true }
}

// SkipFirstParam ignores the first parameter of the first member. This
// compares a hook, which takes the original behavior as its leading
// argument, against a plain override.
func SkipFirstParam() CompareOption {
	return func(o *compareOptions) { o.skipFirst = true }
}

// Compare returns nil if a and b can be used in place of each other, or a
// *SignatureMismatchError naming the first failed check.
func Compare(a, b *Member, opts ...CompareOption) error {
	var o compareOptions
	for _, opt := range opts {
		opt(&o)
	}

	offset := 0
	if o.skipFirst {
		offset = 1
	}

	mismatch := func(reason MismatchReason, param int) error {
		return &SignatureMismatchError{
			Reason: reason,
			Param:  param,
			A:      a.String(),
			B:      b.String(),
			Detail: diffMembers(a, b, offset).Error(),
		}
	}

	if len(a.Results) != len(b.Results) {
		return mismatch(ReasonResult, -1)
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return mismatch(ReasonResult, -1)
		}
	}

	if o.matchNames && a.Name != b.Name {
		return mismatch(ReasonName, -1)
	}

	if len(a.Params)-offset != len(b.Params) {
		return mismatch(ReasonArity, -1)
	}

	for i, pb := range b.Params {
		pa := a.Params[i+offset]
		if pa.Type != pb.Type {
			return mismatch(ReasonParamType, i)
		}
		if pa.Flags != pb.Flags {
			return mismatch(ReasonParamFlags, i)
		}
	}

	return nil
}

// Equivalent reports whether a and b can be used in place of each other.
func Equivalent(a, b *Member, opts ...CompareOption) bool {
	return Compare(a, b, opts...) == nil
}

// CheckEquivalent is Compare with names required to match. It is the gate
// used before redirecting a single method.
func CheckEquivalent(a, b *Member) error {
	return Compare(a, b, MatchNames())
}
