package shadow

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrMissingMember is returned when a named original or shadow member
	// cannot be found.
	ErrMissingMember = errors.New("missing member")

	// ErrSignatureMismatch is returned when two members exist but cannot be
	// used in place of each other.
	ErrSignatureMismatch = errors.New("method signature mismatch")

	// ErrUnsupported is returned for members the redirection mechanism
	// cannot handle, such as interface (virtual) methods.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrRuntimePatchFailure signals that installed hooks and the registry
	// disagree. It indicates a bug, not bad input.
	ErrRuntimePatchFailure = errors.New("runtime patch failure")

	ErrDuplicateBinding = errors.New("duplicate override binding")
	ErrAlreadyInstalled = errors.New("overrides already installed")
)

// MissingMemberError names the member that could not be resolved.
type MissingMemberError struct {
	Owner reflect.Type
	Name  string
	What  string
	Hint  string
}

func (e *MissingMemberError) Error() string {
	msg := fmt.Sprintf("no such %s %q of type %v", e.What, e.Name, e.Owner)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *MissingMemberError) Is(target error) bool {
	return target == ErrMissingMember
}

// MismatchReason identifies the first check that failed when comparing two
// members.
type MismatchReason uint8

const (
	ReasonResult MismatchReason = iota + 1
	ReasonName
	ReasonArity
	ReasonParamType
	ReasonParamFlags
	ReasonPropertyType
	ReasonAccessor
)

func (r MismatchReason) String() string {
	switch r {
	case ReasonResult:
		return "result types differ"
	case ReasonName:
		return "names differ"
	case ReasonArity:
		return "parameter counts differ"
	case ReasonParamType:
		return "parameter types differ"
	case ReasonParamFlags:
		return "parameter modifiers differ"
	case ReasonPropertyType:
		return "property types differ"
	case ReasonAccessor:
		return "accessors differ"
	default:
		return "unknown"
	}
}

// SignatureMismatchError describes why two members are not interchangeable.
type SignatureMismatchError struct {
	Reason MismatchReason

	// Param is the index of the offending parameter on the plain side, or
	// -1 when the mismatch is not about a single parameter.
	Param int

	A, B   string
	Detail error
}

func (e *SignatureMismatchError) Error() string {
	msg := fmt.Sprintf("%s and %s: %v", e.A, e.B, e.Reason)
	if e.Param >= 0 {
		msg += fmt.Sprintf(" (parameter %d)", e.Param)
	}
	if e.Detail != nil {
		msg += ": " + e.Detail.Error()
	}
	return msg
}

func (e *SignatureMismatchError) Is(target error) bool {
	return target == ErrSignatureMismatch
}

func (e *SignatureMismatchError) Unwrap() error {
	return e.Detail
}

// UnsupportedError explains why a member cannot be redirected.
type UnsupportedError struct {
	Member string
	Reason string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Member, e.Reason)
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// RuntimePatchFailureError is raised (as a panic) from a trampoline when a
// hooked call cannot be routed. It is also returned when installing a hook
// fails.
type RuntimePatchFailureError struct {
	Member  string
	Message string
	Err     error
}

func (e *RuntimePatchFailureError) Error() string {
	msg := fmt.Sprintf("failed to patch method %q", e.Member)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimePatchFailureError) Is(target error) bool {
	return target == ErrRuntimePatchFailure
}

func (e *RuntimePatchFailureError) Unwrap() error {
	return e.Err
}
