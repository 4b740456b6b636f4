//go:build amd64

package shadow

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
)

// Detour is an Interceptor that patches the machine code of original
// methods so that direct calls from host code reach the prefixes.
//
// The entry of the original is overwritten with a jump to a small stub that
// calls a closure of the original's exact type. The closure runs the
// prefixes and then, unless suppressed, a relocated copy of the original
// body.
//
// Machine code is shared by the whole process, so every Detour uses one
// table of patched entries. A second Detour hooking the same original adds
// its prefixes to the existing patch.
//
// Inlined methods cannot be detoured. Mark host methods //go:noinline where
// that is possible.
type Detour struct {
	log *zap.Logger

	// Entries this Detour has prefixes on. Guarded by patches.mu.
	entries map[uintptr]struct{}
}

// patches maps the entry address of every patched function to its patch.
var patches = struct {
	mu      sync.Mutex
	byEntry map[uintptr]*patch
}{byEntry: map[uintptr]*patch{}}

type patch struct {
	member   *Member
	entry    []byte
	clone    *clonedCode
	stub     []byte
	hook     reflect.Value
	hookVar  reflect.Value
	prefixes atomic.Pointer[[]ownedPrefix]
}

type ownedPrefix struct {
	owner *Detour
	run   Prefix
}

// DetourOption configures a Detour.
type DetourOption func(*Detour)

// DetourLogger sets the logger for patch diagnostics.
func DetourLogger(log *zap.Logger) DetourOption {
	return func(d *Detour) {
		d.log = log
	}
}

func NewDetour(opts ...DetourOption) (*Detour, error) {
	d := &Detour{
		log:     zap.NewNop(),
		entries: map[uintptr]struct{}{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Detour) Prefix(original *Member, p Prefix) error {
	if !original.Func.IsValid() {
		return &UnsupportedError{Member: original.String(), Reason: "no function to intercept"}
	}

	patches.mu.Lock()
	defer patches.mu.Unlock()

	entry := original.Func.Pointer()
	if pt, ok := patches.byEntry[entry]; ok {
		pt.add(ownedPrefix{owner: d, run: p})
		d.entries[entry] = struct{}{}
		return nil
	}

	pt, err := d.patch(original)
	if err != nil {
		return &RuntimePatchFailureError{Member: original.String(), Err: err}
	}
	pt.add(ownedPrefix{owner: d, run: p})
	patches.byEntry[entry] = pt
	d.entries[entry] = struct{}{}

	d.log.Debug("patched method entry",
		zap.Stringer("member", original),
		zap.String("entry", fmt.Sprintf("%#x", entry)),
		zap.String("stub", fmt.Sprintf("%#x", uintptr(unsafe.Pointer(unsafe.SliceData(pt.stub))))),
	)
	return nil
}

// Original returns the relocated copy of a patched original, whichever
// Detour patched it.
func (d *Detour) Original(original *Member) (reflect.Value, bool) {
	if !original.Func.IsValid() {
		return reflect.Value{}, false
	}

	patches.mu.Lock()
	defer patches.mu.Unlock()

	if pt, ok := patches.byEntry[original.Func.Pointer()]; ok {
		return pt.clone.Func, true
	}
	return original.Func, true
}

// patch redirects original's entry to a hook that calls run. The caller
// holds patches.mu.
func (d *Detour) patch(original *Member) (*patch, error) {
	fn := original.Func
	fnType := fn.Type()

	entry, err := codeOf(fn)
	if err != nil {
		return nil, err
	}

	clone, err := cloneCode(fn)
	if err != nil {
		return nil, err
	}

	pt := &patch{member: original, entry: entry, clone: clone}
	pt.prefixes.Store(&[]ownedPrefix{})
	pt.hook = reflect.MakeFunc(fnType, pt.run)

	// Hold the closure in a variable of its own type and read the funcval
	// pointer out of it. The stub passes that pointer in DX.
	pt.hookVar = reflect.New(fnType)
	pt.hookVar.Elem().Set(pt.hook)
	ctx := *(*unsafe.Pointer)(pt.hookVar.UnsafePointer())
	code := *(*uintptr)(ctx)

	if err := codeAllocator.BeginMutate(); err != nil {
		clone.Free()
		return nil, err
	}
	pt.stub, err = codeAllocator.Allocate(stubSize)
	if err == nil {
		err = writeClosureStub(pt.stub, ctx, code)
	}
	codeAllocator.EndMutate()
	if err != nil {
		pt.free()
		return nil, err
	}

	if err := mprotect(entry, mprotectRWX); err != nil {
		pt.free()
		return nil, fmt.Errorf("unprotecting %v: %w", original, err)
	}
	defer mprotect(entry, mprotectRX)

	if err := insertJump(entry, uintptr(unsafe.Pointer(unsafe.SliceData(pt.stub)))); err != nil {
		pt.free()
		return nil, err
	}
	return pt, nil
}

// free releases the copy and stub of a patch that was never installed.
func (pt *patch) free() {
	if pt.stub != nil {
		codeAllocator.BeginMutate()
		codeAllocator.Free(pt.stub)
		codeAllocator.EndMutate()
		pt.stub = nil
	}
	pt.clone.Free()
}

// add appends p without disturbing calls that are running the old list.
// The caller holds patches.mu.
func (pt *patch) add(p ownedPrefix) {
	old := *pt.prefixes.Load()
	next := make([]ownedPrefix, len(old), len(old)+1)
	copy(next, old)
	next = append(next, p)
	pt.prefixes.Store(&next)
}

// drop removes the prefixes of owner and returns how many are left. The
// caller holds patches.mu.
func (pt *patch) drop(owner *Detour) int {
	old := *pt.prefixes.Load()
	next := make([]ownedPrefix, 0, len(old))
	for _, p := range old {
		if p.owner != owner {
			next = append(next, p)
		}
	}
	pt.prefixes.Store(&next)
	return len(next)
}

// run is the body of the hook closure.
func (pt *patch) run(in []reflect.Value) []reflect.Value {
	args := in[1:]
	c := NewCall(pt.member, in[0], args)
	for _, p := range *pt.prefixes.Load() {
		if !p.run(c) {
			return c.Results
		}
	}

	if pt.member.Variadic() {
		return pt.clone.Func.CallSlice(in)
	}
	return pt.clone.Func.Call(in)
}

// Restore removes the prefixes this Detour added. Once an original has no
// prefixes left its entry is put back. The copies and stubs stay allocated
// since a call may still be running them.
func (d *Detour) Restore() error {
	patches.mu.Lock()
	defer patches.mu.Unlock()

	for entry := range d.entries {
		delete(d.entries, entry)

		pt, ok := patches.byEntry[entry]
		if !ok {
			continue
		}
		if pt.drop(d) > 0 {
			continue
		}
		if err := restoreEntry(pt); err != nil {
			return fmt.Errorf("restoring %v: %w", pt.member, err)
		}
		delete(patches.byEntry, entry)
		d.log.Debug("restored method entry", zap.Stringer("member", pt.member))
	}
	return nil
}

func restoreEntry(pt *patch) error {
	if err := mprotect(pt.entry, mprotectRWX); err != nil {
		return err
	}
	defer mprotect(pt.entry, mprotectRX)

	copy(pt.entry, pt.clone.original)
	return nil
}
