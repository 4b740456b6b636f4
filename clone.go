//go:build amd64

package shadow

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/pboyd/malloc"
)

// clonedCode is a relocated copy of a function's machine code that keeps
// working after the function's entry has been overwritten.
type clonedCode struct {
	// Func calls the copy. It has the type of the function that was cloned.
	Func reflect.Value

	// The data for this slice is allocated in the executable arena and
	// managed by codeAllocator. Keep a reference in order to free it.
	code []byte
	ref  **byte

	// original is the unmodified entry of the source function.
	original []byte
}

// cloneCode copies the machine code of fn into executable memory.
func cloneCode(fn reflect.Value) (*clonedCode, error) {
	src, err := codeOf(fn)
	if err != nil {
		return nil, err
	}

	if err := codeAllocator.BeginMutate(); err != nil {
		return nil, err
	}
	defer codeAllocator.EndMutate()

	// Leave room for far calls appended after the body.
	buf, err := codeAllocator.Allocate(len(src) * 2)
	if err != nil {
		return nil, err
	}

	code, err := relocateFunc(src, buf[:0])
	if err != nil {
		codeAllocator.Free(buf)
		return nil, fmt.Errorf("relocating %v: %w", fn.Type(), err)
	}

	// A func value is a pointer to a word holding the code address. Point
	// one at the copy and let reflect treat it as a function of fn's type.
	codeData := unsafe.SliceData(code)
	cc := &clonedCode{
		code: buf,
		ref:  &codeData,
	}
	cc.Func = reflect.NewAt(fn.Type(), unsafe.Pointer(&cc.ref)).Elem()

	// Keep the original bytes so they can always be restored.
	cc.original = make([]byte, len(src))
	copy(cc.original, src)

	return cc, nil
}

// Free releases the copy. Func must not be called afterwards.
func (cc *clonedCode) Free() {
	codeAllocator.BeginMutate()
	defer codeAllocator.EndMutate()

	codeAllocator.Free(cc.code)

	cc.code = nil
	*cc.ref = nil
	cc.ref = nil
	cc.original = nil
	cc.Func = reflect.Value{}
}

// allocator hands out executable memory. The arena is writable only between
// BeginMutate and EndMutate.
type allocator struct {
	*malloc.Arena
	mprotect func(int) error
	mu       sync.Mutex
	initOnce sync.Once
	mutable  bool
}

const arenaSize = 1 << 16

func (a *allocator) init(startSize int) error {
	var err error
	a.initOnce.Do(func() {
		be := malloc.MmapBackend(malloc.MmapProt(mprotectExec), malloc.MmapFlags(mapFlags))
		if protBE, ok := be.(malloc.ProtectedArenaBackend); ok {
			a.mprotect = protBE.Protect
		} else {
			a.mprotect = func(int) error {
				return nil
			}
		}

		a.Arena = malloc.NewArena(uint64(max(startSize, arenaSize)), malloc.Backend(be))
		if a.Arena == nil {
			err = errors.New("unable to initialize arena")
			return
		}
		a.mutable = true
	})
	return err
}

func (a *allocator) BeginMutate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// BeginMutate can be called before the initial allocation.
	if a.mprotect == nil || a.mutable {
		return nil
	}

	err := a.mprotect(mprotectRWX)
	if err == nil {
		a.mutable = true
	}
	return err
}

func (a *allocator) EndMutate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mutable {
		return nil
	}

	err := a.mprotect(mprotectRX)
	if err == nil {
		a.mutable = false
	}
	return err
}

func (a *allocator) Allocate(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.init(size)
	if err != nil {
		return nil, fmt.Errorf("error initializing allocator: %w", err)
	}

	if !a.mutable {
		panic("Allocate called in immutable state")
	}

	return malloc.MallocSlice[byte](a.Arena, size)
}

func (a *allocator) Free(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mutable {
		panic("Free called in immutable state")
	}

	malloc.FreeSlice(a.Arena, buf)
}

var codeAllocator = &allocator{}
