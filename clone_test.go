//go:build amd64

package shadow

import (
	"encoding/binary"
	"reflect"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// growStack leaves headroom on the test goroutine so copied code never
// has to grow the stack. The runtime cannot unwind through a copy.
//
//go:noinline
func growStack(n int) byte {
	var buf [1024]byte
	buf[n%len(buf)] = byte(n)
	if n > 0 {
		return growStack(n-1) + buf[0]
	}
	return buf[0]
}

func cloneAs[T any](t *testing.T, fn T) T {
	t.Helper()
	cc, err := cloneCode(reflect.ValueOf(fn))
	require.NoError(t, err)
	t.Cleanup(cc.Free)
	return cc.Func.Interface().(T)
}

func simpleTestCloneFunc(v uint8) uint16 {
	return uint16(v)<<8 | uint16(v)
}

func testCloneFuncWithData() string {
	return "something static"
}

func testCloneFuncMultipleParams(a, b int) int {
	return a + b
}

func testCloneFuncFloat(f float64) float64 {
	return f * 3.14159
}

func testCloneFuncWithLoop(n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += i
	}
	return sum
}

func testCloneFuncWithConditional(v int) string {
	if v > 100 {
		return "large"
	} else if v > 10 {
		return "medium"
	} else {
		return "small"
	}
}

func testCloneFuncWithPointer(p *int) int {
	if p == nil {
		return 0
	}
	return *p * 10
}

func testCloneFuncInt64(a int64, b int64) int64 {
	return a<<32 | b
}

func TestCloneCode_VariousFunctions(t *testing.T) {
	growStack(64)

	seven := 7
	cases := map[string]struct {
		call         func() any
		cloneAndCall func(t *testing.T) any
	}{
		"simple function": {
			call:         func() any { return simpleTestCloneFunc(0xf) },
			cloneAndCall: func(t *testing.T) any { return cloneAs(t, simpleTestCloneFunc)(0xf) },
		},
		"function with static data": {
			call:         func() any { return testCloneFuncWithData() },
			cloneAndCall: func(t *testing.T) any { return cloneAs(t, testCloneFuncWithData)() },
		},
		"multiple parameters": {
			call:         func() any { return testCloneFuncMultipleParams(10, 32) },
			cloneAndCall: func(t *testing.T) any { return cloneAs(t, testCloneFuncMultipleParams)(10, 32) },
		},
		"float": {
			call:         func() any { return testCloneFuncFloat(2) },
			cloneAndCall: func(t *testing.T) any { return cloneAs(t, testCloneFuncFloat)(2) },
		},
		"loop": {
			call:         func() any { return testCloneFuncWithLoop(10) },
			cloneAndCall: func(t *testing.T) any { return cloneAs(t, testCloneFuncWithLoop)(10) },
		},
		"conditional": {
			call:         func() any { return testCloneFuncWithConditional(50) },
			cloneAndCall: func(t *testing.T) any { return cloneAs(t, testCloneFuncWithConditional)(50) },
		},
		"pointer": {
			call:         func() any { return testCloneFuncWithPointer(&seven) },
			cloneAndCall: func(t *testing.T) any { return cloneAs(t, testCloneFuncWithPointer)(&seven) },
		},
		"int64 operations": {
			call:         func() any { return testCloneFuncInt64(0x12345678, 0xABCDEF00) },
			cloneAndCall: func(t *testing.T) any { return cloneAs(t, testCloneFuncInt64)(0x12345678, 0xABCDEF00) },
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.call(), tc.cloneAndCall(t))
		})
	}
}

func TestCloneCode_KeepsOriginal(t *testing.T) {
	cc, err := cloneCode(reflect.ValueOf(testCloneFuncWithLoop))
	require.NoError(t, err)
	defer cc.Free()

	code, err := codeOf(reflect.ValueOf(testCloneFuncWithLoop))
	require.NoError(t, err)
	assert.Equal(t, code, cc.original)
}

func TestCodeOf_NotAFunction(t *testing.T) {
	_, err := codeOf(reflect.ValueOf(42))
	assert.ErrorContains(t, err, "not a function")
}

func TestInsertJump(t *testing.T) {
	buf := make([]byte, 16)
	start := reflect.ValueOf(buf).Pointer()
	dest := start + 0x100

	require.NoError(t, insertJump(buf, dest))
	assert.Equal(t, byte(opcodeJMP), buf[0])
	assert.Equal(t, []byte{0xfb, 0x00, 0x00, 0x00}, buf[1:5])
	for _, b := range buf[5:] {
		assert.Equal(t, byte(opcodeINT3), b)
	}

	assert.Error(t, insertJump(buf[:4], dest))
	assert.Error(t, insertJump(buf, start+1<<40))
}

func TestWriteClosureStub(t *testing.T) {
	buf := make([]byte, stubSize)
	var word uintptr
	require.NoError(t, writeClosureStub(buf, reflect.ValueOf(&word).UnsafePointer(), 0x1122334455667788))

	text, err := disassemble(buf[:23])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "RDX")
	assert.Contains(t, lines[1], "R12")
	assert.Contains(t, lines[1], "0x1122334455667788")
	assert.Contains(t, lines[2], "JMP R12")

	for _, b := range buf[23:] {
		assert.Equal(t, byte(opcodeINT3), b)
	}
	assert.Error(t, writeClosureStub(buf[:8], nil, 0))
}

func TestFarCall(t *testing.T) {
	buf, err := farCall(0x12345678, -20)
	require.NoError(t, err)
	assert.Len(t, buf, 14)

	text, err := disassemble(buf)
	require.NoError(t, err)
	assert.Contains(t, text, "CALL RBP")

	_, err = farCall(1<<33, 0)
	assert.Error(t, err)
}

func addrOf(b []byte) int64 {
	return int64(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
}

func TestRelocateFunc_RelativeOperands(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		// Offset and end of the 32-bit displacement, or -1 when the
		// instruction must be copied unchanged.
		dispOff, next int
		disp          int64
	}{
		{
			name:    "float constant load",
			code:    []byte{0xf2, 0x0f, 0x10, 0x05, 0x10, 0x00, 0x00, 0x00, 0xc3}, // MOVSD X0, [RIP+0x10]; RET
			dispOff: 4, next: 8, disp: 0x10,
		},
		{
			name:    "compare with immediate",
			code:    []byte{0x83, 0x3d, 0x20, 0x00, 0x00, 0x00, 0x05, 0xc3}, // CMP dword [RIP+0x20], 5; RET
			dispOff: 2, next: 7, disp: 0x20,
		},
		{
			name:    "jump out of the function",
			code:    []byte{0xe9, 0x00, 0x01, 0x00, 0x00, 0xc3}, // JMP +0x100; RET
			dispOff: 1, next: 5, disp: 0x100,
		},
		{
			name:    "jump within the function",
			code:    []byte{0xeb, 0x00, 0xc3}, // JMP +0; RET
			dispOff: -1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := append([]byte(nil), tc.code...)
			out, err := relocateFunc(src, make([]byte, 0, 64))
			require.NoError(t, err)

			if tc.dispOff < 0 {
				assert.Equal(t, tc.code, out[:len(tc.code)])
				return
			}

			want := addrOf(src) + int64(tc.next) + tc.disp
			got := addrOf(out) + int64(tc.next) + int64(int32(binary.LittleEndian.Uint32(out[tc.dispOff:])))
			assert.Equal(t, want, got, "target moved")

			// Everything outside the displacement is copied as is.
			assert.Equal(t, tc.code[:tc.dispOff], out[:tc.dispOff])
			assert.Equal(t, tc.code[tc.dispOff+4:], out[tc.dispOff+4:len(tc.code)])
		})
	}
}

func TestRelocateFunc_ShortJumpOut(t *testing.T) {
	src := []byte{0xeb, 0x7f, 0xc3} // JMP +0x7f; RET
	_, err := relocateFunc(src, make([]byte, 0, 64))
	assert.ErrorContains(t, err, "cannot relocate 1-byte relative operand")
}
