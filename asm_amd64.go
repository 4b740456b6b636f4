package shadow

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"unsafe"

	"fortio.org/safecast"
	"golang.org/x/arch/x86/x86asm"
)

const (
	opcodeCALLabs = 0xff // CALL abs32
	opcodeCALLrel = 0xe8 // CALL rel32
	opcodeINT3    = 0xcc
	opcodeJMP     = 0xe9 // JMP rel32

	opcodeMOV_imm_rm = 0xc7 // MOV imm, r/m

	regModeDirect = 3
	registerBP    = 5
)

// stubSize is the space reserved for a closure stub.
const stubSize = 32

func insertJump(buf []byte, dest uintptr) error {
	const instructionSize = 5 // 1 byte opcode + 4 byte address

	if len(buf) < instructionSize {
		return errors.New("buffer too small for jump instruction")
	}

	src := uintptr(unsafe.Pointer(unsafe.SliceData(buf))) + instructionSize
	rel, err := safecast.Conv[int32](int64(dest) - int64(src))
	if err != nil {
		return fmt.Errorf("jump target %#x out of range of %#x: %w", dest, src, err)
	}

	buf[0] = opcodeJMP
	binary.LittleEndian.PutUint32(buf[1:], uint32(rel))

	// Pad the rest of the buffer INT3 opcodes to match what the compiler does
	for i := instructionSize; i < len(buf); i++ {
		buf[i] = opcodeINT3
	}

	return nil
}

// writeClosureStub fills buf with the x86-64 machine code equivalent of:
//
//	MOVQ <ctx>, DX
//	MOVQ <code>, R12
//	JMP R12
//
// DX carries the closure context under the Go register ABI and R12 is
// scratch, so jumping here from a function entry calls the closure with the
// original arguments intact.
func writeClosureStub(buf []byte, ctx unsafe.Pointer, code uintptr) error {
	if len(buf) < 23 {
		return errors.New("buffer too small for closure stub")
	}

	i := 0

	// MOVQ <ctx>, DX
	buf[i] = byte(x86asm.PrefixREX) | byte(x86asm.PrefixREXW)
	buf[i+1] = 0xba
	binary.LittleEndian.PutUint64(buf[i+2:], uint64(uintptr(ctx)))
	i += 10

	// MOVQ <code>, R12
	buf[i] = byte(x86asm.PrefixREX) | byte(x86asm.PrefixREXW) | byte(x86asm.PrefixREXB)
	buf[i+1] = 0xbc
	binary.LittleEndian.PutUint64(buf[i+2:], uint64(code))
	i += 10

	// JMP R12
	buf[i] = byte(x86asm.PrefixREX) | byte(x86asm.PrefixREXB)
	buf[i+1] = opcodeCALLabs
	buf[i+2] = regModeDirect<<6 | 4<<3 | 4
	i += 3

	for ; i < len(buf); i++ {
		buf[i] = opcodeINT3
	}
	return nil
}

// relocateFunc copies machine instructions from src into dest translating
// relative instructions as it goes. Calls that no longer reach their target
// go through a far call appended after the function, so dest needs spare
// capacity beyond len(src).
//
// The data underlying the slices is assumed to be the same address the code
// would execute from.
//
// The dest slice is returned after being resized.
func relocateFunc(src, dest []byte) ([]byte, error) {
	srcBase := uintptr(unsafe.Pointer(unsafe.SliceData(src)))
	destBase := uintptr(unsafe.Pointer(unsafe.SliceData(dest)))

	// Trim INT3 opcodes from the end of src
	padStart := len(src) - 1
	for ; padStart > 0 && src[padStart] == opcodeINT3; padStart-- {
	}
	src = src[:padStart+1]

	if cap(dest) < len(src) {
		return nil, errors.New("destination smaller than source")
	}
	dest = dest[:len(src)]

	for i := 0; i < len(src); {
		instruction, err := x86asm.Decode(src[i:], 64)
		if err != nil {
			return nil, fmt.Errorf("decode error at offset %d: %w", i, err)
		}

		srcAddr := srcBase + uintptr(i) + uintptr(instruction.Len)
		destAddr := destBase + uintptr(i) + uintptr(instruction.Len)

		switch instruction.Opcode >> 24 {
		case opcodeCALLrel:
			rel, ok := instruction.Args[0].(x86asm.Rel)
			if !ok {
				return nil, fmt.Errorf("decode error at offset %d: unknown argument", i)
			}

			absCallDest := srcAddr + uintptr(rel)
			if newRel, err := safecast.Conv[int32](int64(absCallDest) - int64(destAddr)); err == nil {
				dest[i] = opcodeCALLrel
				binary.LittleEndian.PutUint32(dest[i+1:], uint32(newRel))
				break
			}

			// The new address is too far to call directly
			jumpBack := int32(i + instruction.Len - len(dest))
			ccBuf, err := farCall(absCallDest, jumpBack)
			if err != nil {
				return nil, fmt.Errorf("unable to generate call code: %w", err)
			}
			if len(dest)+len(ccBuf) > cap(dest) {
				return nil, fmt.Errorf("no room for far call at offset %d", i)
			}
			jumpTo := int32(len(dest) - (i + instruction.Len))

			dest = append(dest, ccBuf...)

			dest[i] = opcodeJMP
			binary.LittleEndian.PutUint32(dest[i+1:], uint32(jumpTo))
		default:
			copy(dest[i:], src[i:i+instruction.Len])
		}

		if instruction.PCRel == 0 || instruction.Opcode>>24 == opcodeCALLrel {
			i += instruction.Len
			continue
		}

		// Every other PC-relative operand, a branch or a RIP based memory
		// access, keeps its absolute target.
		target, isBranch, err := relativeTarget(instruction, srcAddr)
		if err != nil {
			return nil, fmt.Errorf("decode error at offset %d: %w", i, err)
		}
		if isBranch && target >= int64(srcBase) && target < int64(srcBase)+int64(len(src)) {
			// Branches within the function move along with it.
			i += instruction.Len
			continue
		}
		if instruction.PCRel != 4 {
			return nil, fmt.Errorf("decode error at offset %d: cannot relocate %d-byte relative operand of %v", i, instruction.PCRel, instruction.Op)
		}
		newDisp, err := safecast.Conv[int32](target - int64(destAddr))
		if err != nil {
			return nil, fmt.Errorf("decode error at offset %d: unable to translate instruction relative address: %w", i, err)
		}
		binary.LittleEndian.PutUint32(dest[i+instruction.PCRelOff:], uint32(newDisp))

		i += instruction.Len
	}

	// Pad to 16-bytes
	for len(dest)&0xf != 0 && len(dest) < cap(dest) {
		dest = append(dest, opcodeINT3)
	}

	return dest, nil
}

// relativeTarget returns the absolute address a PC-relative operand of inst
// refers to. next is the address of the instruction that follows inst.
func relativeTarget(inst x86asm.Inst, next uintptr) (int64, bool, error) {
	for _, arg := range inst.Args {
		switch a := arg.(type) {
		case x86asm.Rel:
			return int64(next) + int64(a), true, nil
		case x86asm.Mem:
			if a.Base == x86asm.RIP {
				return int64(next) + a.Disp, false, nil
			}
		}
	}
	return 0, false, fmt.Errorf("no relative operand in %v", inst.Op)
}

// farCall returns the x86-64 machine code equivalent of:
//
//	MOVQ <callDest>, BP
//	CALL BP
//	JMP <jumpBack+offset>
//
// jumpBack should be relative to the beginning of the block and will be
// adjusted for its final address.
func farCall(callDest uintptr, jumpBack int32) ([]byte, error) {
	if callDest > math.MaxUint32 {
		return nil, errors.New("64-bit call is not implemented")
	}

	buf := make([]byte, 14)
	i := 0

	// MOVQ <callDest> BP
	buf[i] = byte(x86asm.PrefixREX) | byte(x86asm.PrefixREXW)
	i++
	buf[i] = opcodeMOV_imm_rm
	i++
	buf[i] = regModeDirect<<6 | registerBP
	i++

	binary.LittleEndian.PutUint32(buf[i:], uint32(callDest))
	i += 4

	// CALL BP
	buf[i] = opcodeCALLabs
	i++
	buf[i] = regModeDirect<<6 | 2<<3 | registerBP
	i++

	// JMP <jumpBack>
	buf[i] = opcodeJMP
	i++
	binary.LittleEndian.PutUint32(buf[i:], uint32(jumpBack-int32(i)-4))

	return buf, nil
}

func disassemble(code []byte) (string, error) {
	var buf bytes.Buffer

	baseAddr := uintptr(unsafe.Pointer(unsafe.SliceData(code)))

	for i := 0; i < len(code); {
		instruction, err := x86asm.Decode(code[i:], 64)
		if err != nil {
			return "", fmt.Errorf("decode error at offset %d: %w", i, err)
		}
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", baseAddr+uintptr(i), hex.EncodeToString(code[i:i+instruction.Len]), instruction.String())

		i += instruction.Len
	}

	return buf.String(), nil
}
