/*
 * mlkernel - instruction encoding and operand decode
 *
 * Copyright 2026, mlkernel contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package cpu

// Opcode is the 8-bit instruction class in bits [31:24] of an
// instruction word. Unlike real AArch64 encoding (which this
// simulator does not reproduce bit-for-bit — see the package doc),
// each opcode maps to exactly one addressing form, so Decode below
// extracts operand fields with a single format switch on Opcode
// rather than the teacher's cascading RR/RX/SS switches over bit
// masks of the opcode byte. The genuine createTable-style dispatch —
// a table built once, indexed by Opcode — is cpu.go's execute step,
// not decode.
type Opcode byte

const (
	OpNop Opcode = iota
	OpMovz
	OpMovk
	OpMovn
	OpAddImm
	OpAddReg
	OpSubImm
	OpSubReg
	OpAndReg
	OpOrrReg
	OpEorReg
	OpCmpReg
	OpCbz
	OpCbnz
	OpB
	OpBl
	OpBr
	OpRet
	OpLdrImmW
	OpLdrImmX
	OpLdrRegW
	OpLdrRegX
	OpStrImmW
	OpStrImmX
	OpStrRegW
	OpStrRegX
	OpSvc
	OpBrk
)

// Instruction is a decoded instruction word.
type Instruction struct {
	Op    Opcode
	Rd    int   // bits [23:19]
	Rn    int   // bits [18:14]
	Rm    int   // bits [13:9], register-addressing forms only
	Imm   int32 // sign-extended 14-bit immediate, bits [13:0]
	Imm16 uint16 // zero-extended 16-bit immediate, bits [15:0], MOVZ/MOVK/MOVN only
	Shift uint8 // halfword position (0/16/32/48) the Imm16 targets, bits [17:16], MOVZ/MOVK/MOVN only
}

const (
	shiftRd  = 19
	shiftRn  = 14
	shiftRm  = 9
	mask5    = 0x1f
	mask14   = 0x3fff
	signBit14 = 1 << 13
)

// Decode extracts an Instruction from a raw 32-bit word. It never
// fails: an opcode byte with no table entry decodes as OpBrk's
// "unknown instruction" trap at execute time, the same fail-fast
// stance spec.md takes for an out-of-range syscall number.
func Decode(word uint32) Instruction {
	op := Opcode(word >> 24)
	switch op {
	case OpMovz, OpMovk, OpMovn:
		return Instruction{Op: op, Rd: int((word >> shiftRd) & mask5), Imm16: uint16(word & 0xffff), Shift: uint8(((word >> 16) & 0x3) * 16)}
	case OpAddReg, OpSubReg, OpAndReg, OpOrrReg, OpEorReg, OpCmpReg:
		return Instruction{Op: op, Rd: int((word >> shiftRd) & mask5), Rn: int((word >> shiftRn) & mask5), Rm: int((word >> shiftRm) & mask5)}
	case OpAddImm, OpSubImm:
		return Instruction{Op: op, Rd: int((word >> shiftRd) & mask5), Rn: int((word >> shiftRn) & mask5), Imm: signExtend14(word)}
	case OpCbz, OpCbnz:
		return Instruction{Op: op, Rn: int((word >> shiftRn) & mask5), Imm: signExtend14(word)}
	case OpB, OpBl:
		return Instruction{Op: op, Imm: signExtend24(word)}
	case OpBr:
		return Instruction{Op: op, Rn: int((word >> shiftRn) & mask5)}
	case OpRet, OpNop, OpSvc, OpBrk:
		return Instruction{Op: op}
	case OpLdrImmW, OpLdrImmX, OpStrImmW, OpStrImmX:
		return Instruction{Op: op, Rd: int((word >> shiftRd) & mask5), Rn: int((word >> shiftRn) & mask5), Imm: signExtend14(word)}
	case OpLdrRegW, OpLdrRegX, OpStrRegW, OpStrRegX:
		return Instruction{Op: op, Rd: int((word >> shiftRd) & mask5), Rn: int((word >> shiftRn) & mask5), Rm: int((word >> shiftRm) & mask5)}
	default:
		return Instruction{Op: OpBrk}
	}
}

func signExtend14(word uint32) int32 {
	v := word & mask14
	if v&signBit14 != 0 {
		return int32(v) - (mask14 + 1)
	}
	return int32(v)
}

func signExtend24(word uint32) int32 {
	const mask24 = 0xffffff
	const sign24 = 1 << 23
	v := word & mask24
	if v&sign24 != 0 {
		return int32(v) - (mask24 + 1)
	}
	return int32(v)
}
