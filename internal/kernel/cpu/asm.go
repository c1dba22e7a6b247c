/*
 * mlkernel - tiny assembler for test and boot-scenario programs
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

import "encoding/binary"

// Program accumulates instruction words into a flat code image, the
// same raw-bytes-after-header shape loader.Image expects. It exists so
// package tests and the end-to-end boot scenarios in cmd/kernel can
// write MLK test programs as a short sequence of named instructions
// instead of hand-packed byte literals, the way emu/assemble builds a
// card image from mnemonics instead of raw words.
type Program struct {
	words []uint32
}

func (p *Program) emit(w uint32) { p.words = append(p.words, w) }

func encode(op Opcode, rd, rn, rm int, imm int32) uint32 {
	return uint32(op)<<24 | uint32(rd&mask5)<<shiftRd | uint32(rn&mask5)<<shiftRn | uint32(rm&mask5)<<shiftRm | uint32(imm)&mask14
}

// movWithShift packs the hw field (shift/16, 0-3) into bits [17:16],
// the two bits between Rd and Imm16 that MOVZ/MOVK/MOVN otherwise leave
// unused, mirroring real AArch64's hw field on the same three opcodes.
func movWithShift(op Opcode, rd int, imm16 uint16, shift uint8) uint32 {
	hw := uint32((shift / 16) & 0x3)
	return uint32(op)<<24 | uint32(rd&mask5)<<shiftRd | hw<<16 | uint32(imm16)
}

// Movz appends `movz rd, #imm16`.
func (p *Program) Movz(rd int, imm16 uint16) *Program {
	p.emit(movWithShift(OpMovz, rd, imm16, 0))
	return p
}

// MovzShift appends `movz rd, #imm16, lsl #shift` (shift one of 0/16/32/48).
func (p *Program) MovzShift(rd int, imm16 uint16, shift uint8) *Program {
	p.emit(movWithShift(OpMovz, rd, imm16, shift))
	return p
}

// Movk appends `movk rd, #imm16` (merges into the low 16 bits of rd).
func (p *Program) Movk(rd int, imm16 uint16) *Program {
	p.emit(movWithShift(OpMovk, rd, imm16, 0))
	return p
}

// MovkShift appends `movk rd, #imm16, lsl #shift`, merging imm16 into
// the halfword at the given shift without disturbing the rest of rd —
// the usual way to build a 64-bit constant wider than Movz alone can
// reach: one Movz for bits [15:0], then one MovkShift per remaining
// halfword.
func (p *Program) MovkShift(rd int, imm16 uint16, shift uint8) *Program {
	p.emit(movWithShift(OpMovk, rd, imm16, shift))
	return p
}

// Movn appends `movn rd, #imm16` (rd = ^imm16).
func (p *Program) Movn(rd int, imm16 uint16) *Program {
	p.emit(movWithShift(OpMovn, rd, imm16, 0))
	return p
}

// MovnShift appends `movn rd, #imm16, lsl #shift` (rd = ^(imm16 << shift)).
func (p *Program) MovnShift(rd int, imm16 uint16, shift uint8) *Program {
	p.emit(movWithShift(OpMovn, rd, imm16, shift))
	return p
}

// LoadAddr appends the Movz/MovkShift sequence that loads an arbitrary
// 64-bit constant into rd, used by test programs to reach the kernel's
// fixed user virtual addresses (abi.UserCodeBase, abi.UserStackTop),
// which exceed the 16 bits a single Movz can hold.
func (p *Program) LoadAddr(rd int, v uint64) *Program {
	p.Movz(rd, uint16(v))
	for shift := uint8(16); shift < 64; shift += 16 {
		half := uint16(v >> shift)
		if half != 0 {
			p.MovkShift(rd, half, shift)
		}
	}
	return p
}

// AddImm appends `add rd, rn, #imm`.
func (p *Program) AddImm(rd, rn int, imm int32) *Program {
	p.emit(encode(OpAddImm, rd, rn, 0, imm))
	return p
}

// AddReg appends `add rd, rn, rm`.
func (p *Program) AddReg(rd, rn, rm int) *Program {
	p.emit(encode(OpAddReg, rd, rn, rm, 0))
	return p
}

// SubImm appends `sub rd, rn, #imm`.
func (p *Program) SubImm(rd, rn int, imm int32) *Program {
	p.emit(encode(OpSubImm, rd, rn, 0, imm))
	return p
}

// SubReg appends `sub rd, rn, rm`.
func (p *Program) SubReg(rd, rn, rm int) *Program {
	p.emit(encode(OpSubReg, rd, rn, rm, 0))
	return p
}

// AndReg, OrrReg, EorReg append the three bitwise register forms.
func (p *Program) AndReg(rd, rn, rm int) *Program { p.emit(encode(OpAndReg, rd, rn, rm, 0)); return p }
func (p *Program) OrrReg(rd, rn, rm int) *Program { p.emit(encode(OpOrrReg, rd, rn, rm, 0)); return p }
func (p *Program) EorReg(rd, rn, rm int) *Program { p.emit(encode(OpEorReg, rd, rn, rm, 0)); return p }

// CmpReg appends `cmp rn, rm`, setting Z/N.
func (p *Program) CmpReg(rn, rm int) *Program {
	p.emit(encode(OpCmpReg, 0, rn, rm, 0))
	return p
}

// Cbz/Cbnz append a compare-and-branch, offsetWords relative to this
// instruction (ARM convention: the branch target is PC + offset*4).
func (p *Program) Cbz(rn int, offsetWords int32) *Program {
	p.emit(encode(OpCbz, 0, rn, 0, offsetWords))
	return p
}

func (p *Program) Cbnz(rn int, offsetWords int32) *Program {
	p.emit(encode(OpCbnz, 0, rn, 0, offsetWords))
	return p
}

// B/Bl append an unconditional (optionally link-setting) relative
// branch, offsetWords relative to this instruction.
func (p *Program) B(offsetWords int32) *Program {
	p.emit(uint32(OpB)<<24 | (uint32(offsetWords) & 0xffffff))
	return p
}

func (p *Program) Bl(offsetWords int32) *Program {
	p.emit(uint32(OpBl)<<24 | (uint32(offsetWords) & 0xffffff))
	return p
}

// Br appends `br rn`.
func (p *Program) Br(rn int) *Program {
	p.emit(encode(OpBr, 0, rn, 0, 0))
	return p
}

// Ret appends `ret` (branches to x30).
func (p *Program) Ret() *Program {
	p.emit(uint32(OpRet) << 24)
	return p
}

// LdrImm/StrImm append `ldr{w,x} rd, [rn, #imm]` / `str{w,x} rd, [rn, #imm]`.
func (p *Program) LdrImm(rd, rn int, imm int32, double bool) *Program {
	op := OpLdrImmW
	if double {
		op = OpLdrImmX
	}
	p.emit(encode(op, rd, rn, 0, imm))
	return p
}

func (p *Program) StrImm(rd, rn int, imm int32, double bool) *Program {
	op := OpStrImmW
	if double {
		op = OpStrImmX
	}
	p.emit(encode(op, rd, rn, 0, imm))
	return p
}

// LdrReg/StrReg append the register-offset addressing forms.
func (p *Program) LdrReg(rd, rn, rm int, double bool) *Program {
	op := OpLdrRegW
	if double {
		op = OpLdrRegX
	}
	p.emit(encode(op, rd, rn, rm, 0))
	return p
}

func (p *Program) StrReg(rd, rn, rm int, double bool) *Program {
	op := OpStrRegW
	if double {
		op = OpStrRegX
	}
	p.emit(encode(op, rd, rn, rm, 0))
	return p
}

// Svc appends `svc #0`. The syscall number and arguments are whatever
// is already loaded into x8/x0-x3 by preceding instructions.
func (p *Program) Svc() *Program {
	p.emit(uint32(OpSvc) << 24)
	return p
}

// Nop appends a no-op.
func (p *Program) Nop() *Program {
	p.emit(uint32(OpNop) << 24)
	return p
}

// Brk appends a deliberate unknown-instruction trap.
func (p *Program) Brk() *Program {
	p.emit(uint32(OpBrk) << 24)
	return p
}

// Len reports the number of instructions emitted so far, useful for
// computing relative branch offsets while assembling a program.
func (p *Program) Len() int32 { return int32(len(p.words)) }

// Bytes renders the accumulated instruction stream as little-endian
// code bytes, ready to wrap in an MLK header.
func (p *Program) Bytes() []byte {
	out := make([]byte, len(p.words)*4)
	for i, w := range p.words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
