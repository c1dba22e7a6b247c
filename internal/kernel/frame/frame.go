/*
 * mlkernel - physical frame allocator
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

// Package frame implements the physical frame allocator: a bitmap over
// a simulated physical RAM range, first-fit for single frames and for
// contiguous runs. Grounded on emu/memory's flat-array-plus-bit-ops
// style, generalized from a fixed word array to a growable bitmap
// sized at boot from the configured RAM size.
package frame

import (
	"errors"

	"mlkernel/internal/kernel/addr"
)

// ErrInvalidCount is returned for an alloc_contiguous(0) request.
var ErrInvalidCount = errors.New("frame: count must be >= 1")

// RAM backs the simulated physical address space: every PhysAddr below
// len(RAM.bytes) can be read and written by the MMU and device models.
// It is the one honest "this is not real hardware" admission in the
// kernel — everything built on top of it behaves exactly as spec.md
// describes.
type RAM struct {
	bytes []byte
}

// NewRAM allocates a simulated physical RAM region of the given size.
func NewRAM(size uint64) *RAM {
	return &RAM{bytes: make([]byte, size)}
}

func (r *RAM) Size() uint64 { return uint64(len(r.bytes)) }

// Slice returns the byte range [p, p+n) of simulated RAM. Callers must
// stay within bounds; the MMU translator is responsible for making
// sure mapped virtual ranges never point outside RAM.
func (r *RAM) Slice(p addr.PhysAddr, n int) []byte {
	return r.bytes[p : uint64(p)+uint64(n)]
}

// Allocator is a first-fit bitmap allocator over a contiguous physical
// region [Base, Base+N*PageSize).
type Allocator struct {
	ram        *RAM
	base       addr.PhysAddr
	frameCount uint64
	bitmap     []uint64 // one bit per frame, 0 = free
	free       uint64
}

// New creates an allocator covering the usable RAM above base (the low
// region below base is reserved for the kernel image and is never
// handed out).
func New(ram *RAM, base addr.PhysAddr) *Allocator {
	total := ram.Size()
	if uint64(base) >= total {
		return &Allocator{ram: ram, base: base, frameCount: 0, bitmap: nil}
	}
	count := (total - uint64(base)) / addr.PageSize
	words := (count + 63) / 64
	return &Allocator{
		ram:        ram,
		base:       base,
		frameCount: count,
		bitmap:     make([]uint64, words),
		free:       count,
	}
}

// FreeFrames reports the number of free frames. Equals the number of
// zero bits within [0, frameCount).
func (a *Allocator) FreeFrames() uint64 { return a.free }

// TotalFrames reports the frame count covered by this allocator.
func (a *Allocator) TotalFrames() uint64 { return a.frameCount }

func (a *Allocator) testBit(i uint64) bool {
	return a.bitmap[i/64]&(1<<(i%64)) != 0
}

func (a *Allocator) setBit(i uint64) {
	a.bitmap[i/64] |= 1 << (i % 64)
}

func (a *Allocator) clearBit(i uint64) {
	a.bitmap[i/64] &^= 1 << (i % 64)
}

func (a *Allocator) toPhys(i uint64) addr.PhysAddr {
	return a.base + addr.PhysAddr(i*addr.PageSize)
}

func (a *Allocator) toIndex(p addr.PhysAddr) (uint64, bool) {
	if p < a.base {
		return 0, false
	}
	off := uint64(p - a.base)
	if off%addr.PageSize != 0 {
		return 0, false
	}
	i := off / addr.PageSize
	if i >= a.frameCount {
		return 0, false
	}
	return i, true
}

// AllocFrame finds the lowest free bit, marks it allocated, and
// returns its physical address, or (NoPhysAddr, false) if RAM is
// exhausted.
func (a *Allocator) AllocFrame() (addr.PhysAddr, bool) {
	for i := uint64(0); i < a.frameCount; i++ {
		if !a.testBit(i) {
			a.setBit(i)
			a.free--
			return a.toPhys(i), true
		}
	}
	return addr.NoPhysAddr, false
}

// FreeFrame releases a single frame. Idempotent: freeing an
// already-free frame is a no-op, not an error.
func (a *Allocator) FreeFrame(p addr.PhysAddr) {
	i, ok := a.toIndex(p)
	if !ok {
		return
	}
	if a.testBit(i) {
		a.clearBit(i)
		a.free++
	}
}

// AllocContiguous scans for the first run of count consecutive free
// frames and atomically marks the whole run allocated. count must be
// >= 1; requesting more than the free total fails without allocating
// anything.
func (a *Allocator) AllocContiguous(count uint64) (addr.PhysAddr, error) {
	if count == 0 {
		return addr.NoPhysAddr, ErrInvalidCount
	}
	if count > a.frameCount {
		return addr.NoPhysAddr, nil
	}

	var runStart uint64
	runLen := uint64(0)
	for i := uint64(0); i < a.frameCount; i++ {
		if a.testBit(i) {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = i
		}
		runLen++
		if runLen == count {
			for j := runStart; j < runStart+count; j++ {
				a.setBit(j)
			}
			a.free -= count
			return a.toPhys(runStart), nil
		}
	}
	return addr.NoPhysAddr, nil
}

// FreePages releases count consecutive frames starting at p.
func (a *Allocator) FreePages(p addr.PhysAddr, count uint64) {
	i, ok := a.toIndex(p)
	if !ok {
		return
	}
	for j := i; j < i+count && j < a.frameCount; j++ {
		if a.testBit(j) {
			a.clearBit(j)
			a.free++
		}
	}
}

// RAM returns the underlying simulated physical memory, so the MMU and
// device models can read/write the bytes a frame addresses.
func (a *Allocator) RAM() *RAM { return a.ram }
