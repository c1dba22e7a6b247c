/*
 * mlkernel - page table descriptor encoding and walking
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

// Package mmu implements the 4-level, 4 KB granule page table walker
// and per-process address spaces described in spec.md §4.2. There are
// no block mappings: every leaf lives at level 3, one descriptor per
// 4 KB page. Grounded on emu/memory's byte-level access style, applied
// to an explicit descriptor tree instead of memory's flat array.
package mmu

import (
	"encoding/binary"
	"errors"

	"mlkernel/internal/kernel/addr"
	"mlkernel/internal/kernel/frame"
)

// PTE is one 64-bit page table entry: a page-aligned output address
// ORed with Valid/Table bits and, at level 3, a Flags value.
type PTE uint64

const (
	pteValid PTE = 1 << 0
	pteTable PTE = 1 << 1 // set on every valid descriptor in this design; ARMv8 block descriptors (bit1=0) are unused
)

const entriesPerTable = 512
const levels = 4

var (
	// ErrOutOfMemory is returned when the frame allocator cannot supply
	// a table or data frame during a map operation.
	ErrOutOfMemory = errors.New("mmu: out of physical memory")
	// ErrAlreadyMapped is returned by Map when a leaf entry already
	// holds a valid mapping.
	ErrAlreadyMapped = errors.New("mmu: address already mapped")
	// ErrNotMapped is returned by Unmap/Translate for a virtual address
	// with no valid leaf descriptor.
	ErrNotMapped = errors.New("mmu: address not mapped")
)

func descAddr(e PTE) addr.PhysAddr {
	return addr.PhysAddr(e &^ PTE(addr.PageSize-1))
}

func (e PTE) valid() bool { return e&pteValid != 0 }

func flagsOf(e PTE) Flags {
	return Flags(e) & Flags(addr.PageSize-1) &^ (Flags(pteValid) | Flags(pteTable))
}

// table is a view of one 4 KB page-table frame within simulated RAM.
type table struct {
	ram  *frame.RAM
	base addr.PhysAddr
}

func (t table) entry(i int) PTE {
	b := t.ram.Slice(t.base+addr.PhysAddr(i*8), 8)
	return PTE(binary.LittleEndian.Uint64(b))
}

func (t table) setEntry(i int, e PTE) {
	b := t.ram.Slice(t.base+addr.PhysAddr(i*8), 8)
	binary.LittleEndian.PutUint64(b, uint64(e))
}

func zeroFrame(ram *frame.RAM, p addr.PhysAddr) {
	b := ram.Slice(p, addr.PageSize)
	for i := range b {
		b[i] = 0
	}
}

// walkResult carries the tables visited on the way to a leaf, innermost
// last. When walk stops at a missing intermediate table, leaf is left as
// the zero table (nil RAM).
type walkResult struct {
	tables [levels - 1]table
	leaf   table
	index  [levels]int
}

func (t table) walk(va addr.VirtAddr) walkResult {
	var wr walkResult
	cur := t
	for l := 0; l < levels; l++ {
		idx := va.LevelIndex(l)
		wr.index[l] = idx
		if l == levels-1 {
			wr.leaf = cur
			break
		}
		wr.tables[l] = cur
		e := cur.entry(idx)
		if !e.valid() {
			return wr
		}
		cur = table{ram: cur.ram, base: descAddr(e)}
	}
	return wr
}

// walkAlloc is identical to walk but allocates and zeroes any missing
// intermediate table, for use by Map.
func (t table) walkAlloc(va addr.VirtAddr, alloc *frame.Allocator) (walkResult, error) {
	var wr walkResult
	cur := t
	for l := 0; l < levels; l++ {
		idx := va.LevelIndex(l)
		wr.index[l] = idx
		if l == levels-1 {
			wr.leaf = cur
			break
		}
		wr.tables[l] = cur
		e := cur.entry(idx)
		if !e.valid() {
			p, ok := alloc.AllocFrame()
			if !ok {
				return wr, ErrOutOfMemory
			}
			zeroFrame(alloc.RAM(), p)
			e = PTE(p) | pteValid | pteTable
			cur.setEntry(idx, e)
		}
		cur = table{ram: cur.ram, base: descAddr(e)}
	}
	return wr, nil
}
