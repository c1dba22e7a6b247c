/*
 * mlkernel - per-process address spaces
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

package mmu

import (
	"mlkernel/internal/kernel/addr"
	"mlkernel/internal/kernel/frame"
)

// AddressSpace is one process's page table root plus the ASID that
// tags its TLB entries. Every user process gets its own; the kernel's
// own high-half mappings live in a single space shared by all threads
// (analogous to TTBR1 being constant across ASID switches).
type AddressSpace struct {
	alloc *frame.Allocator
	root  addr.PhysAddr
	asid  uint16
}

// NewAddressSpace allocates a fresh, zeroed root table.
func NewAddressSpace(alloc *frame.Allocator, asid uint16) (*AddressSpace, error) {
	root, ok := alloc.AllocFrame()
	if !ok {
		return nil, ErrOutOfMemory
	}
	zeroFrame(alloc.RAM(), root)
	return &AddressSpace{alloc: alloc, root: root, asid: asid}, nil
}

// ASID returns the TLB tag for this address space.
func (as *AddressSpace) ASID() uint16 { return as.asid }

// Root returns the physical address of the level-0 table, the value
// loaded into TTBR0 on a context switch into this address space.
func (as *AddressSpace) Root() addr.PhysAddr { return as.root }

func (as *AddressSpace) rootTable() table {
	return table{ram: as.alloc.RAM(), base: as.root}
}

// Map installs a 4 KB mapping from va to pa with the given flags,
// allocating any intermediate tables on demand. It fails with
// ErrAlreadyMapped if va already has a valid leaf.
func (as *AddressSpace) Map(va addr.VirtAddr, pa addr.PhysAddr, flags Flags) error {
	wr, err := as.rootTable().walkAlloc(va, as.alloc)
	if err != nil {
		return err
	}
	idx := wr.index[levels-1]
	if wr.leaf.entry(idx).valid() {
		return ErrAlreadyMapped
	}
	wr.leaf.setEntry(idx, PTE(pa)|PTE(flags)|pteValid|pteTable)
	return nil
}

// Unmap clears the leaf descriptor for va. It does not free pa back to
// the frame allocator: ownership of mapped data frames is the caller's
// (see Destroy for full address-space teardown). Returns ErrNotMapped
// if va has no valid mapping.
func (as *AddressSpace) Unmap(va addr.VirtAddr) error {
	wr := as.rootTable().walk(va)
	idx := wr.index[levels-1]
	if wr.leaf.ram == nil || !wr.leaf.entry(idx).valid() {
		return ErrNotMapped
	}
	wr.leaf.setEntry(idx, 0)
	return nil
}

// Translate walks the table for va and returns the physical address
// va maps to (the leaf's frame plus va's offset within the page) and
// the leaf's flags, or ErrNotMapped if no valid leaf exists.
func (as *AddressSpace) Translate(va addr.VirtAddr) (addr.PhysAddr, Flags, error) {
	wr := as.rootTable().walk(va)
	if wr.leaf.ram == nil {
		return addr.NoPhysAddr, 0, ErrNotMapped
	}
	idx := wr.index[levels-1]
	e := wr.leaf.entry(idx)
	if !e.valid() {
		return addr.NoPhysAddr, 0, ErrNotMapped
	}
	return descAddr(e) + addr.PhysAddr(va.Offset()), flagsOf(e), nil
}

// Destroy recursively frees every table frame in this address space,
// then releases the root itself. It deliberately does not touch any
// frame referenced by a level-3 leaf descriptor: those are data pages
// owned by the process's memory regions and are freed there, not here,
// because the same data frame can be mapped by more than one leaf (e.g.
// device identity maps shared with the kernel's own tree) while
// data-page ownership must still have exactly one source of truth.
// Destroy does not touch the ASID pool; callers free the ASID once the
// last thread using it has been retired.
func (as *AddressSpace) Destroy() {
	as.destroyLevel(as.root, 0)
	as.alloc.FreeFrame(as.root)
}

func (as *AddressSpace) destroyLevel(base addr.PhysAddr, level int) {
	if level == levels-1 {
		return // leaves are data pages, reclaimed via Process.memory_regions
	}
	t := table{ram: as.alloc.RAM(), base: base}
	for i := 0; i < entriesPerTable; i++ {
		e := t.entry(i)
		if !e.valid() {
			continue
		}
		child := descAddr(e)
		as.destroyLevel(child, level+1)
		as.alloc.FreeFrame(child) // table frame, freed after its contents are reclaimed
	}
}
