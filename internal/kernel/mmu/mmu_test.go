package mmu

/*
 * mlkernel - page table and address space tests
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

import (
	"testing"

	"mlkernel/internal/kernel/addr"
	"mlkernel/internal/kernel/frame"
)

func newTestSpace(t *testing.T, frames uint64) (*AddressSpace, *frame.Allocator) {
	t.Helper()
	ram := frame.NewRAM(frames * addr.PageSize)
	alloc := frame.New(ram, 0)
	pool := NewASIDPool()
	asid, err := pool.Alloc()
	if err != nil {
		t.Fatalf("ASID alloc: %v", err)
	}
	as, err := NewAddressSpace(alloc, asid)
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	return as, alloc
}

func TestMapTranslateRoundTrip(t *testing.T) {
	as, alloc := newTestSpace(t, 64)
	data, ok := alloc.AllocFrame()
	if !ok {
		t.Fatalf("AllocFrame failed")
	}

	va := addr.VirtAddr(0x0000_4000_1000)
	if err := as.Map(va, data, UserRW); err != nil {
		t.Fatalf("Map: %v", err)
	}

	got, flags, err := as.Translate(va)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != data {
		t.Errorf("Translate phys = %#x, want %#x", got, data)
	}
	if !flags.IsUser() {
		t.Errorf("expected user flag set")
	}
}

func TestMapAlreadyMapped(t *testing.T) {
	as, alloc := newTestSpace(t, 64)
	d1, _ := alloc.AllocFrame()
	d2, _ := alloc.AllocFrame()
	va := addr.VirtAddr(0x1000)

	if err := as.Map(va, d1, UserRW); err != nil {
		t.Fatalf("first Map: %v", err)
	}
	if err := as.Map(va, d2, UserRW); err != ErrAlreadyMapped {
		t.Errorf("second Map = %v, want ErrAlreadyMapped", err)
	}
}

func TestUnmapThenTranslateFails(t *testing.T) {
	as, alloc := newTestSpace(t, 64)
	d, _ := alloc.AllocFrame()
	va := addr.VirtAddr(0x2000)
	if err := as.Map(va, d, UserRO); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := as.Unmap(va); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if _, _, err := as.Translate(va); err != ErrNotMapped {
		t.Errorf("Translate after Unmap = %v, want ErrNotMapped", err)
	}
	if err := as.Unmap(va); err != ErrNotMapped {
		t.Errorf("double Unmap = %v, want ErrNotMapped", err)
	}
}

func TestUnmapDoesNotFreeDataFrame(t *testing.T) {
	as, alloc := newTestSpace(t, 64)
	d, _ := alloc.AllocFrame()
	va := addr.VirtAddr(0x3000)
	as.Map(va, d, UserRW)
	before := alloc.FreeFrames()
	as.Unmap(va)
	if alloc.FreeFrames() != before {
		t.Errorf("Unmap changed free frame count: before=%d after=%d", before, alloc.FreeFrames())
	}
}

func TestDestroyReclaimsAllFrames(t *testing.T) {
	as, alloc := newTestSpace(t, 256)
	initialFree := alloc.FreeFrames()

	// Map several pages spread across distinct level-3 tables so the
	// walk exercises intermediate table allocation at every level.
	vas := []addr.VirtAddr{
		0x0000_0000_1000,
		0x0000_0020_1000,
		0x0000_4000_1000,
		0x0080_0000_1000,
	}
	for _, va := range vas {
		d, ok := alloc.AllocFrame()
		if !ok {
			t.Fatalf("AllocFrame failed setting up mapping for %#x", va)
		}
		if err := as.Map(va, d, UserRWX); err != nil {
			t.Fatalf("Map(%#x): %v", va, err)
		}
	}

	if alloc.FreeFrames() == initialFree {
		t.Fatalf("expected frames consumed by mappings and tables")
	}

	as.Destroy()

	// Destroy frees every table frame plus the root (allocated before
	// initialFree was taken) but not the data frames the leaves map.
	want := initialFree + 1 - uint64(len(vas))
	if got := alloc.FreeFrames(); got != want {
		t.Errorf("Destroy did not reclaim all table frames: got free=%d want %d", got, want)
	}
}

func TestLevelIndexDistinctAcrossRange(t *testing.T) {
	lo := addr.VirtAddr(0x1000)
	hi := addr.VirtAddr(0x0080_0000_1000)
	same := true
	for l := 0; l < levels; l++ {
		if lo.LevelIndex(l) != hi.LevelIndex(l) {
			same = false
		}
	}
	if same {
		t.Errorf("expected lo and hi virtual addresses to diverge at some level")
	}
}

func TestASIDPoolExhaustion(t *testing.T) {
	pool := NewASIDPool()
	seen := map[uint16]bool{}
	for i := 0; i < maxASID-1; i++ {
		a, err := pool.Alloc()
		if err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		if seen[a] {
			t.Fatalf("ASID %d handed out twice", a)
		}
		seen[a] = true
	}
	if _, err := pool.Alloc(); err != ErrNoASID {
		t.Errorf("Alloc after exhaustion = %v, want ErrNoASID", err)
	}
	pool.Free(5)
	if a, err := pool.Alloc(); err != nil || a != 5 {
		t.Errorf("Alloc after Free(5) = %d, %v, want 5, nil", a, err)
	}
}

func TestASIDZeroReserved(t *testing.T) {
	pool := NewASIDPool()
	for i := 0; i < maxASID-1; i++ {
		a, err := pool.Alloc()
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		if a == 0 {
			t.Fatalf("ASID 0 must never be handed out")
		}
	}
}
