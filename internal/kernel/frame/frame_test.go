package frame

/*
 * mlkernel - frame allocator tests
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
)

// newTestAllocator reserves the first page so that no frame sits at
// address 0, the NoPhysAddr sentinel.
func newTestAllocator(frames uint64) *Allocator {
	ram := NewRAM((frames + 1) * addr.PageSize)
	return New(ram, addr.PageSize)
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newTestAllocator(8)
	before := a.FreeFrames()

	p, ok := a.AllocFrame()
	if !ok {
		t.Fatalf("AllocFrame failed on empty allocator")
	}
	a.FreeFrame(p)

	if got := a.FreeFrames(); got != before {
		t.Errorf("free_frames not restored: got %d want %d", got, before)
	}
}

func TestAllocFrameFirstFit(t *testing.T) {
	a := newTestAllocator(4)
	var got []addr.PhysAddr
	for i := 0; i < 4; i++ {
		p, ok := a.AllocFrame()
		if !ok {
			t.Fatalf("AllocFrame %d failed unexpectedly", i)
		}
		got = append(got, p)
	}
	if _, ok := a.AllocFrame(); ok {
		t.Errorf("AllocFrame succeeded after RAM exhausted")
	}
	if a.FreeFrames() != 0 {
		t.Errorf("FreeFrames = %d, want 0", a.FreeFrames())
	}

	a.FreeFrame(got[1])
	p, ok := a.AllocFrame()
	if !ok || p != got[1] {
		t.Errorf("expected reuse of freed frame %d, got %d ok=%v", got[1], p, ok)
	}
}

func TestFreeFrameIdempotent(t *testing.T) {
	a := newTestAllocator(2)
	p, _ := a.AllocFrame()
	a.FreeFrame(p)
	before := a.FreeFrames()
	a.FreeFrame(p) // double free must not double-increment free count
	if a.FreeFrames() != before {
		t.Errorf("double free_frame changed free count: %d -> %d", before, a.FreeFrames())
	}
}

func TestAllocContiguousBoundary(t *testing.T) {
	a := newTestAllocator(4)

	if _, err := a.AllocContiguous(0); err == nil {
		t.Errorf("AllocContiguous(0) should be invalid")
	}

	p, err := a.AllocContiguous(4)
	if err != nil || p == addr.NoPhysAddr {
		t.Fatalf("AllocContiguous(4) on 4 free frames should succeed: %v %v", p, err)
	}
	a.FreePages(p, 4)

	if _, err := a.AllocContiguous(5); err != nil {
		t.Fatalf("AllocContiguous(5) unexpected error: %v", err)
	} else if p2, _ := a.AllocContiguous(5); p2 != addr.NoPhysAddr {
		t.Errorf("AllocContiguous(5) on 4-frame pool should fail, got %v", p2)
	}
}

func TestAllocContiguousNoPartialOnFailure(t *testing.T) {
	a := newTestAllocator(4)
	// Fragment: allocate all, free only frame 2, leaving a single free frame.
	frames := make([]addr.PhysAddr, 4)
	for i := range frames {
		frames[i], _ = a.AllocFrame()
	}
	a.FreeFrame(frames[2])

	before := a.FreeFrames()
	p, _ := a.AllocContiguous(2)
	if p != addr.NoPhysAddr {
		t.Errorf("expected contiguous(2) to fail on a single free frame, got %v", p)
	}
	if a.FreeFrames() != before {
		t.Errorf("failed AllocContiguous must not partially allocate: before=%d after=%d", before, a.FreeFrames())
	}
}

func TestFreePagesReleasesRun(t *testing.T) {
	a := newTestAllocator(8)
	before := a.FreeFrames()
	p, err := a.AllocContiguous(3)
	if err != nil || p == addr.NoPhysAddr {
		t.Fatalf("AllocContiguous(3) failed: %v %v", p, err)
	}
	a.FreePages(p, 3)
	if a.FreeFrames() != before {
		t.Errorf("FreePages did not restore free count: got %d want %d", a.FreeFrames(), before)
	}
}
