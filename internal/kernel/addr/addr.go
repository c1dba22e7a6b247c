/*
 * mlkernel - physical and virtual address types
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

// Package addr defines the two opaque address types that flow through
// every other kernel package: PhysAddr (produced only by the frame
// allocator) and VirtAddr (the only thing the MMU maps to a PhysAddr).
package addr

// PageSize is the MMU granule, 4 KB throughout this kernel.
const PageSize = 4096

// PageShift is log2(PageSize).
const PageShift = 12

// PhysAddr is a physical address. Only frame.Allocator produces these.
type PhysAddr uint64

// NoPhysAddr is the canonical "none" signal for allocation failure. It
// is guaranteed to fall outside any usable RAM range configured by
// frame.Allocator, so a caller can distinguish it from any live
// allocation.
const NoPhysAddr PhysAddr = 0

// VirtAddr is a 48-bit virtual address.
type VirtAddr uint64

// PageIndex returns the page-aligned index of a physical address.
func (p PhysAddr) PageIndex() uint64 {
	return uint64(p) >> PageShift
}

// PageAlign rounds v down to the containing page boundary.
func (v VirtAddr) PageAlign() VirtAddr {
	return v &^ (PageSize - 1)
}

// Offset returns the byte offset of v within its containing page.
func (v VirtAddr) Offset() uint64 {
	return uint64(v) & (PageSize - 1)
}

// Level index extraction for a 4-level, 4 KB granule, 48-bit VA walk.
// Each level consumes 9 bits; level 0 is the outermost table.
func (v VirtAddr) LevelIndex(level int) int {
	shift := uint(PageShift + (3-level)*9)
	return int((uint64(v) >> shift) & 0x1ff)
}
