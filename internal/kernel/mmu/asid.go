/*
 * mlkernel - ASID allocator
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

import "errors"

// ASIDBits is the width of the hardware ASID field this kernel assumes
// (8-bit, the common ARMv8-A default absent the 16-bit extension).
const ASIDBits = 8
const maxASID = 1 << ASIDBits

// ErrNoASID is returned when every ASID is in use.
var ErrNoASID = errors.New("mmu: no free ASID")

// ASIDPool hands out process-tagged TLB identifiers. ASID 0 is
// reserved for the kernel's own TTBR1 mappings and is never handed
// out to a user address space.
type ASIDPool struct {
	used [maxASID]bool
}

// NewASIDPool returns a pool with ASID 0 pre-reserved.
func NewASIDPool() *ASIDPool {
	p := &ASIDPool{}
	p.used[0] = true
	return p
}

// Alloc returns the lowest free ASID.
func (p *ASIDPool) Alloc() (uint16, error) {
	for i := 1; i < maxASID; i++ {
		if !p.used[i] {
			p.used[i] = true
			return uint16(i), nil
		}
	}
	return 0, ErrNoASID
}

// Free returns an ASID to the pool. Idempotent.
func (p *ASIDPool) Free(asid uint16) {
	if asid != 0 && int(asid) < maxASID {
		p.used[asid] = false
	}
}
