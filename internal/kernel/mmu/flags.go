/*
 * mlkernel - page descriptor flag taxonomy
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

// Flags occupies bits [11:2] of a leaf descriptor, the ten bits a real
// ARMv8-A page descriptor leaves free below its page-aligned output
// address. Exact bit positions are an implementation choice; spec.md
// fixes the taxonomy (§4.2), not the encoding.
type Flags uint64

const (
	flagAccess     Flags = 1 << 2 // set at map time, mirrors the hardware access flag
	flagNonGlobal  Flags = 1 << 3 // per-ASID, not flushed on ASID switch
	flagUser       Flags = 1 << 4 // EL0-accessible
	flagReadOnly   Flags = 1 << 5
	flagShareInner Flags = 1 << 6
	flagMemDevice  Flags = 1 << 8
	flagMemNC      Flags = 1 << 9 // normal, non-cacheable
	flagPXN        Flags = 1 << 10 // privileged execute never
	flagUXN        Flags = 1 << 11 // unprivileged execute never
)

// Named flag sets, spec.md §4.2's flags taxonomy.
const (
	KernelRWX = flagAccess
	KernelRW  = flagAccess | flagUXN | flagPXN
	KernelRO  = flagAccess | flagReadOnly | flagUXN | flagPXN
	KernelRX  = flagAccess

	DeviceRW     = flagAccess | flagMemDevice | flagUXN | flagPXN
	UserDeviceRW = flagAccess | flagUser | flagNonGlobal | flagMemDevice | flagUXN | flagPXN

	UserRWX = flagAccess | flagUser | flagNonGlobal
	UserRW  = flagAccess | flagUser | flagNonGlobal | flagUXN | flagPXN
	UserRO  = flagAccess | flagUser | flagNonGlobal | flagReadOnly | flagUXN | flagPXN
	UserRX  = flagAccess | flagUser | flagNonGlobal | flagPXN

	UserDMA = flagAccess | flagUser | flagNonGlobal | flagMemNC | flagShareInner | flagUXN | flagPXN
)

// IsUser reports whether the mapping is EL0-accessible.
func (f Flags) IsUser() bool { return f&flagUser != 0 }

// IsReadOnly reports whether writes fault.
func (f Flags) IsReadOnly() bool { return f&flagReadOnly != 0 }

// IsDevice reports device (non-cacheable, strongly ordered) memory type.
func (f Flags) IsDevice() bool { return f&flagMemDevice != 0 }

// IsExecutable reports whether code may be fetched from this mapping at
// the privilege level implied by IsUser.
func (f Flags) IsExecutable() bool {
	if f.IsUser() {
		return f&flagUXN == 0
	}
	return f&flagPXN == 0
}
