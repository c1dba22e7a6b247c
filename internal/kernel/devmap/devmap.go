/*
 * mlkernel - device region allowlist
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

// Package devmap holds the static device-region allowlist MAP_DEVICE
// checks against, plus the config-file-contributed extra regions.
// Grounded on the teacher's device model registry (emu/device), here
// reduced from a pluggable model table to a closed allowlist, since
// spec.md fixes the device set rather than letting it be extended at
// runtime.
package devmap

import "errors"

// ErrNoPermission is returned for any range not fully contained in an
// allowlisted region.
var ErrNoPermission = errors.New("devmap: region not in device allowlist")

// Region is one allowlisted physical range.
type Region struct {
	Name string
	Base uint64
	Size uint64
}

func (r Region) contains(base, size uint64) bool {
	if size == 0 {
		return false
	}
	end := base + size
	rend := r.Base + r.Size
	return base >= r.Base && end <= rend && end > base
}

// Allowlist is the fixed set of architecture regions plus any extra
// regions contributed by the boot config file.
type Allowlist struct {
	regions []Region
}

// New builds the architecture-fixed allowlist: the GIC distributor and
// CPU interface, the PL011 UART, and the 32-slot VirtIO-MMIO window.
func New() *Allowlist {
	a := &Allowlist{}
	a.regions = append(a.regions, Region{Name: "gic", Base: 0x0800_0000, Size: 0x0001_0000})
	a.regions = append(a.regions, Region{Name: "uart0", Base: 0x0900_0000, Size: 0x0000_1000})
	a.regions = append(a.regions, Region{Name: "virtio-mmio", Base: 0x0a00_0000, Size: 32 * 0x200})
	return a
}

// AddRegion extends the allowlist with a config-file-contributed
// region (spec.md's design leaves the exact device ids out of the core
// design; this is the hook a particular build uses to add them).
func (a *Allowlist) AddRegion(name string, base, size uint64) {
	a.regions = append(a.regions, Region{Name: name, Base: base, Size: size})
}

// Check reports whether [base, base+size) lies entirely within a
// single allowlisted region.
func (a *Allowlist) Check(base, size uint64) error {
	for _, r := range a.regions {
		if r.contains(base, size) {
			return nil
		}
	}
	return ErrNoPermission
}

// Regions returns the current allowlist, for console/debug listing.
func (a *Allowlist) Regions() []Region {
	out := make([]Region, len(a.regions))
	copy(out, a.regions)
	return out
}
