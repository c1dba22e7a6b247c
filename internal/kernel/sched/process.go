/*
 * mlkernel - process table entries
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

package sched

import "mlkernel/internal/kernel/addr"

// ProcessState is a process's lifecycle state.
type ProcessState int

const (
	ProcRunning ProcessState = iota
	ProcZombie
	ProcDead
)

func (s ProcessState) String() string {
	switch s {
	case ProcRunning:
		return "running"
	case ProcZombie:
		return "zombie"
	case ProcDead:
		return "dead"
	default:
		return "unknown"
	}
}

// MemRegion is one exhaustively-tracked allocation owned by a process,
// used at cleanup to release every frame deterministically rather than
// relying on the page tables alone (a region can outlive its mapping,
// e.g. a DMA buffer the process never explicitly unmaps).
type MemRegion struct {
	PhysBase  addr.PhysAddr
	PageCount uint64
	InUse     bool
}

// AddressSpace is the subset of mmu.AddressSpace the scheduler needs
// to know about without importing mmu, avoiding a cycle (mmu never
// needs to know about processes). The concrete *mmu.AddressSpace
// satisfies this via kernel.go's wiring.
type AddressSpace interface {
	ASID() uint16
	Root() addr.PhysAddr
	Destroy()
}

// Process is a process table entry. Parent linkage is a numeric pid,
// never a pointer, so a reaped child's slot can be reused without
// leaving a dangling reference in its parent.
type Process struct {
	PID        uint32
	ParentPID  int64 // -1 for no parent
	Space      AddressSpace
	ThreadCnt  int
	State      ProcessState
	ExitCode   int
	Regions    []MemRegion

	threads []*Thread
}

// AddRegion appends a tracked allocation to the process's ledger.
func (p *Process) AddRegion(base addr.PhysAddr, pages uint64) {
	p.Regions = append(p.Regions, MemRegion{PhysBase: base, PageCount: pages, InUse: true})
}
