/*
 * mlkernel - user process creation
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

package loader

import (
	"mlkernel/internal/kernel/abi"
	"mlkernel/internal/kernel/addr"
	"mlkernel/internal/kernel/devmap"
	"mlkernel/internal/kernel/frame"
	"mlkernel/internal/kernel/mmu"
	"mlkernel/internal/kernel/sched"
)

// Spawner bundles the subsystems Spawn needs to build a complete user
// process: the frame allocator, the ASID pool, the scheduler, and the
// device allowlist whose regions get identity-mapped into every new
// address space, per spec.md §4.4's "create user process".
type Spawner struct {
	Alloc  *frame.Allocator
	ASIDs  *mmu.ASIDPool
	Sched  *sched.Scheduler
	Devs   *devmap.Allowlist
}

// Spawn builds a full process from img: a fresh address space with
// identity-mapped device regions, code pages, a user stack, a
// physically contiguous kernel stack, and a main thread initialized
// to first-run-user. Any failure partway unwinds every allocation
// already made (frames, ASID, process slot) before returning, so a
// failed spawn is never partially visible.
func (sp *Spawner) Spawn(parentPID int64, priority sched.Priority, img *Image) (*sched.Process, *sched.Thread, error) {
	asid, err := sp.ASIDs.Alloc()
	if err != nil {
		return nil, nil, err
	}
	undo := func() { sp.ASIDs.Free(asid) }

	space, err := mmu.NewAddressSpace(sp.Alloc, asid)
	if err != nil {
		undo()
		return nil, nil, err
	}
	undo = func() { space.Destroy(); sp.ASIDs.Free(asid) }

	for _, r := range sp.Devs.Regions() {
		for off := uint64(0); off < r.Size; off += addr.PageSize {
			va := addr.VirtAddr(r.Base + off)
			pa := addr.PhysAddr(r.Base + off)
			if err := space.Map(va, pa, mmu.DeviceRW); err != nil {
				undo()
				return nil, nil, err
			}
		}
	}

	proc, err := sp.Sched.NewProcess(parentPID, space)
	if err != nil {
		undo()
		return nil, nil, err
	}
	undoProcess := func() { sp.Sched.AbandonProcess(proc); undo() }

	codePages := (uint64(len(img.Code)) + addr.PageSize - 1) / addr.PageSize
	codeBase, err := sp.Alloc.AllocContiguous(codePages)
	if err != nil || codeBase == addr.NoPhysAddr {
		undoProcess()
		return nil, nil, ErrNoMemory
	}
	raw := sp.Alloc.RAM().Slice(codeBase, int(codePages*addr.PageSize))
	copy(raw, img.Code)
	for i := uint64(0); i < codePages; i++ {
		va := addr.VirtAddr(abi.UserCodeBase + i*addr.PageSize)
		pa := codeBase + addr.PhysAddr(i*addr.PageSize)
		if err := space.Map(va, pa, mmu.UserRX); err != nil {
			sp.Alloc.FreePages(codeBase, codePages)
			undoProcess()
			return nil, nil, err
		}
	}
	proc.AddRegion(codeBase, codePages)

	stackBase, err := sp.Alloc.AllocContiguous(abi.UserStackPages)
	if err != nil || stackBase == addr.NoPhysAddr {
		sp.Alloc.FreePages(codeBase, codePages)
		undoProcess()
		return nil, nil, ErrNoMemory
	}
	for i := uint64(0); i < abi.UserStackPages; i++ {
		va := addr.VirtAddr(abi.UserStackTop - (i+1)*addr.PageSize)
		pa := stackBase + addr.PhysAddr(i*addr.PageSize)
		if err := space.Map(va, pa, mmu.UserRW); err != nil {
			sp.Alloc.FreePages(stackBase, abi.UserStackPages)
			sp.Alloc.FreePages(codeBase, codePages)
			undoProcess()
			return nil, nil, err
		}
	}
	proc.AddRegion(stackBase, abi.UserStackPages)

	kstackBase, err := sp.Alloc.AllocContiguous(abi.KernelStackPages)
	if err != nil || kstackBase == addr.NoPhysAddr {
		sp.Alloc.FreePages(stackBase, abi.UserStackPages)
		sp.Alloc.FreePages(codeBase, codePages)
		undoProcess()
		return nil, nil, ErrNoMemory
	}
	proc.AddRegion(kstackBase, abi.KernelStackPages)

	thr, err := sp.Sched.NewThread(proc, priority, true)
	if err != nil {
		sp.Alloc.FreePages(kstackBase, abi.KernelStackPages)
		sp.Alloc.FreePages(stackBase, abi.UserStackPages)
		sp.Alloc.FreePages(codeBase, codePages)
		undoProcess()
		return nil, nil, err
	}

	thr.FirstRun = true
	thr.IsUser = true
	thr.UserSP = addr.VirtAddr(abi.UserStackTop)
	thr.KernelStackBase = kstackBase
	thr.Ctx.SP = uint64(abi.UserStackTop)
	thr.Ctx.PC = uint64(abi.UserCodeBase) + uint64(img.EntryOffset)

	return proc, thr, nil
}
