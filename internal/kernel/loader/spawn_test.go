package loader

/*
 * mlkernel - process spawn tests
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

	"mlkernel/internal/kernel/abi"
	"mlkernel/internal/kernel/addr"
	"mlkernel/internal/kernel/devmap"
	"mlkernel/internal/kernel/frame"
	"mlkernel/internal/kernel/mmu"
	"mlkernel/internal/kernel/sched"
)

func newTestSpawner(t *testing.T, totalFrames uint64) (*Spawner, *frame.Allocator) {
	t.Helper()
	ram := frame.NewRAM(totalFrames * addr.PageSize)
	alloc := frame.New(ram, 0)
	asids := mmu.NewASIDPool()
	return &Spawner{
		Alloc: alloc,
		ASIDs: asids,
		Sched: sched.NewScheduler(alloc, asids),
		Devs:  devmap.New(),
	}, alloc
}

// TestSpawnReclaimsOnExitAndWait mirrors S4: free_frames drops on
// spawn and is fully restored after exit+wait.
func TestSpawnReclaimsOnExitAndWait(t *testing.T) {
	sp, alloc := newTestSpawner(t, 512)
	before := alloc.FreeFrames()

	code := make([]byte, 3*addr.PageSize) // exactly 3 code pages
	img := &Image{EntryOffset: 0, Code: code}

	parent, err := sp.Sched.NewProcess(-1, nil)
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}

	proc, thr, err := sp.Spawn(int64(parent.PID), sched.Normal, img)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !thr.FirstRun || !thr.IsUser {
		t.Errorf("expected first-run user thread, got %+v", thr)
	}
	if thr.Ctx.PC != abi.UserCodeBase {
		t.Errorf("PC = %#x, want code base %#x", thr.Ctx.PC, uint64(abi.UserCodeBase))
	}

	minConsumed := uint64(3 + abi.UserStackPages + abi.KernelStackPages)
	if after := alloc.FreeFrames(); after > before-minConsumed {
		t.Errorf("free_frames = %d, want <= %d after spawn", after, before-minConsumed)
	}

	sp.Sched.Exit(proc, 0)
	res, err := sp.Sched.Wait(parent, int64(proc.PID))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if got := alloc.FreeFrames(); got != before {
		t.Errorf("free_frames after reap = %d, want %d", got, before)
	}
}

func TestSpawnFailsCleanlyWhenOutOfMemory(t *testing.T) {
	sp, alloc := newTestSpawner(t, 4) // far too small for stacks + code
	before := alloc.FreeFrames()

	code := make([]byte, 8*addr.PageSize)
	img := &Image{EntryOffset: 0, Code: code}

	parent, _ := sp.Sched.NewProcess(-1, nil)
	_, _, err := sp.Spawn(int64(parent.PID), sched.Normal, img)
	if err == nil {
		t.Fatalf("expected Spawn to fail on an undersized RAM pool")
	}
	if got := alloc.FreeFrames(); got != before {
		t.Errorf("failed spawn leaked frames: before=%d after=%d", before, got)
	}
	if len(sp.Sched.Processes()) != 1 {
		t.Errorf("expected only the parent process slot to remain, got %d processes", len(sp.Sched.Processes()))
	}
}
