/*
 * mlkernel - trap frame
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

// Package trap implements the exception and syscall dispatcher:
// reading the trap frame a (simulated) trampoline would have built,
// switching on the syscall number, calling the scheduler/IPC/loader
// operation it names, and writing the result back per spec.md §4.6's
// leave-x0-alone-if-blocked convention. Grounded on emu/core's
// instruction-dispatch loop (createTable-style opcode switch),
// generalized from ARM opcodes to syscall numbers.
package trap

// Frame is the simulated trampoline's register save area: the
// argument/return registers, the syscall number, and the saved
// exception-link/processor-state needed to resume the interrupted
// context. A real trampoline would push this onto the current stack;
// here it is an explicit Go value the dispatch loop owns directly.
type Frame struct {
	X    [9]uint64 // x0..x8, x8 carries the syscall number on entry
	ELR  uint64    // saved PC to resume at
	SPSR uint64    // saved processor state
	IsUser bool
}

// SetReturn implements ipc.ReturnFrame: writes a rendezvous result
// directly into a frame's return registers, for the direct-handoff
// and Reply paths that fill in a blocked thread's result without it
// ever re-entering the dispatcher.
func (f *Frame) SetReturn(x0, x1, x2 uint64) {
	f.X[0] = x0
	if len(f.X) > 1 {
		f.X[1] = x1
	}
	if len(f.X) > 2 {
		f.X[2] = x2
	}
}

// SyscallNum reads the syscall number the trampoline captured from x8.
func (f *Frame) SyscallNum() uint64 { return f.X[8] }
