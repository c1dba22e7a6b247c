/*
 * mlkernel - simulated PL011 UART
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

package devmap

import (
	"bytes"
	"io"
	"sync"
)

// UART is a minimal simulated PL011: an output byte stream and an
// input queue fed by the operator console, backing the WRITE(40) and
// READ(41) syscalls. Grounded on the byte-FIFO style of emu's terminal
// device models, stripped of the 3270/teletype framing this kernel
// has no use for.
type UART struct {
	mu  sync.Mutex
	out io.Writer
	in  bytes.Buffer
}

// NewUART wraps out (typically the kernel's log/console sink) as the
// UART's transmit side.
func NewUART(out io.Writer) *UART {
	return &UART{out: out}
}

// Write sends p to the UART's output (a privileged-mode write, used by
// the console as well as the WRITE syscall once it has copied the
// user's buffer into kernel-reachable bytes).
func (u *UART) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.out.Write(p)
}

// Feed appends bytes from the operator console into the UART's input
// queue, for a future READ syscall to drain.
func (u *UART) Feed(p []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.in.Write(p)
}

// Read drains up to len(p) queued input bytes without blocking,
// returning (0, io.EOF) if none are queued — READ never blocks in
// this design, matching spec.md's fixed, non-suspending console
// syscalls; callers treat io.EOF as "zero bytes read", not a failure.
func (u *UART) Read(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.in.Read(p)
}
