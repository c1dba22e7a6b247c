/*
 * mlkernel - interrupt controller and architected timer
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

// Package intc models the GIC-style interrupt controller and the
// architected timer that drives scheduler preemption at 100 Hz.
// Grounded on emu/event's tick-driven channel scheduling, generalized
// from device-completion events to a single periodic timer IRQ line.
package intc

// TickHz is the architected timer's configured rate.
const TickHz = 100

// TimerIRQ is the interrupt id the timer raises, analogous to the
// GIC's PPI 30 on a real virt machine.
const TimerIRQ = 30

// Controller tracks pending interrupt lines and the free-running tick
// counter GET_TICKS(101) reads. It does not model GIC distributor
// register layout byte-for-byte; MAP_DEVICE callers see the allowlist
// region (devmap.Allowlist) as an opaque MMIO window they may map, but
// this kernel's own IRQ delivery goes through Controller directly
// rather than round-tripping through simulated register reads.
type Controller struct {
	ticks   uint64
	pending map[int]bool
}

// New returns an empty controller with no interrupts pending.
func New() *Controller {
	return &Controller{pending: make(map[int]bool)}
}

// Ticks returns the free-running tick count since boot.
func (c *Controller) Ticks() uint64 { return c.ticks }

// Fire marks irq pending; Pending drains and clears it.
func (c *Controller) Fire(irq int) { c.pending[irq] = true }

// Pending reports and clears whether irq is pending.
func (c *Controller) Pending(irq int) bool {
	p := c.pending[irq]
	c.pending[irq] = false
	return p
}

// TimerTick advances the free-running counter by one architected timer
// period and raises TimerIRQ, the only periodic source this kernel
// configures.
func (c *Controller) TimerTick() {
	c.ticks++
	c.Fire(TimerIRQ)
}
