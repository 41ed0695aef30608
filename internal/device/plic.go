/*
 * rv64sim - PLIC (platform-level interrupt controller) device.
 *
 * Copyright 2024, Richard Cornwell
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

package device

// PLIC source numbers used by this machine's device map.
const (
	VirtioIrq = 1
	UartIrq   = 10

	numSources = 32
)

// PLIC contexts: one hart, M-mode and S-mode each get their own enable,
// threshold and claim/complete register set.
const (
	ContextMachine    = 0
	ContextSupervisor = 1
	numContexts       = 2
)

// PLIC register ranges, the SiFive layout also used by QEMU's virt board.
const (
	PlicPriorityBase  = 0x000000
	PlicPendingBase   = 0x001000
	PlicEnableBase    = 0x002000
	PlicEnableStride  = 0x80
	PlicContextBase   = 0x200000
	PlicContextStride = 0x1000
)

// Plic is the platform-level interrupt controller: it multiplexes
// device-raised source lines into mip.SEIP/MEIP for the one hart this
// machine models (spec.md S4.4 "PLIC").
type Plic struct {
	priority [numSources]uint32
	pending  uint32
	enable   [numContexts]uint32
	threshold [numContexts]uint32
}

// NewPlic builds a PLIC with every source masked and at priority zero.
func NewPlic() *Plic {
	return &Plic{}
}

// Raise asserts a source's pending bit. Devices call this when a
// condition that should interrupt becomes true (spec.md S4.4 UART/VirtIO).
func (p *Plic) Raise(source int) {
	if source > 0 && source < numSources {
		p.pending |= 1 << uint(source)
	}
}

// Lower clears a source's pending bit directly, for level-triggered
// sources whose condition has gone away without a claim.
func (p *Plic) Lower(source int) {
	if source > 0 && source < numSources {
		p.pending &^= 1 << uint(source)
	}
}

func (p *Plic) Load(offset uint64, size int) (uint64, bool) {
	if size != 4 {
		return 0, false
	}
	switch {
	case offset >= PlicPriorityBase && offset < PlicPriorityBase+4*numSources:
		src := (offset - PlicPriorityBase) / 4
		return uint64(p.priority[src]), true
	case offset == PlicPendingBase:
		return uint64(p.pending), true
	case offset >= PlicEnableBase && offset < PlicEnableBase+numContexts*PlicEnableStride:
		ctx := (offset - PlicEnableBase) / PlicEnableStride
		return uint64(p.enable[ctx]), true
	case offset >= PlicContextBase:
		ctx := (offset - PlicContextBase) / PlicContextStride
		if ctx >= numContexts {
			return 0, false
		}
		reg := (offset - PlicContextBase) % PlicContextStride
		switch reg {
		case 0:
			return uint64(p.threshold[ctx]), true
		case 4:
			return uint64(p.claim(int(ctx))), true
		}
	}
	return 0, false
}

func (p *Plic) Store(offset uint64, size int, value uint64) bool {
	if size != 4 {
		return false
	}
	v := uint32(value)
	switch {
	case offset >= PlicPriorityBase && offset < PlicPriorityBase+4*numSources:
		src := (offset - PlicPriorityBase) / 4
		p.priority[src] = v
		return true
	case offset == PlicPendingBase:
		p.pending = v
		return true
	case offset >= PlicEnableBase && offset < PlicEnableBase+numContexts*PlicEnableStride:
		ctx := (offset - PlicEnableBase) / PlicEnableStride
		p.enable[ctx] = v
		return true
	case offset >= PlicContextBase:
		ctx := (offset - PlicContextBase) / PlicContextStride
		if ctx >= numContexts {
			return false
		}
		reg := (offset - PlicContextBase) % PlicContextStride
		switch reg {
		case 0:
			p.threshold[ctx] = v
			return true
		case 4:
			p.complete(int(ctx), int(v))
			return true
		}
	}
	return false
}

func (p *Plic) Tick() {}

// claim returns the highest-priority pending, enabled source above this
// context's threshold, and clears its pending bit.
func (p *Plic) claim(ctx int) uint32 {
	best, bestPrio := 0, uint32(0)
	for src := 1; src < numSources; src++ {
		if p.pending&(1<<uint(src)) == 0 {
			continue
		}
		if p.enable[ctx]&(1<<uint(src)) == 0 {
			continue
		}
		if p.priority[src] <= p.threshold[ctx] {
			continue
		}
		if p.priority[src] > bestPrio {
			best, bestPrio = src, p.priority[src]
		}
	}
	if best != 0 {
		p.pending &^= 1 << uint(best)
	}
	return uint32(best)
}

// complete is a no-op and ignores both arguments: a level-triggered
// source already cleared its pending bit on claim and re-raises itself
// through Raise() if its condition is still true.
func (p *Plic) complete(ctx int, source int) {}

// Pending reports whether a context has an enabled source above threshold
// still asserted, the signal the bus ORs into mip.MEIP/SEIP each step.
func (p *Plic) Pending(ctx int) bool {
	for src := 1; src < numSources; src++ {
		if p.pending&(1<<uint(src)) == 0 {
			continue
		}
		if p.enable[ctx]&(1<<uint(src)) == 0 {
			continue
		}
		if p.priority[src] > p.threshold[ctx] {
			return true
		}
	}
	return false
}
