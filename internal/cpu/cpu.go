/*
 * rv64sim - CPU core.
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

// Package cpu implements the RV64IMA hart: register file, CSR file,
// decoder, execution engine and trap logic. It never touches physical
// memory directly; all loads, stores and instruction fetches go through
// the Mmu and Bus interfaces so the package stays agnostic of the device
// map it is wired against.
package cpu

import "github.com/riscvsim/rv64sim/util/trace"

// Bus is the physical address space the CPU is wired to: DRAM plus the
// memory-mapped device set. Implemented by internal/bus.
type Bus interface {
	Read(paddr uint64, size int) (uint64, bool)
	Write(paddr uint64, size int, value uint64) bool
	Tick()
	PendingInterrupt() (meip, seip, mtip, msip bool)
}

// Mmu resolves a virtual address to a physical one under the current
// satp/privilege state. Implemented by internal/mmu. Sv-bare (satp.MODE==0)
// implementations simply return addr unchanged.
type Mmu interface {
	Translate(addr uint64, kind AccessKind, mode Mode, mstatus uint64) (uint64, *Exception)
	Flush(asid int64, addr int64)
	SetSatp(value uint64)
}

// Cpu is one RV64IMA hart plus the bus and MMU it is wired to.
type Cpu struct {
	Gpr Gpr
	csr *Csr

	pc   uint64
	mode Mode

	reservationValid bool
	reservationAddr  uint64

	state RunState

	bus Bus
	mmu Mmu

	instret uint64
}

// NewCpu builds a hart wired to the given bus and MMU. Both must be
// non-nil; a MMU that never translates (identity Sv-bare) is still
// required so Step has something to call.
func NewCpu(bus Bus, mmu Mmu) *Cpu {
	c := &Cpu{
		csr: NewCsr(),
		bus: bus,
		mmu: mmu,
	}
	c.Reset()
	return c
}

// Csr exposes the CSR file for the monitor and difftest harness.
func (c *Cpu) Csr() *Csr { return c.csr }

// Pc returns the current program counter.
func (c *Cpu) Pc() uint64 { return c.pc }

// SetPc forces the program counter, used by the loader to set the entry
// point and by the monitor to redirect execution.
func (c *Cpu) SetPc(pc uint64) { c.pc = pc }

// Mode returns the current privilege level.
func (c *Cpu) Mode() Mode { return c.mode }

// State reports whether the hart is running or halted (WFI with nothing
// pending, or an unrecoverable host error).
func (c *Cpu) State() RunState { return c.state }

// Halt stops the hart; Step becomes a no-op until Resume is called.
func (c *Cpu) Halt() { c.state = Halted }

// Resume clears a halt, e.g. when WFI wakes on a pending interrupt.
func (c *Cpu) Resume() { c.state = Running }

// Reset restores the boot contract from spec.md S6: machine mode,
// interrupts disabled, mtvec/satp clear, a0 = hart id 0.
func (c *Cpu) Reset() {
	c.Gpr.Reset()
	c.csr.Reset()
	c.mode = Machine
	c.reservationValid = false
	c.state = Running
	c.instret = 0
	c.Gpr.Write(10, 0) // a0 = hartid
	c.mmu.SetSatp(0)
}

// InstRet is the retired-instruction count, mirrored into minstret.
func (c *Cpu) InstRet() uint64 { return c.instret }

func (c *Cpu) clearReservation() {
	c.reservationValid = false
}

// Step executes exactly one instruction, including a leading check for a
// pending interrupt and a trailing tick of the CSR time counter and the
// bus (spec.md S9: "Tick() called once per step is simpler and sufficient").
func (c *Cpu) Step() error {
	c.pollExternal()

	if c.state == Halted {
		if !c.interruptPending() {
			c.bus.Tick()
			c.csr.tick()
			return nil
		}
		c.Resume()
	}

	if cause, ok := c.pendingInterrupt(); ok {
		c.takeTrap(cause, 0, true)
		c.bus.Tick()
		c.csr.tick()
		return nil
	}

	pc := c.pc
	raw, ex := c.fetch(pc)
	if ex != nil {
		c.takeTrap(ex.Cause, ex.Tval, false)
		c.bus.Tick()
		c.csr.tick()
		return nil
	}

	inst, ex := Decode(raw)
	if ex != nil {
		c.takeTrap(ex.Cause, uint64(raw), false)
		c.bus.Tick()
		c.csr.tick()
		return nil
	}
	if trace.Enabled(trace.Cpu) {
		trace.Tracef(trace.Cpu, "%#016x op=%d rd=%d rs1=%d rs2=%d imm=%#x", pc, inst.Op, inst.Rd, inst.Rs1, inst.Rs2, inst.Imm)
	}

	nextPC := pc + uint64(inst.Length)
	if ex := c.execute(inst, pc, &nextPC); ex != nil {
		c.takeTrap(ex.Cause, ex.Tval, false)
	} else {
		c.pc = nextPC
		c.instret++
		c.csr.minstret = c.instret
	}

	c.bus.Tick()
	c.csr.tick()
	return nil
}

func (c *Cpu) pollExternal() {
	meip, seip, mtip, msip := c.bus.PendingInterrupt()
	c.csr.SetExternal(meip, seip, mtip, c.csr.mip&stipBit != 0)
	if msip {
		c.csr.mip |= msipBit
	}
}

// fetch reads one 32-bit instruction word through the MMU and bus.
// Compressed (16-bit) instructions are not supported.
func (c *Cpu) fetch(pc uint64) (uint32, *Exception) {
	if pc&0x1 != 0 {
		return 0, &Exception{Cause: misalignedFor(AccessFetch), Tval: pc}
	}
	paddr, ex := c.mmu.Translate(pc, AccessFetch, c.mode, c.csr.mstatus)
	if ex != nil {
		return 0, ex
	}
	word, ok := c.bus.Read(paddr, 4)
	if !ok {
		return 0, &Exception{Cause: accessFaultFor(AccessFetch), Tval: pc}
	}
	return uint32(word), nil
}

// readMem performs a sized load through the MMU, honouring MPRV/MPP.
func (c *Cpu) readMem(addr uint64, size int) (uint64, *Exception) {
	mode := c.effectiveMode()
	paddr, ex := c.mmu.Translate(addr, AccessLoad, mode, c.csr.mstatus)
	if ex != nil {
		return 0, ex
	}
	v, ok := c.bus.Read(paddr, size)
	if !ok {
		return 0, &Exception{Cause: accessFaultFor(AccessLoad), Tval: addr}
	}
	return v, nil
}

// writeMem performs a sized store through the MMU, honouring MPRV/MPP, and
// clears any outstanding LR/SC reservation that overlaps addr.
func (c *Cpu) writeMem(addr uint64, size int, value uint64) *Exception {
	mode := c.effectiveMode()
	paddr, ex := c.mmu.Translate(addr, AccessStore, mode, c.csr.mstatus)
	if ex != nil {
		return ex
	}
	if !c.bus.Write(paddr, size, value) {
		return &Exception{Cause: accessFaultFor(AccessStore), Tval: addr}
	}
	if c.reservationValid && c.reservationAddr == paddr&^0x7 {
		c.reservationValid = false
	}
	return nil
}

// effectiveMode applies MPRV: when set, loads and stores (never fetches)
// use MPP as the effective privilege instead of the current mode.
func (c *Cpu) effectiveMode() Mode {
	status := c.csr.mstatus
	if status&(1<<mstatusMPRV) == 0 {
		return c.mode
	}
	return Mode((status >> mstatusMPP) & 0x3)
}

// pendingInterrupt implements the priority order from spec.md S4.2:
// MEI > MSI > MTI > SEI > SSI > STI, gated by mie and the current
// mode/mstatus global-enable rules, and by mideleg for S-mode causes.
func (c *Cpu) pendingInterrupt() (Cause, bool) {
	mip := c.csr.mip
	mie := c.csr.mie
	pending := mip & mie
	if pending == 0 {
		return 0, false
	}

	mstatus := c.csr.mstatus
	mEnabled := c.mode < Machine || (mstatus>>mstatusMIE)&1 != 0
	sEnabled := c.mode < Supervisor || (c.mode == Supervisor && (mstatus>>mstatusSIE)&1 != 0)

	mideleg := c.csr.mideleg
	check := func(bit uint64, cause Cause) (Cause, bool) {
		if pending&bit == 0 {
			return 0, false
		}
		delegatedToS := mideleg&bit != 0
		if delegatedToS {
			if c.mode == Machine || !sEnabled {
				return 0, false
			}
		} else if !mEnabled {
			return 0, false
		}
		return cause, true
	}

	if cause, ok := check(meipBit, CauseMachineExternalInterrupt); ok {
		return cause, true
	}
	if cause, ok := check(msipBit, CauseMachineSoftwareInterrupt); ok {
		return cause, true
	}
	if cause, ok := check(mtipBit, CauseMachineTimerInterrupt); ok {
		return cause, true
	}
	if cause, ok := check(seipBit, CauseSupervisorExternalInterrupt); ok {
		return cause, true
	}
	if cause, ok := check(ssipBit, CauseSupervisorSoftwareInterrupt); ok {
		return cause, true
	}
	if cause, ok := check(stipBit, CauseSupervisorTimerInterrupt); ok {
		return cause, true
	}
	return 0, false
}

// interruptPending is the cheap WFI wake-up test: any unmasked-by-mie bit
// set at all, independent of the global enable (spec.md S4.4 "WFI").
func (c *Cpu) interruptPending() bool {
	return c.csr.mip&c.csr.mie != 0
}
