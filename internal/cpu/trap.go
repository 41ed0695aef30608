/*
 * rv64sim - Trap causes and the trap engine.
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

package cpu

// Cause is a synchronous exception or asynchronous interrupt code, as laid
// out in mcause/scause: bit 63 set means interrupt, the low bits are the
// cause number.
type Cause uint64

const causeInterruptBit Cause = 1 << 63

// Synchronous exception causes (mcause/scause low bits, bit 63 clear).
const (
	CauseInstructionAddressMisaligned Cause = 0
	CauseInstructionAccessFault       Cause = 1
	CauseIllegalInstruction           Cause = 2
	CauseBreakpoint                   Cause = 3
	CauseLoadAddressMisaligned        Cause = 4
	CauseLoadAccessFault              Cause = 5
	CauseStoreAddressMisaligned       Cause = 6
	CauseStoreAccessFault             Cause = 7
	CauseEnvironmentCallFromU         Cause = 8
	CauseEnvironmentCallFromS         Cause = 9
	CauseEnvironmentCallFromM         Cause = 11
	CauseInstructionPageFault         Cause = 12
	CauseLoadPageFault                Cause = 13
	CauseStorePageFault               Cause = 15
)

// Asynchronous interrupt causes (low bits; bit 63 is set when delivered).
const (
	CauseSupervisorSoftwareInterrupt Cause = 1
	CauseMachineSoftwareInterrupt    Cause = 3
	CauseSupervisorTimerInterrupt    Cause = 5
	CauseMachineTimerInterrupt       Cause = 7
	CauseSupervisorExternalInterrupt Cause = 9
	CauseMachineExternalInterrupt    Cause = 11
)

// Exception is a synchronous architectural trap raised by decode or
// execute. It is never returned to the host as a Go error: Cpu.Step
// catches it and drives the trap engine.
type Exception struct {
	Cause Cause
	Tval  uint64
}

func (e Exception) Error() string {
	return "exception " + causeName(e.Cause, false)
}

func causeName(c Cause, async bool) string {
	if async {
		switch c {
		case CauseSupervisorSoftwareInterrupt:
			return "SupervisorSoftwareInterrupt"
		case CauseMachineSoftwareInterrupt:
			return "MachineSoftwareInterrupt"
		case CauseSupervisorTimerInterrupt:
			return "SupervisorTimerInterrupt"
		case CauseMachineTimerInterrupt:
			return "MachineTimerInterrupt"
		case CauseSupervisorExternalInterrupt:
			return "SupervisorExternalInterrupt"
		case CauseMachineExternalInterrupt:
			return "MachineExternalInterrupt"
		}
		return "UnknownInterrupt"
	}
	switch c {
	case CauseInstructionAddressMisaligned:
		return "InstructionAddressMisaligned"
	case CauseInstructionAccessFault:
		return "InstructionAccessFault"
	case CauseIllegalInstruction:
		return "IllegalInstruction"
	case CauseBreakpoint:
		return "Breakpoint"
	case CauseLoadAddressMisaligned:
		return "LoadAddressMisaligned"
	case CauseLoadAccessFault:
		return "LoadAccessFault"
	case CauseStoreAddressMisaligned:
		return "StoreAddressMisaligned"
	case CauseStoreAccessFault:
		return "StoreAccessFault"
	case CauseEnvironmentCallFromU:
		return "EnvironmentCallFromU"
	case CauseEnvironmentCallFromS:
		return "EnvironmentCallFromS"
	case CauseEnvironmentCallFromM:
		return "EnvironmentCallFromM"
	case CauseInstructionPageFault:
		return "InstructionPageFault"
	case CauseLoadPageFault:
		return "LoadPageFault"
	case CauseStorePageFault:
		return "StorePageFault"
	}
	return "UnknownException"
}

// pageFaultFor and accessFaultFor map an access kind to the page-fault/
// access-fault cause pair it raises, per spec.md S4.3 step 1/2/3/4/6/7.
func pageFaultFor(kind AccessKind) Cause {
	switch kind {
	case AccessFetch:
		return CauseInstructionPageFault
	case AccessStore:
		return CauseStorePageFault
	default:
		return CauseLoadPageFault
	}
}

func accessFaultFor(kind AccessKind) Cause {
	switch kind {
	case AccessFetch:
		return CauseInstructionAccessFault
	case AccessStore:
		return CauseStoreAccessFault
	default:
		return CauseLoadAccessFault
	}
}

func misalignedFor(kind AccessKind) Cause {
	switch kind {
	case AccessFetch:
		return CauseInstructionAddressMisaligned
	case AccessStore:
		return CauseStoreAddressMisaligned
	default:
		return CauseLoadAddressMisaligned
	}
}

// takeTrap delivers cause/tval to the CPU per spec.md S4.2 "Trap entry":
// pick the target privilege level via delegation, save epc/cause/tval,
// save prior mode and interrupt-enable, clear the target's interrupt
// enable, switch mode, and jump to the vector.
func (c *Cpu) takeTrap(cause Cause, tval uint64, async bool) {
	code := uint64(cause)
	delegated := cause < 64
	target := Machine
	if c.mode <= Supervisor && delegated {
		var delegReg uint64
		if async {
			delegReg = c.csr.read(Mideleg)
		} else {
			delegReg = c.csr.read(Medeleg)
		}
		if delegReg&(1<<code) != 0 {
			target = Supervisor
		}
	}

	fullCause := code
	if async {
		fullCause |= uint64(causeInterruptBit)
	}

	prevMode := c.mode
	if target == Machine {
		c.csr.write(Mepc, c.pc)
		c.csr.write(Mcause, fullCause)
		c.csr.write(Mtval, tval)
		status := c.csr.read(Mstatus)
		mie := (status >> mstatusMIE) & 1
		status = setField(status, mstatusMPIE, 1, mie)
		status = setField(status, mstatusMIE, 1, 0)
		status = setField(status, mstatusMPP, 2, uint64(prevMode))
		c.csr.write(Mstatus, status)
		c.mode = Machine
		c.pc = c.vectorTarget(c.csr.read(Mtvec), code, async)
	} else {
		c.csr.write(Sepc, c.pc)
		c.csr.write(Scause, fullCause)
		c.csr.write(Stval, tval)
		status := c.csr.read(Mstatus)
		sie := (status >> mstatusSIE) & 1
		status = setField(status, mstatusSPIE, 1, sie)
		status = setField(status, mstatusSIE, 1, 0)
		status = setField(status, mstatusSPP, 1, uint64(prevMode))
		c.csr.write(Mstatus, status)
		c.mode = Supervisor
		c.pc = c.vectorTarget(c.csr.read(Stvec), code, async)
	}
	c.clearReservation()
}

// vectorTarget applies the Direct/Vectored mode encoded in the low two
// bits of a tvec CSR.
func (c *Cpu) vectorTarget(tvec uint64, code uint64, async bool) uint64 {
	base := tvec &^ 0x3
	mode := tvec & 0x3
	if mode == 1 && async {
		return base + 4*code
	}
	return base
}

func setField(reg uint64, shift uint, width uint64, value uint64) uint64 {
	mask := ((uint64(1) << width) - 1) << shift
	return (reg &^ mask) | ((value << shift) & mask)
}
