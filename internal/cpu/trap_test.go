/*
 * rv64sim - Trap engine tests.
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

import "testing"

func TestTakeTrapUndelegatedGoesToMachine(t *testing.T) {
	c, _ := newTestCpu()
	c.mode = User
	c.pc = 0x400
	c.csr.write(Mtvec, 0x8000)
	c.takeTrap(CauseIllegalInstruction, 0xabcd, false)

	if c.mode != Machine {
		t.Fatalf("mode = %v, want Machine (not delegated)", c.mode)
	}
	if c.pc != 0x8000 {
		t.Fatalf("pc = %#x, want mtvec 0x8000", c.pc)
	}
	if c.csr.read(Mepc) != 0x400 {
		t.Fatalf("mepc = %#x, want 0x400", c.csr.read(Mepc))
	}
	if c.csr.read(Mtval) != 0xabcd {
		t.Fatalf("mtval = %#x, want 0xabcd", c.csr.read(Mtval))
	}
}

func TestTakeTrapDelegatedToSupervisor(t *testing.T) {
	c, _ := newTestCpu()
	c.mode = User
	c.pc = 0x400
	c.csr.write(Medeleg, 1<<uint(CauseIllegalInstruction))
	c.csr.write(Stvec, 0x9000)
	c.takeTrap(CauseIllegalInstruction, 0, false)

	if c.mode != Supervisor {
		t.Fatalf("mode = %v, want Supervisor (delegated)", c.mode)
	}
	if c.pc != 0x9000 {
		t.Fatalf("pc = %#x, want stvec 0x9000", c.pc)
	}
	if c.csr.read(Sepc) != 0x400 {
		t.Fatalf("sepc = %#x, want 0x400", c.csr.read(Sepc))
	}
}

func TestTakeTrapNeverDelegatesOutOfMachineMode(t *testing.T) {
	c, _ := newTestCpu()
	c.mode = Machine
	c.csr.write(Medeleg, 1<<uint(CauseIllegalInstruction))
	c.csr.write(Mtvec, 0x8000)
	c.takeTrap(CauseIllegalInstruction, 0, false)

	if c.mode != Machine {
		t.Fatal("a trap taken while already in M-mode must stay in M-mode regardless of medeleg")
	}
}

func TestVectorTargetDirectVsVectored(t *testing.T) {
	c, _ := newTestCpu()
	if got := c.vectorTarget(0x8000, 5, true); got != 0x8000 {
		t.Fatalf("direct mode target = %#x, want base unchanged", got)
	}
	if got := c.vectorTarget(0x8001, 5, true); got != 0x8000+4*5 {
		t.Fatalf("vectored async target = %#x, want base+4*cause", got)
	}
	if got := c.vectorTarget(0x8001, 5, false); got != 0x8000 {
		t.Fatal("vectored mode only applies to interrupts, not synchronous exceptions")
	}
}
