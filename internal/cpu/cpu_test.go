/*
 * rv64sim - CPU core tests and shared fakes.
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

// fakeBus is a flat byte array standing in for internal/bus in unit tests
// that only need to exercise the hart, not the device map.
type fakeBus struct {
	mem  [1 << 16]byte
	meip bool
	seip bool
	mtip bool
	msip bool
}

func (b *fakeBus) Read(paddr uint64, size int) (uint64, bool) {
	if paddr+uint64(size) > uint64(len(b.mem)) {
		return 0, false
	}
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(b.mem[paddr+uint64(i)]) << (8 * i)
	}
	return v, true
}

func (b *fakeBus) Write(paddr uint64, size int, value uint64) bool {
	if paddr+uint64(size) > uint64(len(b.mem)) {
		return false
	}
	for i := 0; i < size; i++ {
		b.mem[paddr+uint64(i)] = byte(value >> (8 * i))
	}
	return true
}

func (b *fakeBus) Tick() {}

func (b *fakeBus) PendingInterrupt() (meip, seip, mtip, msip bool) {
	return b.meip, b.seip, b.mtip, b.msip
}

// fakeMmu is Sv-bare: every address translates to itself.
type fakeMmu struct{}

func (fakeMmu) Translate(addr uint64, kind AccessKind, mode Mode, mstatus uint64) (uint64, *Exception) {
	return addr, nil
}
func (fakeMmu) Flush(asid int64, addr int64) {}
func (fakeMmu) SetSatp(value uint64)         {}

func newTestCpu() (*Cpu, *fakeBus) {
	bus := &fakeBus{}
	c := NewCpu(bus, fakeMmu{})
	return c, bus
}

func storeWord(bus *fakeBus, addr uint64, word uint32) {
	bus.Write(addr, 4, uint64(word))
}

func TestCpuResetBootContract(t *testing.T) {
	c, _ := newTestCpu()
	if c.Mode() != Machine {
		t.Fatalf("mode = %v, want Machine", c.Mode())
	}
	if c.Gpr.Read(10) != 0 {
		t.Fatalf("a0 = %d, want 0 (hartid)", c.Gpr.Read(10))
	}
	if c.State() != Running {
		t.Fatal("hart should start running")
	}
}

func TestCpuStepAddi(t *testing.T) {
	c, bus := newTestCpu()
	storeWord(bus, 0, 0xfff10093) // addi x1, x2, -1
	c.Gpr.Write(2, 10)
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := c.Gpr.Read(1); got != 9 {
		t.Fatalf("x1 = %d, want 9", got)
	}
	if c.Pc() != 4 {
		t.Fatalf("pc = %#x, want 4", c.Pc())
	}
}

func TestCpuIllegalInstructionTraps(t *testing.T) {
	c, bus := newTestCpu()
	storeWord(bus, 0, 0xffffffff)
	c.Csr().write(Mtvec, 0x1000)
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.Pc() != 0x1000 {
		t.Fatalf("pc = %#x, want trap vector 0x1000", c.Pc())
	}
	if c.Csr().read(Mcause) != uint64(CauseIllegalInstruction) {
		t.Fatalf("mcause = %#x, want IllegalInstruction", c.Csr().read(Mcause))
	}
	if c.Csr().read(Mepc) != 0 {
		t.Fatalf("mepc = %#x, want 0", c.Csr().read(Mepc))
	}
}

func TestCpuWfiHaltsUntilInterruptPending(t *testing.T) {
	c, bus := newTestCpu()
	storeWord(bus, 0, 0x10500073) // wfi
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.State() != Halted {
		t.Fatal("wfi with nothing pending should halt")
	}
	bus.mtip = true
	c.Csr().write(Mie, mtipBit)
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.State() == Halted {
		t.Fatal("a pending, enabled timer interrupt should wake the hart")
	}
}
