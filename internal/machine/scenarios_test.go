/*
 * rv64sim - End-to-end guest program scenarios.
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

package machine

import (
	"testing"

	"github.com/riscvsim/rv64sim/internal/cpu"
)

// The helpers below assemble instruction words field by field rather than
// spelling out hex literals, the same discipline the cpu package's own
// tests use to keep hand-built machine code checkable by inspection.

func asmR(funct7, rs2, rs1, funct3, rd, opcode uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func asmI(imm uint32, rs1, funct3, rd, opcode uint32) uint32 {
	return (imm&0xfff)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func asmS(imm uint32, rs2, rs1, funct3, opcode uint32) uint32 {
	hi := (imm >> 5) & 0x7f
	lo := imm & 0x1f
	return hi<<25 | rs2<<20 | rs1<<15 | funct3<<12 | lo<<7 | opcode
}

func asmU(imm uint32, rd, opcode uint32) uint32 {
	return (imm & 0xfffff000) | rd<<7 | opcode
}

func addi(rd, rs1 uint32, imm int32) uint32 { return asmI(uint32(imm), rs1, 0x0, rd, 0x13) }
func add(rd, rs1, rs2 uint32) uint32        { return asmR(0x00, rs2, rs1, 0x0, rd, 0x33) }
func sub(rd, rs1, rs2 uint32) uint32        { return asmR(0x20, rs2, rs1, 0x0, rd, 0x33) }
func lui(rd uint32, imm20 uint32) uint32    { return asmU(imm20<<12, rd, 0x37) }
func sd(rs2, rs1 uint32, imm int32) uint32  { return asmS(uint32(imm), rs2, rs1, 0x3, 0x23) }
func sb(rs2, rs1 uint32, imm int32) uint32  { return asmS(uint32(imm), rs2, rs1, 0x0, 0x23) }
func csrrw(rd, csr, rs1 uint32) uint32      { return asmI(csr, rs1, 0x1, rd, 0x73) }

const wfiWord = 0x10500073

func loadProgram(t *testing.T, m *Machine, base uint64, words []uint32) {
	t.Helper()
	for i, w := range words {
		if !m.Bus.Write(base+uint64(4*i), 4, uint64(w)) {
			t.Fatalf("writing word %d at %#x failed", i, base+uint64(4*i))
		}
	}
}

// Scenario 1: compute 1+2, verify it equals 3, and leave a0=0 on success
// (the only halt primitive this CPU has is WFI with no interrupt pending).
func TestScenarioAddComputesSumAndHalts(t *testing.T) {
	m := New(Config{DramSize: 1 << 16})
	m.Boot(0x8000_0000, 0)

	const (
		a0 = 10
		a1 = 11
		a2 = 12
	)
	program := []uint32{
		addi(a0, 0, 1),
		addi(a1, 0, 2),
		add(a0, a0, a1),  // a0 = 3
		addi(a2, 0, 3),
		sub(a0, a0, a2),  // a0 = 0 on success
		wfiWord,
	}
	loadProgram(t, m, 0x8000_0000, program)

	if _, err := m.Run(20); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.Cpu.State() != cpu.Halted {
		t.Fatal("expected the hart to halt at WFI")
	}
	if m.Cpu.Gpr.Read(a0) != 0 {
		t.Fatalf("a0 = %d, want 0", m.Cpu.Gpr.Read(a0))
	}
	if m.Cpu.InstRet() < 3 {
		t.Fatalf("instret = %d, want >= 3", m.Cpu.InstRet())
	}
}

// Scenario 2: a guest-armed timer interrupt fires within a bounded number
// of steps, with mepc left at the instruction after WFI.
func TestScenarioTimerInterruptFires(t *testing.T) {
	m := New(Config{DramSize: 1 << 16})
	m.Boot(0x8000_0000, 0)

	const (
		t0 = 5
		t1 = 6
		t2 = 7
		t3 = 28
		t4 = 29
	)
	const handlerAddr = 0x8000_1000
	const clintMtimecmp = 0x0200_4000 // ClintBase + ClintMtimecmp, lower 12 bits zero

	program := []uint32{
		lui(t0, handlerAddr>>12),
		asmI(32, t0, 0x1, t0, 0x13), // slli t0, t0, 32: lui sign-extends bit 31,
		asmI(32, t0, 0x5, t0, 0x13), // srli t0, t0, 32: so clear the upper half
		csrrw(0, uint32(cpu.Mtvec), t0),
		addi(t1, 0, 0x80), // MTIE bit (mie bit 7)
		csrrw(0, uint32(cpu.Mie), t1),
		addi(t2, 0, 0x8), // MIE bit (mstatus bit 3)
		csrrw(0, uint32(cpu.Mstatus), t2),
		lui(t3, clintMtimecmp>>12),
		addi(t4, 0, 100),
		sd(t4, t3, 0),
		wfiWord,
	}
	loadProgram(t, m, 0x8000_0000, program)
	// Handler: just WFI again so a second spurious fire would be visible.
	loadProgram(t, m, handlerAddr, []uint32{wfiWord})

	wfiAddr := uint64(0x8000_0000 + 4*(len(program)-1))
	afterWfi := wfiAddr + 4

	var fired bool
	for i := 0; i < 200; i++ {
		if err := m.Step(); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
		if m.Cpu.Pc() == handlerAddr {
			fired = true
			break
		}
	}
	if !fired {
		t.Fatal("timer interrupt did not fire within 200 steps")
	}
	if got := m.Cpu.Csr().Get(cpu.Mcause); got != 0x8000_0000_0000_0007 {
		t.Fatalf("mcause = %#x, want 0x8000000000000007", got)
	}
	if got := m.Cpu.Csr().Get(cpu.Mepc); got != afterWfi {
		t.Fatalf("mepc = %#x, want %#x (the instruction after WFI)", got, afterWfi)
	}
}

// Scenario 3: executing the all-zero word traps as an illegal instruction.
func TestScenarioIllegalInstructionTraps(t *testing.T) {
	m := New(Config{DramSize: 1 << 16})
	m.Boot(0x8000_0000, 0)
	m.Bus.Write(0x8000_0000, 4, 0)

	if err := m.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := m.Cpu.Csr().Get(cpu.Mcause); got != uint64(cpu.CauseIllegalInstruction) {
		t.Fatalf("mcause = %d, want %d", got, cpu.CauseIllegalInstruction)
	}
	if got := m.Cpu.Csr().Get(cpu.Mtval); got != 0 {
		t.Fatalf("mtval = %#x, want 0", got)
	}
	if m.Cpu.Pc() != m.Cpu.Csr().Get(cpu.Mtvec) {
		t.Fatalf("pc = %#x, want mtvec %#x", m.Cpu.Pc(), m.Cpu.Csr().Get(cpu.Mtvec))
	}
}

// Scenario 5: bytes stored to the UART's THR register reach stdout (here,
// a byte-collecting sink standing in for the real console).
func TestScenarioUartOutputReachesSink(t *testing.T) {
	var got []byte
	m := New(Config{DramSize: 1 << 16, UartSink: func(b byte) { got = append(got, b) }})
	m.Boot(0x8000_0000, 0)

	const uartBase = 0x1000_0000
	const (
		t0 = 5
		t1 = 6
	)
	program := []uint32{
		lui(t0, uartBase>>12),
		addi(t1, 0, 'H'),
		sb(t1, t0, 0),
		addi(t1, 0, 'I'),
		sb(t1, t0, 0),
		addi(t1, 0, '\n'),
		sb(t1, t0, 0),
		wfiWord,
	}
	loadProgram(t, m, 0x8000_0000, program)

	if _, err := m.Run(20); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(got) != "HI\n" {
		t.Fatalf("uart output = %q, want \"HI\\n\"", got)
	}
}
