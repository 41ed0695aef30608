/*
 * rv64sim - Machine: wires the hart, bus and MMU together.
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

// Package machine assembles a hart, a bus and an MMU into the one
// runnable unit that main.go, the monitor and the difftest harness all
// drive through Step.
package machine

import (
	"github.com/riscvsim/rv64sim/internal/bus"
	"github.com/riscvsim/rv64sim/internal/cpu"
	"github.com/riscvsim/rv64sim/internal/device"
	"github.com/riscvsim/rv64sim/internal/mmu"
)

// Machine is one hart plus the bus and devices it is wired to.
type Machine struct {
	Cpu *cpu.Cpu
	Bus *bus.Bus
	Mmu *mmu.Mmu
}

// Config selects the machine's memory size and UART output sink. A nil
// UartSink discards transmitted bytes.
type Config struct {
	DramSize uint64
	UartSink func(byte)
}

// New builds a machine with DRAM, CLINT, PLIC and UART, reset to the
// boot contract in spec.md S6.
func New(cfg Config) *Machine {
	if cfg.DramSize == 0 {
		cfg.DramSize = device.DefaultDramSize
	}
	b := bus.New(cfg.DramSize, cfg.UartSink)
	m := mmu.New(b)
	c := cpu.NewCpu(b, m)
	return &Machine{Cpu: c, Bus: b, Mmu: m}
}

// AttachBlockDevice wires a backing file into the VirtIO-MMIO block
// device.
func (m *Machine) AttachBlockDevice(backend device.BlockBackend, sizeBytes int64) {
	m.Bus.AttachVirtioBlk(backend, sizeBytes)
}

// Boot installs the boot contract from spec.md S6: PC at entry, machine
// mode, interrupts disabled, mtvec/satp clear, a0=hartid=0, a1=dtbAddr.
func (m *Machine) Boot(entry, dtbAddr uint64) {
	m.Cpu.Reset()
	m.Cpu.SetPc(entry)
	m.Cpu.Gpr.Write(11, dtbAddr)
}

// Step runs exactly one instruction.
func (m *Machine) Step() error {
	return m.Cpu.Step()
}

// Run steps the machine until it halts, a step returns an error, or
// maxSteps is reached (0 means unbounded). It returns the number of
// steps actually executed.
func (m *Machine) Run(maxSteps uint64) (uint64, error) {
	var n uint64
	for maxSteps == 0 || n < maxSteps {
		if m.Cpu.State() == cpu.Halted {
			return n, nil
		}
		if err := m.Step(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
