/*
 * rv64sim - Differential-testing harness tests.
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

package difftest

import (
	"testing"

	"github.com/riscvsim/rv64sim/internal/machine"
)

// fakeReference is a trivial ReferenceModel that tracks its own register
// file and PC independently of the DUT, so a test can either mirror the
// DUT's instruction exactly (no divergence) or drift deliberately.
type fakeReference struct {
	pc   uint64
	gpr  [32]uint64
	csrs map[uint16]uint64
	step func(*fakeReference) error
}

func newFakeReference(step func(*fakeReference) error) *fakeReference {
	return &fakeReference{csrs: make(map[uint16]uint64), step: step}
}

func (f *fakeReference) Pc() uint64            { return f.pc }
func (f *fakeReference) Reg(i int) uint64      { return f.gpr[i] }
func (f *fakeReference) Csr(addr uint16) uint64 { return f.csrs[addr] }
func (f *fakeReference) SetMemory(addr uint64, data []byte) {}
func (f *fakeReference) Step() error           { return f.step(f) }

func bootedMachine(t *testing.T) *machine.Machine {
	t.Helper()
	m := machine.New(machine.Config{DramSize: 1 << 16})
	m.Boot(0x8000_0000, 0)
	// addi x1, x1, 1, repeated so Run(N) can execute N identical steps.
	word := uint32(1<<20 | 1<<15 | 0<<12 | 1<<7 | 0x13)
	for pc := uint64(0x8000_0000); pc < 0x8000_0000+4*16; pc += 4 {
		m.Bus.Write(pc, 4, uint64(word))
	}
	return m
}

func TestHarnessStepAgreesWithMirroringReference(t *testing.T) {
	m := bootedMachine(t)
	ref := newFakeReference(func(f *fakeReference) error {
		f.gpr[1]++
		f.pc += 4
		return nil
	})
	ref.pc = 0x8000_0000

	h := New(m, ref)
	for i := 0; i < 4; i++ {
		if err := h.Step(); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	if m.Cpu.Gpr.Read(1) != 4 {
		t.Fatalf("x1 = %d, want 4", m.Cpu.Gpr.Read(1))
	}
}

func TestHarnessStepReportsDivergence(t *testing.T) {
	m := bootedMachine(t)
	ref := newFakeReference(func(f *fakeReference) error {
		f.gpr[1] += 2 // drifts from the DUT's +1 per step
		f.pc += 4
		return nil
	})
	ref.pc = 0x8000_0000

	h := New(m, ref)
	err := h.Step()
	if err == nil {
		t.Fatal("expected a divergence on the first step")
	}
	div, ok := err.(*Divergence)
	if !ok {
		t.Fatalf("error type = %T, want *Divergence", err)
	}
	if div.Field != "x1" {
		t.Fatalf("divergent field = %q, want \"x1\"", div.Field)
	}
}

func TestHarnessRunStopsAtFirstDivergence(t *testing.T) {
	m := bootedMachine(t)
	calls := 0
	ref := newFakeReference(func(f *fakeReference) error {
		calls++
		if calls == 3 {
			f.gpr[1] += 99 // diverges on the third step only
		} else {
			f.gpr[1]++
		}
		f.pc += 4
		return nil
	})
	ref.pc = 0x8000_0000

	h := New(m, ref)
	n, err := h.Run(10)
	if err == nil {
		t.Fatal("expected Run to stop at the third step's divergence")
	}
	if n != 2 {
		t.Fatalf("steps executed before divergence = %d, want 2", n)
	}
}

func TestHarnessSkipNextCompareSuppressesOneMismatch(t *testing.T) {
	m := bootedMachine(t)
	ref := newFakeReference(func(f *fakeReference) error {
		f.gpr[1] += 99 // would normally diverge immediately
		f.pc += 4
		return nil
	})
	ref.pc = 0x8000_0000

	h := New(m, ref)
	h.SkipNextCompare()
	if err := h.Step(); err != nil {
		t.Fatalf("Step with compare suppressed: %v", err)
	}
	// The suppression only applies once; the next step's mismatch reports.
	if err := h.Step(); err == nil {
		t.Fatal("expected a divergence once the suppression is consumed")
	}
}
