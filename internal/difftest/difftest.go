/*
 * rv64sim - Differential-testing harness.
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

// Package difftest lock-steps the simulator against a reference model and
// reports the first point of divergence (spec.md S4.5).
package difftest

import (
	"fmt"
	"strings"

	"github.com/riscvsim/rv64sim/internal/cpu"
	"github.com/riscvsim/rv64sim/internal/machine"
	"github.com/riscvsim/rv64sim/util/hexfmt"
)

// ReferenceModel is an independent implementation the harness lock-steps
// against. Any model satisfying this can stand in for the "golden" side
// of a comparison; nothing in the harness assumes a particular
// implementation.
type ReferenceModel interface {
	Pc() uint64
	Reg(i int) uint64
	Csr(addr uint16) uint64
	SetMemory(addr uint64, data []byte)
	Step() error
}

// WatchedCsrs is the default set of CSRs compared each step, beyond PC
// and the GPRs.
var WatchedCsrs = []uint16{cpu.Mstatus, cpu.Mepc, cpu.Mcause, cpu.Mtval, cpu.Satp, cpu.Sepc, cpu.Scause}

// Divergence reports the first point at which DUT and reference state
// disagree.
type Divergence struct {
	Step      uint64
	Pre       Snapshot
	Post      Snapshot
	Reference Snapshot
	Field     string
}

func (d Divergence) Error() string {
	return fmt.Sprintf("difftest: divergence at step %d in %s (dut=%s reference=%s)",
		d.Step, d.Field, d.Post.describe(d.Field), d.Reference.describe(d.Field))
}

// Snapshot is architectural state captured before or after one step.
type Snapshot struct {
	Pc   uint64
	Gpr  [32]uint64
	Csrs map[uint16]uint64
}

func (s Snapshot) describe(field string) string {
	if field == "pc" {
		return hexfmt.Dword(s.Pc)
	}
	var idx int
	if _, err := fmt.Sscanf(field, "x%d", &idx); err == nil {
		return hexfmt.Dword(s.Gpr[idx])
	}
	var b strings.Builder
	for k, v := range s.Csrs {
		if fmt.Sprintf("csr%#x", k) == field {
			hexfmt.FormatDword(&b, v)
			return b.String()
		}
	}
	return "?"
}

// Harness owns the DUT machine and a reference model for its lifetime,
// never mutating DUT state except by stepping it (spec.md S3
// "Ownership & lifecycle").
type Harness struct {
	Dut        *machine.Machine
	Reference  ReferenceModel
	WatchCsrs  []uint16
	skipNext   bool
	stepCount  uint64
}

// New builds a harness over an already-booted DUT and reference model.
func New(dut *machine.Machine, ref ReferenceModel) *Harness {
	return &Harness{Dut: dut, Reference: ref, WatchCsrs: WatchedCsrs}
}

func (h *Harness) snapshot() Snapshot {
	s := Snapshot{Pc: h.Dut.Cpu.Pc(), Csrs: make(map[uint16]uint64, len(h.WatchCsrs))}
	for i := 0; i < 32; i++ {
		s.Gpr[i] = h.Dut.Cpu.Gpr.Read(uint32(i))
	}
	for _, addr := range h.WatchCsrs {
		s.Csrs[addr] = h.Dut.Cpu.Csr().Get(addr)
	}
	return s
}

func (h *Harness) referenceSnapshot() Snapshot {
	s := Snapshot{Pc: h.Reference.Pc(), Csrs: make(map[uint16]uint64, len(h.WatchCsrs))}
	for i := 0; i < 32; i++ {
		s.Gpr[i] = h.Reference.Reg(i)
	}
	for _, addr := range h.WatchCsrs {
		s.Csrs[addr] = h.Reference.Csr(addr)
	}
	return s
}

// Step runs one instruction on both the DUT and the reference, then
// compares PC, every GPR and the watched CSRs. It returns a *Divergence
// (also satisfying error) on the first mismatch, per spec.md S4.5.
//
// A load from an MMIO device range is a source of legitimate, non-bug
// non-determinism (UART/VirtIO side effects the reference can't see). The
// comparison after a step is skipped once when SkipNextCompare was called
// before it; Step itself does not detect MMIO loads.
func (h *Harness) Step() error {
	pre := h.snapshot()

	if err := h.Dut.Step(); err != nil {
		return err
	}
	if err := h.Reference.Step(); err != nil {
		return err
	}
	h.stepCount++

	post := h.snapshot()
	refPost := h.referenceSnapshot()

	if h.skipNext {
		h.skipNext = false
		return nil
	}

	if post.Pc != refPost.Pc {
		return &Divergence{Step: h.stepCount, Pre: pre, Post: post, Reference: refPost, Field: "pc"}
	}
	for i := 1; i < 32; i++ {
		if post.Gpr[i] != refPost.Gpr[i] {
			return &Divergence{Step: h.stepCount, Pre: pre, Post: post, Reference: refPost, Field: fmt.Sprintf("x%d", i)}
		}
	}
	for _, addr := range h.WatchCsrs {
		if post.Csrs[addr] != refPost.Csrs[addr] {
			return &Divergence{Step: h.stepCount, Pre: pre, Post: post, Reference: refPost, Field: fmt.Sprintf("csr%#x", addr)}
		}
	}
	return nil
}

// SkipNextCompare suppresses the comparison after the next step. Nothing
// in this package calls it: the DUT and bus have no internal signal for
// "that step touched an MMIO device range". It exists for an external
// reference process that knows its own I/O timing and can tell the
// harness to look away for one step. Under --reference self both sides
// read the same UART/VirtIO state deterministically, so self-reference
// runs never need it.
func (h *Harness) SkipNextCompare() {
	h.skipNext = true
}

// Run drives the harness for up to maxSteps steps (0 = unbounded),
// stopping at the first divergence or host error.
func (h *Harness) Run(maxSteps uint64) (uint64, error) {
	var n uint64
	for maxSteps == 0 || n < maxSteps {
		if err := h.Step(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
