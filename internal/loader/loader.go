/*
 * rv64sim - Image loader.
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

// Package loader places a guest image into DRAM: a raw binary at a fixed
// base, or an ELF64 executable loaded per its program headers via the
// standard library's debug/elf reader. No third-party ELF parser is
// warranted here: debug/elf already covers the static, non-relocatable
// executables this simulator boots (DESIGN.md).
package loader

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/riscvsim/rv64sim/internal/bus"
	"github.com/riscvsim/rv64sim/internal/device"
)

// Result is where the loader decided execution should begin.
type Result struct {
	Entry uint64
}

// LoadRaw copies data into DRAM starting at physical address base.
func LoadRaw(dram *device.Dram, base uint64, data []byte) error {
	if base < bus.DramBase || base+uint64(len(data)) > bus.DramBase+dram.Size() {
		return fmt.Errorf("loader: image does not fit in DRAM at %#x (%d bytes)", base, len(data))
	}
	copy(dram.Bytes()[base-bus.DramBase:], data)
	return nil
}

// LoadFile loads path as an ELF64 executable if it carries an ELF magic
// number, or as a raw binary at base otherwise, per spec.md's "boot
// contract": a raw image's entry point is base, an ELF's is its header
// e_entry.
func LoadFile(dram *device.Dram, path string, base uint64) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	if len(data) >= 4 && data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' {
		return loadELF(dram, data)
	}
	if err := LoadRaw(dram, base, data); err != nil {
		return Result{}, err
	}
	return Result{Entry: base}, nil
}

func loadELF(dram *device.Dram, data []byte) (Result, error) {
	f, err := elf.NewFile(bytesReaderAt(data))
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return Result{}, fmt.Errorf("loader: not a 64-bit RISC-V ELF")
	}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		buf := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(buf, 0); err != nil {
			return Result{}, fmt.Errorf("loader: reading segment: %w", err)
		}
		if err := LoadRaw(dram, prog.Vaddr, buf); err != nil {
			return Result{}, err
		}
	}
	return Result{Entry: f.Entry}, nil
}

// LoadDtb places a device-tree blob at addr, returning the address for
// the boot contract's a1 register.
func LoadDtb(dram *device.Dram, addr uint64, blob []byte) (uint64, error) {
	if len(blob) == 0 {
		return 0, nil
	}
	if err := LoadRaw(dram, addr, blob); err != nil {
		return 0, err
	}
	return addr, nil
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, fmt.Errorf("loader: read past end of file")
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("loader: short read")
	}
	return n, nil
}
