/*
 * rv64sim - DRAM device.
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

import "encoding/binary"

// DefaultDramSize is the default DRAM capacity, 128 MiB.
const DefaultDramSize = 128 * 1024 * 1024

// Dram is flat little-endian byte storage. A load from a byte never
// written returns zero, matching Go's zero-initialized slice.
type Dram struct {
	mem []byte
}

// NewDram allocates size bytes of DRAM.
func NewDram(size uint64) *Dram {
	return &Dram{mem: make([]byte, size)}
}

// Size reports the DRAM capacity in bytes.
func (d *Dram) Size() uint64 { return uint64(len(d.mem)) }

// Bytes exposes the backing slice for the loader to populate directly.
func (d *Dram) Bytes() []byte { return d.mem }

func (d *Dram) Load(offset uint64, size int) (uint64, bool) {
	if offset+uint64(size) > uint64(len(d.mem)) {
		return 0, false
	}
	switch size {
	case 1:
		return uint64(d.mem[offset]), true
	case 2:
		return uint64(binary.LittleEndian.Uint16(d.mem[offset:])), true
	case 4:
		return uint64(binary.LittleEndian.Uint32(d.mem[offset:])), true
	case 8:
		return binary.LittleEndian.Uint64(d.mem[offset:]), true
	}
	return 0, false
}

func (d *Dram) Store(offset uint64, size int, value uint64) bool {
	if offset+uint64(size) > uint64(len(d.mem)) {
		return false
	}
	switch size {
	case 1:
		d.mem[offset] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(d.mem[offset:], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(d.mem[offset:], uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(d.mem[offset:], value)
	default:
		return false
	}
	return true
}

func (d *Dram) Tick() {}
