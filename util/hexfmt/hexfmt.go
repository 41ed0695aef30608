/*
 * rv64sim - Hex formatting for registers and memory dumps.
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

// Package hexfmt formats 64-bit words the way the monitor and the difftest
// harness print them: fixed-width hex, no "0x" prefix, built with a
// strings.Builder the way util/hex does for the 32-bit word case.
package hexfmt

import "strings"

var hexMap = "0123456789abcdef"

// FormatDword writes a 64-bit value as sixteen hex digits.
func FormatDword(str *strings.Builder, v uint64) {
	shift := 60
	for range 16 {
		str.WriteByte(hexMap[(v>>uint(shift))&0xf])
		shift -= 4
	}
}

// FormatWord writes a 32-bit value as eight hex digits.
func FormatWord(str *strings.Builder, v uint32) {
	shift := 28
	for range 8 {
		str.WriteByte(hexMap[(v>>uint(shift))&0xf])
		shift -= 4
	}
}

// Dword returns FormatDword's output as a standalone string.
func Dword(v uint64) string {
	var b strings.Builder
	FormatDword(&b, v)
	return b.String()
}

// Word returns FormatWord's output as a standalone string.
func Word(v uint32) string {
	var b strings.Builder
	FormatWord(&b, v)
	return b.String()
}

// Dump renders a byte slice as a space-separated hex line, addr-prefixed,
// sixteen bytes per row, the layout the monitor's "mem" command uses.
func Dump(base uint64, data []byte) string {
	var b strings.Builder
	for i := 0; i < len(data); i += 16 {
		if i > 0 {
			b.WriteByte('\n')
		}
		FormatDword(&b, base+uint64(i))
		b.WriteString("  ")
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		for j := i; j < end; j++ {
			b.WriteByte(hexMap[(data[j]>>4)&0xf])
			b.WriteByte(hexMap[data[j]&0xf])
			b.WriteByte(' ')
		}
	}
	return b.String()
}
