/*
 * rv64sim - Masked module trace logging.
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

// Package trace is a bitmask-gated instruction/device tracer, the same
// shape as the teacher's per-module debug logger: a module registers a
// bit, callers pass their module's bit plus the currently enabled mask,
// and the write only happens when the two overlap.
package trace

import (
	"fmt"
	"os"
)

// Module bits, one per subsystem that can be traced independently.
const (
	Cpu = 1 << iota
	Mmu
	Bus
	Device
)

var (
	out  *os.File
	mask int
)

// SetOutput directs trace output at file; nil disables tracing entirely
// regardless of mask.
func SetOutput(file *os.File) {
	out = file
}

// SetMask selects which module bits are active.
func SetMask(m int) {
	mask = m
}

// Enabled reports whether module's bit is currently active and there is
// somewhere to write it.
func Enabled(module int) bool {
	return out != nil && mask&module != 0
}

// Tracef writes one line if module is enabled, gated before formatting so
// disabled tracing costs one branch and nothing else.
func Tracef(module int, format string, a ...interface{}) {
	if !Enabled(module) {
		return
	}
	fmt.Fprintf(out, format+"\n", a...)
}
