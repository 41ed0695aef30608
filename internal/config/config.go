/*
 * rv64sim - Configuration file parser.
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

// Package config reads the machine's configuration file: one "key value"
// pair per line, '#' starts a comment, blank lines are ignored. The
// layout mirrors config/configparser's line-oriented approach, simplified
// for this machine's much smaller option set (memory size and a block
// image path, rather than a whole channel/device topology).
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Machine holds the options a configuration file can set.
type Machine struct {
	MemSizeBytes uint64
	BlockImage   string
	DtbPath      string
}

// optionLine is one line of input and a cursor into it, the same split
// config/configparser uses between raw text and a parse position.
type optionLine struct {
	line string
	pos  int
}

// Load reads a configuration file into an already-defaulted Machine.
func Load(path string, m *Machine) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	lineNumber := 0
	for {
		raw, err := reader.ReadString('\n')
		lineNumber++
		if len(raw) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		l := optionLine{line: raw}
		if parseErr := l.apply(m); parseErr != nil {
			return fmt.Errorf("config: line %d: %w", lineNumber, parseErr)
		}
		if err != nil && errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func (l *optionLine) skipSpace() {
	for l.pos < len(l.line) && unicode.IsSpace(rune(l.line[l.pos])) {
		l.pos++
	}
}

func (l *optionLine) isEOL() bool {
	return l.pos >= len(l.line) || l.line[l.pos] == '#'
}

func (l *optionLine) word() string {
	l.skipSpace()
	start := l.pos
	for l.pos < len(l.line) && !unicode.IsSpace(rune(l.line[l.pos])) && l.line[l.pos] != '#' {
		l.pos++
	}
	return l.line[start:l.pos]
}

func (l *optionLine) apply(m *Machine) error {
	l.skipSpace()
	if l.isEOL() {
		return nil
	}
	key := strings.ToLower(l.word())
	value := l.word()
	if value == "" {
		return fmt.Errorf("option %q requires a value", key)
	}

	switch key {
	case "memsize", "mem":
		size, err := parseSize(value)
		if err != nil {
			return err
		}
		m.MemSizeBytes = size
	case "blk", "blockimage", "disk":
		m.BlockImage = value
	case "dtb":
		m.DtbPath = value
	default:
		return fmt.Errorf("unknown option %q", key)
	}
	return nil
}

// parseSize accepts a plain byte count or a count suffixed with K/M/G
// (binary multiples), e.g. "128M".
func parseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
