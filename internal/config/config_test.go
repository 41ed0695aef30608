/*
 * rv64sim - Configuration file parser tests.
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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rv64sim.cfg")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesKnownOptions(t *testing.T) {
	path := writeConfig(t, "# a comment\nmemsize 128M\nblk disk.img\ndtb board.dtb\n")
	var m Machine
	if err := Load(path, &m); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.MemSizeBytes != 128*1024*1024 {
		t.Fatalf("MemSizeBytes = %d, want %d", m.MemSizeBytes, 128*1024*1024)
	}
	if m.BlockImage != "disk.img" {
		t.Fatalf("BlockImage = %q, want \"disk.img\"", m.BlockImage)
	}
	if m.DtbPath != "board.dtb" {
		t.Fatalf("DtbPath = %q, want \"board.dtb\"", m.DtbPath)
	}
}

func TestLoadIgnoresBlankLinesAndComments(t *testing.T) {
	path := writeConfig(t, "\n\n   # nothing here\nmem 4096\n")
	var m Machine
	if err := Load(path, &m); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.MemSizeBytes != 4096 {
		t.Fatalf("MemSizeBytes = %d, want 4096", m.MemSizeBytes)
	}
}

func TestLoadRejectsUnknownOption(t *testing.T) {
	path := writeConfig(t, "bogus value\n")
	var m Machine
	if err := Load(path, &m); err == nil {
		t.Fatal("an unknown option key should fail to parse")
	}
}

func TestLoadRejectsMissingValue(t *testing.T) {
	path := writeConfig(t, "memsize\n")
	var m Machine
	if err := Load(path, &m); err == nil {
		t.Fatal("an option with no value should fail to parse")
	}
}

func TestLoadIsCaseInsensitiveOnKeys(t *testing.T) {
	path := writeConfig(t, "MEMSIZE 1K\n")
	var m Machine
	if err := Load(path, &m); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.MemSizeBytes != 1024 {
		t.Fatalf("MemSizeBytes = %d, want 1024", m.MemSizeBytes)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	var m Machine
	if err := Load(filepath.Join(t.TempDir(), "nope.cfg"), &m); err == nil {
		t.Fatal("loading a non-existent file should fail")
	}
}

func TestParseSizeSuffixes(t *testing.T) {
	cases := map[string]uint64{
		"512":  512,
		"4K":   4 * 1024,
		"4k":   4 * 1024,
		"2M":   2 * 1024 * 1024,
		"1G":   1024 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := parseSize(in)
		if err != nil {
			t.Fatalf("parseSize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	if _, err := parseSize("abc"); err == nil {
		t.Fatal("a non-numeric size should fail to parse")
	}
	if _, err := parseSize(""); err == nil {
		t.Fatal("an empty size should fail to parse")
	}
}
