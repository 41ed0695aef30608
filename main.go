/*
 * rv64sim - Main process.
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

package main

import (
	"bufio"
	"log/slog"
	"os"
	"strconv"

	getopt "github.com/pborman/getopt/v2"
	"golang.org/x/term"

	"github.com/riscvsim/rv64sim/internal/config"
	"github.com/riscvsim/rv64sim/internal/cpu"
	"github.com/riscvsim/rv64sim/internal/difftest"
	"github.com/riscvsim/rv64sim/internal/loader"
	"github.com/riscvsim/rv64sim/internal/machine"
	"github.com/riscvsim/rv64sim/internal/monitor"
	"github.com/riscvsim/rv64sim/internal/netconsole"
	"github.com/riscvsim/rv64sim/util/logger"
	"github.com/riscvsim/rv64sim/util/trace"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Log debug to console")
	optImage := getopt.StringLong("image", 'i', "", "Guest image (raw binary or ELF64)")
	optBase := getopt.StringLong("base", 0, "0x80000000", "Load address for a raw image")
	optEntry := getopt.StringLong("entry", 0, "", "Override the entry point")
	optDtb := getopt.StringLong("dtb", 0, "", "Device-tree blob to load")
	optDtbAddr := getopt.StringLong("dtb-addr", 0, "0x87000000", "Address to place the device-tree blob")
	optBlk := getopt.StringLong("blk", 0, "", "Block device backing file")
	optMemMib := getopt.Uint64Long("mem-mib", 0, 128, "DRAM size in MiB")
	optDifftest := getopt.BoolLong("difftest", 0, "Lock-step against a reference model")
	optReference := getopt.StringLong("reference", 0, "", "Reference model: \"self\" for an in-process second machine")
	optHaltPc := getopt.StringLong("halt-pc", 0, "", "Halt the run when PC reaches this address")
	optUartPort := getopt.StringLong("uart-port", 0, "", "host:port to mirror the UART over TCP")
	optTraceFile := getopt.StringLong("trace", 0, "", "Write a per-instruction trace to this file")
	optTraceMask := getopt.Uint64Long("trace-mask", 0, uint64(trace.Cpu), "Trace module bitmask (cpu=1, mmu=2, bus=4, device=8)")
	optRun := getopt.BoolLong("run", 0, "Free-run instead of entering the monitor")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		f, err := os.Create(*optLogFile)
		if err == nil {
			file = f
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	log := slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, optDebug))
	slog.SetDefault(log)

	log.Info("rv64sim started")

	if *optTraceFile != "" {
		tf, err := os.Create(*optTraceFile)
		if err != nil {
			log.Error("creating trace file", "error", err)
			os.Exit(2)
		}
		defer tf.Close()
		trace.SetOutput(tf)
		trace.SetMask(int(*optTraceMask))
	}

	if *optImage == "" {
		log.Error("no guest image specified, use --image")
		os.Exit(2)
	}

	cfg := config.Machine{MemSizeBytes: uint64(*optMemMib) * 1024 * 1024}
	if *optConfig != "" {
		if err := config.Load(*optConfig, &cfg); err != nil {
			log.Error("loading configuration", "error", err)
			os.Exit(2)
		}
	}
	if *optBlk != "" {
		cfg.BlockImage = *optBlk
	}
	if *optDtb != "" {
		cfg.DtbPath = *optDtb
	}

	var consoleSink func(byte)
	sink := func(b byte) {
		if consoleSink != nil {
			consoleSink(b)
			return
		}
		os.Stdout.Write([]byte{b})
	}

	m := machine.New(machine.Config{DramSize: cfg.MemSizeBytes, UartSink: sink})

	if *optUartPort != "" {
		console := netconsole.New(m.Bus.Uart())
		consoleSink = console.Output
		if err := console.Start(*optUartPort); err != nil {
			log.Error("netconsole", "error", err)
			os.Exit(2)
		}
		defer console.Stop()
	}

	base, err := parseUint(*optBase)
	if err != nil {
		log.Error("invalid --base", "error", err)
		os.Exit(2)
	}
	result, err := loader.LoadFile(m.Bus.Dram(), *optImage, base)
	if err != nil {
		log.Error("loading image", "error", err)
		os.Exit(2)
	}
	entry := result.Entry
	if *optEntry != "" {
		entry, err = parseUint(*optEntry)
		if err != nil {
			log.Error("invalid --entry", "error", err)
			os.Exit(2)
		}
	}

	var dtbAddr uint64
	if cfg.DtbPath != "" {
		blob, err := os.ReadFile(cfg.DtbPath)
		if err != nil {
			log.Error("reading dtb", "error", err)
			os.Exit(2)
		}
		addr, err := parseUint(*optDtbAddr)
		if err != nil {
			log.Error("invalid --dtb-addr", "error", err)
			os.Exit(2)
		}
		dtbAddr, err = loader.LoadDtb(m.Bus.Dram(), addr, blob)
		if err != nil {
			log.Error("placing dtb", "error", err)
			os.Exit(2)
		}
	}

	if cfg.BlockImage != "" {
		backend, err := os.OpenFile(cfg.BlockImage, os.O_RDWR, 0)
		if err != nil {
			log.Error("opening block image", "error", err)
			os.Exit(2)
		}
		defer backend.Close()
		info, err := backend.Stat()
		if err != nil {
			log.Error("stat block image", "error", err)
			os.Exit(2)
		}
		m.AttachBlockDevice(backend, info.Size())
	}

	m.Boot(entry, dtbAddr)

	var haltPc uint64
	haveHaltPc := false
	if *optHaltPc != "" {
		haltPc, err = parseUint(*optHaltPc)
		if err != nil {
			log.Error("invalid --halt-pc", "error", err)
			os.Exit(2)
		}
		haveHaltPc = true
	}

	if !*optRun {
		monitor.New(m).Run()
		return
	}

	restore := rawStdin()
	defer restore()
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			b, err := reader.ReadByte()
			if err != nil {
				return
			}
			m.Bus.Uart().PushInput(b)
		}
	}()

	var code int
	if *optDifftest {
		code = runDifftest(m, *optReference, haltPc, haveHaltPc, log)
	} else {
		code = runFree(m, haltPc, haveHaltPc, log)
	}
	restore()
	os.Exit(code)
}

// rawStdin puts the terminal into raw mode so a guest console reading one
// byte at a time (no line discipline, no local echo) sees keystrokes as
// they are typed, the way a real UART would. It is a no-op, returning a
// no-op restorer, when stdin is not a terminal.
func rawStdin() func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}
	}
	return func() { term.Restore(fd, state) }
}

func runFree(m *machine.Machine, haltPc uint64, haveHaltPc bool, log *slog.Logger) int {
	for {
		if haveHaltPc && m.Cpu.Pc() == haltPc {
			break
		}
		if err := m.Step(); err != nil {
			log.Error("host error", "error", err)
			return 2
		}
		if m.Cpu.State() == cpu.Halted {
			break
		}
	}
	return exitCodeFor(m.Cpu.Gpr.Read(10))
}

func runDifftest(m *machine.Machine, reference string, haltPc uint64, haveHaltPc bool, log *slog.Logger) int {
	if reference != "self" {
		log.Error("unsupported --reference (only \"self\" is implemented)")
		return 2
	}
	ref := machine.New(machine.Config{DramSize: uint64(m.Bus.Dram().Size()), UartSink: func(byte) {}})
	copy(ref.Bus.Dram().Bytes(), m.Bus.Dram().Bytes())
	ref.Boot(m.Cpu.Pc(), m.Cpu.Gpr.Read(11))

	h := difftest.New(m, machineReference{ref})
	for {
		if haveHaltPc && m.Cpu.Pc() == haltPc {
			break
		}
		if m.Cpu.State() == cpu.Halted {
			break
		}
		if err := h.Step(); err != nil {
			log.Error("divergence", "error", err)
			return 2
		}
	}
	return exitCodeFor(m.Cpu.Gpr.Read(10))
}

func exitCodeFor(a0 uint64) int {
	if a0 == 0 {
		return 0
	}
	return 1
}

// machineReference satisfies difftest.ReferenceModel over a second,
// independently stepped Machine; used for --reference self.
type machineReference struct {
	m *machine.Machine
}

func (r machineReference) Pc() uint64            { return r.m.Cpu.Pc() }
func (r machineReference) Reg(i int) uint64       { return r.m.Cpu.Gpr.Read(uint32(i)) }
func (r machineReference) Csr(addr uint16) uint64 { return r.m.Cpu.Csr().Get(addr) }
func (r machineReference) Step() error            { return r.m.Step() }
func (r machineReference) SetMemory(addr uint64, data []byte) {
	for i, b := range data {
		r.m.Bus.Write(addr+uint64(i), 1, uint64(b))
	}
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 0, 64)
}
