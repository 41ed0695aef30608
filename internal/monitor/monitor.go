/*
 * rv64sim - Interactive monitor.
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

// Package monitor implements the interactive line-oriented debugger:
// step, regs, csr, mem, break, continue, quit. It drives a
// machine.Machine the same way main.go's free-run mode does, just one
// step (or a breakpoint-bounded run) at a time.
package monitor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/riscvsim/rv64sim/internal/cpu"
	"github.com/riscvsim/rv64sim/internal/machine"
	"github.com/riscvsim/rv64sim/util/hexfmt"
)

var csrByName = map[string]uint16{
	"mstatus": cpu.Mstatus, "misa": cpu.Misa, "medeleg": cpu.Medeleg,
	"mideleg": cpu.Mideleg, "mie": cpu.Mie, "mtvec": cpu.Mtvec,
	"mscratch": cpu.Mscratch, "mepc": cpu.Mepc, "mcause": cpu.Mcause,
	"mtval": cpu.Mtval, "mip": cpu.Mip, "mhartid": cpu.Mhartid,
	"mcycle": cpu.Mcycle, "minstret": cpu.Minstret,
	"sstatus": cpu.Sstatus, "sie": cpu.Sie, "stvec": cpu.Stvec,
	"sscratch": cpu.Sscratch, "sepc": cpu.Sepc, "scause": cpu.Scause,
	"stval": cpu.Stval, "sip": cpu.Sip, "satp": cpu.Satp,
	"time": cpu.Time, "cycle": cpu.Cycle, "instret": cpu.Instret,
}

// Monitor is a REPL over a running Machine.
type Monitor struct {
	m          *machine.Machine
	breakpoint map[uint64]bool
}

// New builds a monitor over m.
func New(m *machine.Machine) *Monitor {
	return &Monitor{m: m, breakpoint: make(map[uint64]bool)}
}

// Run drives the liner-backed prompt loop until "quit" or EOF.
func (mon *Monitor) Run() {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(s string) []string {
		return completions(s)
	})

	for {
		command, err := line.Prompt("rv64sim> ")
		if err == nil {
			line.AppendHistory(command)
			quit, procErr := mon.process(command)
			if procErr != nil {
				fmt.Println("error: " + procErr.Error())
			}
			if quit {
				return
			}
			continue
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return
		}
		return
	}
}

var commandNames = []string{"step", "regs", "csr", "mem", "break", "delete", "continue", "pc", "quit", "help"}

func completions(prefix string) []string {
	var out []string
	for _, c := range commandNames {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// process runs one command line, returning quit=true when the monitor
// should exit.
func (mon *Monitor) process(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "quit", "q", "exit":
		return true, nil
	case "help", "h", "?":
		mon.help()
	case "step", "s":
		return false, mon.step(fields[1:])
	case "continue", "c":
		return false, mon.cont()
	case "regs", "r":
		mon.regs()
	case "pc":
		fmt.Println(hexfmt.Dword(mon.m.Cpu.Pc()))
	case "csr":
		return false, mon.csr(fields[1:])
	case "mem", "m":
		return false, mon.mem(fields[1:])
	case "break", "b":
		return false, mon.setBreak(fields[1:])
	case "delete", "d":
		return false, mon.delBreak(fields[1:])
	default:
		return false, fmt.Errorf("unknown command %q (try \"help\")", fields[0])
	}
	return false, nil
}

func (mon *Monitor) help() {
	fmt.Println("commands: step [n], continue, regs, pc, csr <name>, mem <addr> <len>, break <addr>, delete <addr>, quit")
}

func (mon *Monitor) step(args []string) error {
	n := uint64(1)
	if len(args) > 0 {
		v, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return err
		}
		n = v
	}
	for i := uint64(0); i < n; i++ {
		if err := mon.m.Step(); err != nil {
			return err
		}
		fmt.Printf("pc=%s\n", hexfmt.Dword(mon.m.Cpu.Pc()))
	}
	return nil
}

func (mon *Monitor) cont() error {
	for {
		if mon.m.Cpu.State() == cpu.Halted {
			fmt.Println("halted")
			return nil
		}
		if err := mon.m.Step(); err != nil {
			return err
		}
		if mon.breakpoint[mon.m.Cpu.Pc()] {
			fmt.Printf("breakpoint hit at %s\n", hexfmt.Dword(mon.m.Cpu.Pc()))
			return nil
		}
	}
}

func (mon *Monitor) regs() {
	for i := 0; i < cpu.RegisterCount; i += 2 {
		fmt.Printf("x%-2d %-4s %s   x%-2d %-4s %s\n",
			i, cpu.RegNames[i], hexfmt.Dword(mon.m.Cpu.Gpr.Read(uint32(i))),
			i+1, cpu.RegNames[i+1], hexfmt.Dword(mon.m.Cpu.Gpr.Read(uint32(i+1))))
	}
	fmt.Printf("pc   %s  mode %s\n", hexfmt.Dword(mon.m.Cpu.Pc()), mon.m.Cpu.Mode())
}

func (mon *Monitor) csr(args []string) error {
	if len(args) == 0 {
		for name, addr := range csrByName {
			fmt.Printf("%-10s %s\n", name, hexfmt.Dword(mon.m.Cpu.Csr().Get(addr)))
		}
		return nil
	}
	addr, ok := csrByName[strings.ToLower(args[0])]
	if !ok {
		return fmt.Errorf("unknown csr %q", args[0])
	}
	fmt.Println(hexfmt.Dword(mon.m.Cpu.Csr().Get(addr)))
	return nil
}

func (mon *Monitor) mem(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: mem <addr> [len]")
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return err
	}
	length := uint64(64)
	if len(args) > 1 {
		length, err = strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return err
		}
	}
	buf := make([]byte, length)
	for i := range buf {
		v, ok := mon.m.Bus.Read(addr+uint64(i), 1)
		if !ok {
			return fmt.Errorf("unmapped address %s", hexfmt.Dword(addr+uint64(i)))
		}
		buf[i] = byte(v)
	}
	fmt.Println(hexfmt.Dump(addr, buf))
	return nil
}

func (mon *Monitor) setBreak(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: break <addr>")
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return err
	}
	mon.breakpoint[addr] = true
	return nil
}

func (mon *Monitor) delBreak(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: delete <addr>")
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return err
	}
	delete(mon.breakpoint, addr)
	return nil
}
