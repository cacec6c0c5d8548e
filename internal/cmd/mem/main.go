// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mem implements the raw memory and register commands: read,
// write, exec, hexdump, read32, write32, sid, reset.
package mem

import (
	"flag"
	"fmt"
	"os"

	"github.com/embeddedgo/feltool/internal/fel"
	"github.com/embeddedgo/feltool/internal/util"
)

const (
	DescrRead    = "read a memory range into a file"
	DescrWrite   = "write a file into memory"
	DescrExec    = "jump to an address on the device"
	DescrHexdump = "print a memory range as a hex dump"
	DescrRead32  = "read a 32-bit register through an on-device stub"
	DescrWrite32 = "write a 32-bit register through an on-device stub"
	DescrSid     = "print the chip identifier (SID) bits"
	DescrReset   = "reset the device via the watchdog"
)

// D1 register addresses used by the register level commands.
const (
	sidBase  = 0x0300_6200
	resetReg = 0x0205_00a8
	resetVal = 0x16aa<<16 | 1
)

var usage = map[string]string{
	"read":    "ADDRESS LENGTH [FILE]",
	"write":   "ADDRESS FILE",
	"exec":    "ADDRESS",
	"hexdump": "ADDRESS LENGTH",
	"read32":  "ADDRESS",
	"write32": "ADDRESS VALUE",
	"sid":     "",
	"reset":   "",
}

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(
			os.Stderr, "Usage:\n  %s [OPTIONS] %s\nOptions:\n",
			cmd, usage[cmd],
		)
		fs.PrintDefaults()
	}
	busAddr := fs.String("usb", "", "select the USB device by `BUS:ADDR`")
	fs.Parse(args)

	conn, err := fel.Connect(*busAddr)
	util.FatalErr("", err)
	defer conn.Close()

	switch cmd {
	case "read":
		read(conn, fs)
	case "write":
		write(conn, fs)
	case "exec":
		addr := argAddr(fs, 1, 0)
		util.FatalErr("", conn.Exec(addr))
	case "hexdump":
		addr := argAddr(fs, 2, 0)
		n, err := util.ParseSize(fs.Arg(1))
		util.FatalErr("", err)
		buf := make([]byte, n)
		util.FatalErr("", conn.ReadMemory(addr, buf))
		hexdump(os.Stdout, addr, buf)
	case "read32":
		addr := argAddr(fs, 1, 0)
		r := fel.NewRunner(conn)
		val, err := r.ReadReg(addr)
		util.FatalErr("", err)
		fmt.Printf("0x%08x: 0x%08x\n", addr, val)
	case "write32":
		addr := argAddr(fs, 2, 0)
		val, err := util.ParseValue(fs.Arg(1))
		util.FatalErr("", err)
		if val>>32 != 0 {
			util.Fatal("value 0x%x does not fit in 32 bits", val)
		}
		r := fel.NewRunner(conn)
		util.FatalErr("", r.WriteReg(addr, uint32(val)))
	case "sid":
		sid(conn)
	case "reset":
		r := fel.NewRunner(conn)
		util.FatalErr("", r.WriteReg(resetReg, resetVal))
	}
}

func argAddr(fs *flag.FlagSet, narg, i int) uint32 {
	if fs.NArg() != narg {
		fs.Usage()
		os.Exit(1)
	}
	addr, err := util.ParseAddr32(fs.Arg(i))
	util.FatalErr("", err)
	return addr
}

func read(conn *fel.Conn, fs *flag.FlagSet) {
	if fs.NArg() < 2 || fs.NArg() > 3 {
		fs.Usage()
		os.Exit(1)
	}
	addr, err := util.ParseAddr32(fs.Arg(0))
	util.FatalErr("", err)
	n, err := util.ParseSize(fs.Arg(1))
	util.FatalErr("", err)
	buf := make([]byte, n)
	util.FatalErr("", conn.ReadMemory(addr, buf))
	w := os.Stdout
	if name := fs.Arg(2); name != "" && name != "-" {
		w, err = os.Create(name)
		util.FatalErr("", err)
		defer w.Close()
	}
	_, err = w.Write(buf)
	util.FatalErr("", err)
}

func write(conn *fel.Conn, fs *flag.FlagSet) {
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}
	addr, err := util.ParseAddr32(fs.Arg(0))
	util.FatalErr("", err)
	data, err := os.ReadFile(fs.Arg(1))
	util.FatalErr("", err)
	util.FatalErr("", conn.WriteMemory(addr, data))
}

func sid(conn *fel.Conn) {
	r := fel.NewRunner(conn)
	var sid [16]byte
	for i := 0; i < 4; i++ {
		w, err := r.ReadReg(sidBase + uint32(i)*4)
		util.FatalErr("sid", err)
		sid[i*4] = byte(w)
		sid[i*4+1] = byte(w >> 8)
		sid[i*4+2] = byte(w >> 16)
		sid[i*4+3] = byte(w >> 24)
	}
	fmt.Printf("sid (%s): %x\n", conn.Version().ChipName(), sid[:])
}

func hexdump(w *os.File, addr uint32, p []byte) {
	for off := 0; off < len(p); off += 16 {
		fmt.Fprintf(w, "%08x ", addr+uint32(off))
		row := p[off:min(off+16, len(p))]
		for i := 0; i < 16; i++ {
			if i == 8 {
				fmt.Fprint(w, " ")
			}
			if i < len(row) {
				fmt.Fprintf(w, " %02x", row[i])
			} else {
				fmt.Fprint(w, "   ")
			}
		}
		fmt.Fprint(w, "  |")
		for _, b := range row {
			if b < ' ' || b > '~' {
				b = '.'
			}
			fmt.Fprintf(w, "%c", b)
		}
		fmt.Fprintln(w, "|")
	}
}
