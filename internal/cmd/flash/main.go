// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/embeddedgo/feltool/internal/fel"
	"github.com/embeddedgo/feltool/internal/flash"
	"github.com/embeddedgo/feltool/internal/spi"
	"github.com/embeddedgo/feltool/internal/util"
)

const Descr = "access the SPI flash: detect, read, write, erase, verify, splwrite"

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			"Usage:\n  %s [OPTIONS] OPERATION [ARGUMENTS]\n\n"+
				"Operations:\n"+
				"  detect\n"+
				"  read   OFFSET LENGTH FILE\n"+
				"  write  OFFSET FILE\n"+
				"  erase  OFFSET LENGTH\n"+
				"  verify OFFSET FILE\n"+
				"  splwrite SPLIT OFFSET FILE\n\n"+
				"Options:\n",
			cmd,
		)
		fs.PrintDefaults()
	}
	busAddr := fs.String("usb", "", "select the USB device by `BUS:ADDR`")
	quiet := fs.Bool("quiet", false, "do not print progress information")
	fs.Parse(args)
	op := "detect"
	if fs.NArg() > 0 {
		op = fs.Arg(0)
	}

	conn, err := fel.Connect(*busAddr)
	util.FatalErr("", err)
	defer conn.Close()
	bus, err := spi.Begin(conn)
	util.FatalErr("spi", err)
	dev, err := flash.Detect(bus)
	util.FatalErr("detect", err)

	switch op {
	case "detect":
		fmt.Println(dev)
	case "read":
		offset, n := argOffLen(fs, 3)
		buf := make([]byte, n)
		progressBar(dev, op, int(n), *quiet)
		util.FatalErr("read", dev.Read(offset, buf))
		util.FatalErr("", os.WriteFile(fs.Arg(3), buf, 0666))
	case "write":
		offset, data := argOffFile(fs)
		progressBar(dev, op, len(data), *quiet)
		util.FatalErr("write", dev.Program(offset, data))
	case "erase":
		offset, n := argOffLen(fs, 2)
		progressBar(dev, op, int(n), *quiet)
		util.FatalErr("erase", dev.Erase(offset, n))
	case "verify":
		offset, data := argOffFile(fs)
		progressBar(dev, op, len(data), *quiet)
		err := dev.Verify(offset, data)
		var mm *flash.MismatchError
		if errors.As(err, &mm) {
			util.Fatal("verify: mismatch at offset 0x%x", mm.Offset)
		}
		util.FatalErr("verify", err)
	case "splwrite":
		if fs.NArg() != 4 {
			fs.Usage()
			os.Exit(1)
		}
		split, err := util.ParseSize(fs.Arg(1))
		util.FatalErr("", err)
		offset, err := util.ParseValue(fs.Arg(2))
		util.FatalErr("", err)
		data, err := os.ReadFile(fs.Arg(3))
		util.FatalErr("", err)
		util.FatalErr("splwrite", dev.ProgramSPL(offset, data, uint32(split)))
	default:
		fs.Usage()
		os.Exit(1)
	}
}

func argOffLen(fs *flag.FlagSet, narg int) (uint64, uint64) {
	if fs.NArg() != narg+1 {
		fs.Usage()
		os.Exit(1)
	}
	offset, err := util.ParseValue(fs.Arg(1))
	util.FatalErr("", err)
	n, err := util.ParseSize(fs.Arg(2))
	util.FatalErr("", err)
	return offset, n
}

func argOffFile(fs *flag.FlagSet) (uint64, []byte) {
	if fs.NArg() != 3 {
		fs.Usage()
		os.Exit(1)
	}
	offset, err := util.ParseValue(fs.Arg(1))
	util.FatalErr("", err)
	data, err := os.ReadFile(fs.Arg(2))
	util.FatalErr("", err)
	return offset, data
}

// progressBar installs a progress callback on dev that draws a bar for an
// operation of max bytes. The device reports per chunk byte counts.
func progressBar(dev *flash.Device, op string, max int, quiet bool) {
	if quiet || max == 0 {
		return
	}
	cur := 0
	dev.Progress = func(n int) {
		cur += n
		util.Progress(op, cur, max, 1024, "KiB")
	}
}
