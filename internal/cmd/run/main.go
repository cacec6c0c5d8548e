// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package run implements the end to end flashing pipeline: flatten an ELF
// executable, wrap it in a boot header and burn it into the SPI flash of
// the connected device.
package run

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/embeddedgo/feltool/internal/fel"
	"github.com/embeddedgo/feltool/internal/flash"
	"github.com/embeddedgo/feltool/internal/image"
	"github.com/embeddedgo/feltool/internal/spi"
	"github.com/embeddedgo/feltool/internal/util"
)

const Descr = "flash an ELF executable into the SPI flash and verify it"

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS] -elf PATH\nOptions:\n", cmd)
		fs.PrintDefaults()
	}
	elfPath := fs.String("elf", "", "the executable to flash (required)")
	addr := fs.Uint64("address", 0, "flash `address` to burn the image at")
	tempDir := fs.String(
		"temp-dir", "",
		"`directory` for intermediate files (default: a fresh one)",
	)
	keepTemps := fs.Bool("keep-temps", false, "do not remove intermediate files")
	busAddr := fs.String("usb", "", "select the USB device by `BUS:ADDR`")
	quiet := fs.Bool("quiet", false, "do not print progress information")
	fs.Parse(args)
	if *elfPath == "" || fs.NArg() != 0 {
		fs.Usage()
		os.Exit(1)
	}

	elf, err := os.ReadFile(*elfPath)
	util.FatalErr("", err)
	raw, base, err := image.Raw(elf)
	util.FatalErr("flatten", err)
	glog.V(1).Infof("run: %d raw bytes, load address 0x%08x", len(raw), base)
	img := image.Patch(raw, base)

	// The device is opened before anything lands on disk: with no device
	// present the invocation fails without leaving temp files around.
	conn, err := fel.Connect(*busAddr)
	util.FatalErr("connect", err)
	defer conn.Close()

	dir := *tempDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "feltool-run-")
		util.FatalErr("", err)
	} else {
		util.FatalErr("", os.MkdirAll(dir, 0777))
	}
	if !*keepTemps {
		defer os.RemoveAll(dir)
	} else {
		fmt.Fprintf(os.Stderr, "keeping intermediate files in %s\n", dir)
	}
	err = os.WriteFile(filepath.Join(dir, "firmware.bin"), raw, 0666)
	util.FatalErr("", err)
	err = os.WriteFile(filepath.Join(dir, "firmware.img"), img, 0666)
	util.FatalErr("", err)

	bus, err := spi.Begin(conn)
	util.FatalErr("spi", err)
	dev, err := flash.Detect(bus)
	util.FatalErr("detect", err)
	if !*quiet {
		fmt.Fprintln(os.Stderr, dev)
	}

	n := alignUp(uint64(len(img)), uint64(dev.BlockSize))
	step(dev, "erase", int(n), *quiet)
	util.FatalErr("erase", dev.Erase(*addr, n))
	step(dev, "write", len(img), *quiet)
	util.FatalErr("write", dev.Program(*addr, img))
	step(dev, "verify", len(img), *quiet)
	util.FatalErr("verify", dev.Verify(*addr, img))
}

func step(dev *flash.Device, name string, max int, quiet bool) {
	if quiet {
		dev.Progress = nil
		return
	}
	cur := 0
	dev.Progress = func(n int) {
		cur += n
		util.Progress(name, cur, max, 1024, "KiB")
	}
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) / align * align
}
