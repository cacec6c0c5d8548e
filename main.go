// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Feltool talks to an Allwinner SoC running its boot ROM in FEL mode. It
// reads and writes device memory, runs code on the device, accesses the
// SPI flash and converts and burns boot images.
package main

import (
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/embeddedgo/feltool/internal/cmd/bin"
	"github.com/embeddedgo/feltool/internal/cmd/flash"
	"github.com/embeddedgo/feltool/internal/cmd/hex"
	"github.com/embeddedgo/feltool/internal/cmd/mem"
	"github.com/embeddedgo/feltool/internal/cmd/patch"
	"github.com/embeddedgo/feltool/internal/cmd/run"
	"github.com/embeddedgo/feltool/internal/cmd/version"
)

type tool struct {
	descr string
	main  func(cmd string, args []string)
}

var tools = map[string]tool{
	"bin":     {bin.Descr, bin.Main},
	"exec":    {mem.DescrExec, mem.Main},
	"flash":   {flash.Descr, flash.Main},
	"hex":     {hex.Descr, hex.Main},
	"hexdump": {mem.DescrHexdump, mem.Main},
	"patch":   {patch.Descr, patch.Main},
	"read":    {mem.DescrRead, mem.Main},
	"read32":  {mem.DescrRead32, mem.Main},
	"reset":   {mem.DescrReset, mem.Main},
	"run":     {run.Descr, run.Main},
	"sid":     {mem.DescrSid, mem.Main},
	"version": {version.Descr, version.Main},
	"write":   {mem.DescrWrite, mem.Main},
	"write32": {mem.DescrWrite32, mem.Main},
}

func printToolList() {
	names := slices.Sorted(maps.Keys(tools))
	maxLen := 0
	for _, k := range names {
		if maxLen < len(k) {
			maxLen = len(k)
		}
	}
	uw := os.Stderr
	uw.WriteString("Usage:\n  feltool [GLOBAL OPTIONS] COMMAND [ARGUMENTS]\n\n")
	uw.WriteString("Available commands:\n")
	for _, name := range names {
		fmt.Fprintf(uw, "  %*s  %s\n", maxLen, name, tools[name].descr)
	}
	uw.WriteString("\nGlobal options (logging):\n")
	flag.PrintDefaults()
}

func main() {
	// Global flags (the glog ones) come before the command name.
	flag.Usage = printToolList
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		printToolList()
		return
	}
	tool, ok := tools[args[0]]
	if !ok {
		printToolList()
		os.Exit(1)
	}
	tool.main(args[0], args[1:])
}
