// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hex

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/embeddedgo/feltool/internal/image"
	"github.com/embeddedgo/feltool/internal/util"
	"github.com/marcinbor85/gohex"
)

const Descr = "convert an ELF file to the Intel HEX format"

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			"Usage:\n  %s [OPTIONS] ELF [%s]\nOptions:\n",
			cmd, strings.ToUpper(cmd),
		)
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		os.Exit(1)
	}
	elf := fs.Arg(0)
	out := fs.Arg(1)
	if out == "" {
		out = strings.TrimSuffix(elf, ".elf") + ".hex"
	}
	data, err := os.ReadFile(elf)
	util.FatalErr("", err)
	segs, err := image.Segments(data)
	util.FatalErr("", err)
	mem := gohex.NewMemory()
	for _, s := range segs {
		err = mem.AddBinary(uint32(s.Addr), s.Data)
		util.FatalErr("addbinary", err)
	}
	of, err := os.Create(out)
	util.FatalErr("", err)
	defer of.Close()
	err = mem.DumpIntelHex(of, 16)
	util.FatalErr("dumpintelhex", err)
}
