// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bin

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/embeddedgo/feltool/internal/image"
	"github.com/embeddedgo/feltool/internal/util"
)

const Descr = "convert an ELF file to a binary image"

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
		out = strings.TrimSuffix(elf, ".elf") + ".bin"
	}
	data, err := os.ReadFile(elf)
	util.FatalErr("", err)
	raw, base, err := image.Raw(data)
	util.FatalErr("", err)
	fmt.Fprintf(os.Stderr, "%s: %d bytes at 0x%08x\n", out, len(raw), base)
	util.FatalErr("", os.WriteFile(out, raw, 0666))
}
