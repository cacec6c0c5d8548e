// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patch

import (
	"flag"
	"fmt"
	"os"

	"github.com/embeddedgo/feltool/internal/image"
	"github.com/embeddedgo/feltool/internal/util"
)

const Descr = "wrap a raw binary in an eGON boot header"

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			"Usage:\n  %s [OPTIONS] BIN [IMG]\nOptions:\n",
			cmd,
		)
		fs.PrintDefaults()
	}
	addr := fs.Uint64("address", 0x0002_0000, "load `address` of the image")
	strip := fs.Bool("strip", false, "remove the header instead of adding it")
	fs.Parse(args)
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		os.Exit(1)
	}
	in := fs.Arg(0)
	out := fs.Arg(1)
	if out == "" {
		out = in
	}
	data, err := os.ReadFile(in)
	util.FatalErr("", err)
	if *strip {
		payload, err := image.Strip(data)
		util.FatalErr("strip", err)
		util.FatalErr("", os.WriteFile(out, payload, 0666))
		return
	}
	if *addr>>32 != 0 {
		util.Fatal("the load address 0x%x doesn't fit in 32 bits", *addr)
	}
	img := image.Patch(data, uint32(*addr))
	fmt.Fprintf(
		os.Stderr, "%s: %d bytes, load address 0x%08x\n",
		out, len(img), uint32(*addr),
	)
	util.FatalErr("", os.WriteFile(out, img, 0666))
}
