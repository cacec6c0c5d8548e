// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package version

import (
	"flag"
	"fmt"
	"os"

	"github.com/embeddedgo/feltool/internal/fel"
	"github.com/embeddedgo/feltool/internal/util"
)

const Descr = "print the identity record of the connected FEL device"

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS]\nOptions:\n", cmd)
		fs.PrintDefaults()
	}
	busAddr := fs.String("usb", "", "select the USB device by `BUS:ADDR`")
	fs.Parse(args)
	if fs.NArg() != 0 {
		fs.Usage()
		os.Exit(1)
	}
	conn, err := fel.Connect(*busAddr)
	util.FatalErr("", err)
	defer conn.Close()
	fmt.Println(conn.Version())
}
