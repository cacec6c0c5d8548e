// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fel

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	usb "github.com/google/gousb"
)

// transferTimeout bounds every single bulk transfer. The boot ROM is
// deterministic and near-instant; five seconds covers the slowest flash
// stub run.
const transferTimeout = 5 * time.Second

func parseBusAddr(busAddr string) (int, int) {
	s := strings.Split(busAddr, ":")
	if len(s) != 2 {
		return -1, -1
	}
	bus, err := strconv.ParseUint(s[0], 10, 8)
	if err != nil {
		return -1, -1
	}
	dev, err := strconv.ParseUint(s[1], 10, 8)
	if err != nil {
		return -1, -1
	}
	return int(bus), int(dev)
}

// usbTransport owns the whole USB stack for one session: library context,
// device, claimed interface and the two bulk endpoints. It is released
// exactly once, by close, on every exit path of the session.
type usbTransport struct {
	ctx  *usb.Context
	dev  *usb.Device
	done func()
	oe   *usb.OutEndpoint
	ie   *usb.InEndpoint
}

func openUSB(busAddr string) (tr *usbTransport, err error) {
	bus, addr := parseBusAddr(busAddr)
	if busAddr != "" && bus < 0 {
		return nil, errors.New("bad USB device address: " + busAddr)
	}
	ctx := usb.NewContext()
	defer func() {
		if err != nil {
			ctx.Close()
		}
	}()
	var cn, in, an int
	devs, err := ctx.OpenDevices(func(desc *usb.DeviceDesc) bool {
		if bus >= 0 && (desc.Bus != bus || desc.Address != addr) {
			return false
		}
		if desc.Vendor != VendorAllwinner || desc.Product != ProductFEL {
			return false
		}
		for _, cfg := range desc.Configs {
			for _, id := range cfg.Interfaces {
				for _, is := range id.AltSettings {
					if len(is.Endpoints) == 2 {
						cn, in, an = cfg.Number, id.Number, is.Alternate
						return true
					}
				}
			}
		}
		return false
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		if errors.Is(err, usb.ErrorAccess) {
			return nil, ErrPermissionDenied
		}
		return nil, err
	}
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	if len(devs) != 1 {
		for _, d := range devs {
			d.Close()
		}
		return nil, errors.New("found more than one FEL device, select one with BUS:DEV")
	}
	dev := devs[0]
	defer func() {
		if err != nil {
			dev.Close()
		}
	}()
	dev.SetAutoDetach(true)

	cfg, err := dev.Config(cn)
	if err != nil {
		return nil, err
	}
	intf, err := cfg.Interface(in, an)
	if err != nil {
		return nil, err
	}
	var rxn, txn int
	for _, ed := range intf.Setting.Endpoints {
		if ed.Direction == usb.EndpointDirectionIn {
			rxn = ed.Number
		} else {
			txn = ed.Number
		}
	}
	if rxn == 0 || txn == 0 {
		return nil, errors.New("want one bulk IN and one bulk OUT endpoint")
	}
	ie, err := intf.InEndpoint(rxn)
	if err != nil {
		return nil, err
	}
	oe, err := intf.OutEndpoint(txn)
	if err != nil {
		return nil, err
	}
	done := func() {
		intf.Close()
		cfg.Close()
	}
	return &usbTransport{ctx: ctx, dev: dev, done: done, oe: oe, ie: ie}, nil
}

func (t *usbTransport) send(p []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), transferTimeout)
	defer cancel()
	for len(p) > 0 {
		n, err := t.oe.WriteContext(ctx, p)
		if err != nil {
			return mapTransferErr(err)
		}
		p = p[n:]
	}
	return nil
}

func (t *usbTransport) recv(p []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), transferTimeout)
	defer cancel()
	for len(p) > 0 {
		n, err := t.ie.ReadContext(ctx, p)
		if err != nil {
			return mapTransferErr(err)
		}
		if n == 0 {
			return ErrTransport
		}
		p = p[n:]
	}
	return nil
}

func (t *usbTransport) close() error {
	t.done()
	t.dev.Close()
	return t.ctx.Close()
}

func mapTransferErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, usb.TransferTimedOut),
		errors.Is(err, usb.ErrorTimeout):
		return ErrTimeout
	}
	return errors.Join(ErrTransport, err)
}
