// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/embeddedgo/feltool/internal/spi"
)

// SPI NOR opcodes.
const (
	norRDSFDP      = 0x5a
	norRDID        = 0x9f
	norRDSR        = 0x05
	norWRSR        = 0x01
	norWREN        = 0x06
	norReadData    = 0x03
	norPageProgram = 0x02
	norSectorErase = 0x20
	norEnter4B     = 0xb7
	norResetEnable = 0x66
	norResetMemory = 0x99
	norGlobalUnl   = 0x98
)

type norChip struct {
	name     string
	id       uint32 // manufacturer + two device bytes
	capacity uint64
	addrLen  int // 3 or 4 address bytes
}

// Known SPI NOR parts, the fallback for chips that carry no SFDP tables.
var norChips = []norChip{
	{"W25X40", 0xef3013, 512 * 1024, 3},
	{"W25Q64JV", 0xef4017, 8 * 1024 * 1024, 3},
	{"W25Q128JVEIQ", 0xefc018, 16 * 1024 * 1024, 3},
	{"W25Q256JVEIQ", 0xef4019, 32 * 1024 * 1024, 4},
	{"GD25D10B", 0xc84011, 128 * 1024, 3},
	{"GD25Q128E", 0xc84018, 16 * 1024 * 1024, 3},
}

const (
	norPageSize   = 256
	norSectorSize = 4096
)

// detectNOR identifies a NOR chip, self-description through SFDP first,
// the JEDEC ID table as the fallback for parts predating SFDP.
func detectNOR(bus spi.Bus) (*Device, error) {
	d, err := detectNORSFDP(bus)
	if err == nil {
		return d, d.norInit()
	}
	if !errors.Is(err, errNoSFDP) {
		return nil, err
	}
	var rx [3]byte
	if err := bus.Transfer([]byte{norRDID}, rx[:]); err != nil {
		return nil, err
	}
	id := uint32(rx[0])<<16 | uint32(rx[1])<<8 | uint32(rx[2])
	for i := range norChips {
		if norChips[i].id == id {
			d := &Device{
				Kind:      NOR,
				Name:      norChips[i].name,
				ID:        append([]byte(nil), rx[:]...),
				Capacity:  norChips[i].capacity,
				PageSize:  norPageSize,
				BlockSize: norSectorSize,
				bus:       bus,
			}
			d.addrLen = norChips[i].addrLen
			d.eraseOp = norSectorErase
			return d, d.norInit()
		}
	}
	return nil, errUnknownChip
}

var errNoSFDP = errors.New("flash: no SFDP data")

const sfdpMaxParams = 6

// sfdpRead reads from the SFDP address space: a 24-bit address and one
// dummy byte follow the opcode.
func sfdpRead(bus spi.Bus, addr uint32, p []byte) error {
	tx := []byte{norRDSFDP, byte(addr >> 16), byte(addr >> 8), byte(addr), 0}
	return bus.Transfer(tx, p)
}

// detectNORSFDP looks for the JEDEC basic flash parameter table among the
// SFDP parameter headers and builds the device geometry from it.
func detectNORSFDP(bus spi.Bus) (*Device, error) {
	var hdr [8]byte
	if err := sfdpRead(bus, 0, hdr[:]); err != nil {
		return nil, err
	}
	if !bytes.Equal(hdr[:4], []byte("SFDP")) {
		return nil, errNoSFDP
	}
	minor, major, nph := hdr[4], hdr[5], hdr[6]
	nparam := min(int(nph)+1, sfdpMaxParams)
	for i := 0; i < nparam; i++ {
		var ph [8]byte
		if err := sfdpRead(bus, uint32(i*8+8), ph[:]); err != nil {
			return nil, err
		}
		if ph[0] != 0x00 || ph[7] != 0xff { // not the basic table
			continue
		}
		table := make([]byte, int(ph[3])*4)
		base := uint32(ph[6])<<16 | uint32(ph[5])<<8 | uint32(ph[4])
		if err := sfdpRead(bus, base, table); err != nil {
			return nil, err
		}
		return norFromSFDP(bus, major, minor, table)
	}
	return nil, errNoSFDP
}

func norFromSFDP(bus spi.Bus, major, minor byte, table []byte) (*Device, error) {
	if len(table) < 64 {
		return nil, errors.New("flash: SFDP basic table too short")
	}
	le := binary.LittleEndian

	capRaw := le.Uint32(table[4:])
	var capacity uint64
	if capRaw&0x8000_0000 != 0 {
		capacity = 1 << uint64(capRaw&0x7fff_ffff-3)
	} else {
		capacity = (uint64(capRaw) + 1) / 8
	}

	dw1 := le.Uint32(table[0:])
	addrLen := 4
	if capacity <= 16*1024*1024 && (dw1>>17)&3 != 2 {
		addrLen = 3
	}

	var erase4, erase32, erase64, erase256 byte
	if dw1&3 == 1 {
		erase4 = byte(dw1 >> 8)
	}
	for _, off := range []int{28, 32, 36} {
		dw := le.Uint32(table[off:])
		for _, half := range []uint32{dw, dw >> 16} {
			switch half & 0xff {
			case 12:
				erase4 = byte(half >> 8)
			case 15:
				erase32 = byte(half >> 8)
			case 16:
				erase64 = byte(half >> 8)
			case 18:
				erase256 = byte(half >> 8)
			}
		}
	}
	blockSize, eraseOp := uint32(4096), byte(norSectorErase)
	switch {
	case erase4 != 0:
		blockSize, eraseOp = 4096, erase4
	case erase32 != 0:
		blockSize, eraseOp = 32*1024, erase32
	case erase64 != 0:
		blockSize, eraseOp = 64*1024, erase64
	case erase256 != 0:
		blockSize, eraseOp = 256*1024, erase256
	}

	var page uint32
	switch {
	case major == 1 && minor < 5:
		page = 1
		if (dw1>>2)&1 == 1 {
			page = 64
		}
	case major == 1:
		dw11 := le.Uint32(table[40:])
		page = 1 << ((dw11 >> 4) & 0xf)
	default:
		page = 256
	}

	d := &Device{
		Kind:      NOR,
		Name:      "SFDP",
		Capacity:  capacity,
		PageSize:  page,
		BlockSize: blockSize,
		bus:       bus,
	}
	d.addrLen = addrLen
	d.eraseOp = eraseOp
	return d, nil
}

func (d *Device) norAddr(buf []byte, addr uint64) []byte {
	if d.addrLen == 4 {
		buf = append(buf, byte(addr>>24))
	}
	return append(buf, byte(addr>>16), byte(addr>>8), byte(addr))
}

// norInit resets the chip and lifts every write protection, the sequence a
// boot ROM leaves undefined.
func (d *Device) norInit() error {
	if err := d.bus.Transfer([]byte{norResetEnable}, nil); err != nil {
		return err
	}
	if err := d.bus.Transfer([]byte{norResetMemory}, nil); err != nil {
		return err
	}
	if err := d.norWaitReady(); err != nil {
		return err
	}
	if err := d.norWriteEnable(); err != nil {
		return err
	}
	if err := d.bus.Transfer([]byte{norGlobalUnl}, nil); err != nil {
		return err
	}
	if err := d.norWaitReady(); err != nil {
		return err
	}
	if err := d.norWriteEnable(); err != nil {
		return err
	}
	if err := d.bus.Transfer([]byte{norWRSR, 0x00}, nil); err != nil {
		return err
	}
	if err := d.norWaitReady(); err != nil {
		return err
	}
	if d.addrLen == 4 {
		if err := d.norWriteEnable(); err != nil {
			return err
		}
		if err := d.bus.Transfer([]byte{norEnter4B}, nil); err != nil {
			return err
		}
		if err := d.norWaitReady(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) norWriteEnable() error {
	return d.bus.Transfer([]byte{norWREN}, nil)
}

func (d *Device) norWaitReady() error {
	for i := 0; i < busyPollLimit; i++ {
		var status [1]byte
		if err := d.bus.Transfer([]byte{norRDSR}, status[:]); err != nil {
			return err
		}
		if status[0]&0x01 == 0 {
			return nil
		}
	}
	return ErrTimeout
}

func (d *Device) norRead(addr uint64, p []byte) error {
	tx := d.norAddr([]byte{norReadData}, addr)
	return d.bus.Transfer(tx, p)
}

func (d *Device) norProgramPage(addr uint64, data []byte) error {
	if err := d.norWriteEnable(); err != nil {
		return err
	}
	tx := d.norAddr([]byte{norPageProgram}, addr)
	tx = append(tx, data...)
	if err := d.bus.Transfer(tx, nil); err != nil {
		return err
	}
	return d.norWaitReady()
}

func (d *Device) norEraseSector(addr uint64) error {
	if err := d.norWriteEnable(); err != nil {
		return err
	}
	tx := d.norAddr([]byte{d.eraseOp}, addr)
	if err := d.bus.Transfer(tx, nil); err != nil {
		return err
	}
	return d.norWaitReady()
}
